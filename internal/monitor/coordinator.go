// Package monitor orchestrates the tracking pipeline: each incoming
// sample is fused by the selector, evaluated by the containment
// tracker against every active fence, and any resulting transitions
// are appended to the event log and handed to the outbound channel.
// All durable state lives in the owned components; the coordinator
// itself keeps none.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/perimeter-tracker/core"
	"github.com/signalsfoundry/perimeter-tracker/internal/eventlog"
	"github.com/signalsfoundry/perimeter-tracker/internal/logging"
	"github.com/signalsfoundry/perimeter-tracker/internal/mesh"
	"github.com/signalsfoundry/perimeter-tracker/internal/roster"
	"github.com/signalsfoundry/perimeter-tracker/model"
)

// Metrics is the observability surface the coordinator drives beyond
// what the tracker records itself. All methods must be safe on a nil
// receiver so tests can run without a collector.
type Metrics interface {
	RecordSample(source model.SourceType)
	RecordPublishFailure()
	SetActiveFences(n int)
	SetPeersInside(fenceID string, n int)
	DropFenceGauge(fenceID string)
	ObserveIngest(seconds float64)
}

// Config carries the coordinator's collaborators. Registry, Selector,
// Tracker, and Log are required; the rest default to no-ops.
type Config struct {
	Registry  *core.FenceRegistry
	Selector  *core.SourceSelector
	Tracker   *core.ContainmentTracker
	Log       *eventlog.Log
	Roster    *roster.Roster
	Publisher mesh.Publisher
	Logger    logging.Logger
	Metrics   Metrics
}

// Coordinator wires the owned components together. It is safe for
// concurrent use; per-peer ordering is enforced by the tracker.
type Coordinator struct {
	registry  *core.FenceRegistry
	selector  *core.SourceSelector
	tracker   *core.ContainmentTracker
	log       *eventlog.Log
	roster    *roster.Roster
	publisher mesh.Publisher
	logger    logging.Logger
	metrics   Metrics
	tracer    trace.Tracer

	unsubscribe func()
}

// New constructs a coordinator and subscribes it to registry changes
// so containment state is torn down when a fence stops being
// monitored. Call Close to detach.
func New(cfg Config) *Coordinator {
	if cfg.Roster == nil {
		cfg.Roster = roster.New()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = mesh.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}

	c := &Coordinator{
		registry:  cfg.Registry,
		selector:  cfg.Selector,
		tracker:   cfg.Tracker,
		log:       cfg.Log,
		roster:    cfg.Roster,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer("perimeter-tracker/monitor"),
	}
	c.unsubscribe = c.registry.Subscribe(c.onFenceEvent)
	return c
}

// Close detaches the coordinator from registry notifications.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// Ingest processes one location sample end to end. It never fails the
// caller for stale or missing-signal samples; those are dropped (and
// counted) per policy. The returned events have been appended to the
// log and handed to the publisher.
func (c *Coordinator) Ingest(ctx context.Context, sample model.Sample) []model.TransitionEvent {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "monitor.Ingest",
		trace.WithAttributes(attribute.String("peer.id", sample.PeerID)))
	defer span.End()

	pos := c.selector.Select(sample)
	c.safeMetrics().RecordSample(pos.Source)
	span.SetAttributes(attribute.String("peer.source", string(pos.Source)))

	events, err := c.tracker.Apply(pos, c.registry.List(core.ListActive))
	if err != nil {
		if errors.Is(err, core.ErrStaleSample) {
			c.logger.Debug(ctx, "dropped stale sample",
				logging.String("peer", sample.PeerID),
				logging.Any("observed_at", sample.ObservedAt))
		} else {
			c.logger.Warn(ctx, "sample apply failed",
				logging.String("peer", sample.PeerID), logging.Err(err))
		}
		c.safeMetrics().ObserveIngest(time.Since(start).Seconds())
		return nil
	}

	if len(events) > 0 {
		for i := range events {
			events[i].PeerNickname, _ = c.roster.Nickname(events[i].PeerID)
		}
		events = c.log.Append(events...)
		for _, ev := range events {
			if err := c.publisher.PublishTransition(ctx, ev); err != nil {
				c.safeMetrics().RecordPublishFailure()
				c.logger.Warn(ctx, "event publish rejected",
					logging.String("fence", ev.FenceID),
					logging.String("peer", ev.PeerID),
					logging.String("type", string(ev.Type)),
					logging.Err(err))
			}
			c.safeMetrics().SetPeersInside(ev.FenceID, c.tracker.InsideCount(ev.FenceID))
			c.logger.Info(ctx, "fence transition",
				logging.String("fence", ev.FenceID),
				logging.String("peer", c.roster.DisplayName(ev.PeerID)),
				logging.String("type", string(ev.Type)))
		}
	}

	c.safeMetrics().ObserveIngest(time.Since(start).Seconds())
	return events
}

// Run consumes samples with a bounded worker pool until the context
// is cancelled or the channel closes. Ingestion is fire-and-forget
// per sample; ordering per peer is preserved by the tracker's
// watermark, not by the pool.
func (c *Coordinator) Run(ctx context.Context, samples <-chan model.Sample, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sample, ok := <-samples:
					if !ok {
						return
					}
					c.Ingest(ctx, sample)
				}
			}
		}()
	}
	wg.Wait()
}

// WatchRoster applies membership updates until the channel closes or
// the context is cancelled. Departed peers lose their tracking state
// so a later rejoin starts outside every fence.
func (c *Coordinator) WatchRoster(ctx context.Context, updates <-chan mesh.RosterUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Removed {
				c.roster.Remove(update.PeerID)
				c.tracker.RemovePeer(update.PeerID)
				continue
			}
			c.roster.Update(update.PeerID, update.Nickname)
		}
	}
}

// ActiveFence returns the fence when it exists and is monitored.
func (c *Coordinator) ActiveFence(id string) (model.Fence, bool) {
	f, ok := c.registry.Get(id)
	if !ok || !f.Monitoring {
		return model.Fence{}, false
	}
	return f, true
}

// MemberPositions returns the last fused position per peer.
func (c *Coordinator) MemberPositions() map[string]model.PeerPosition {
	return c.tracker.Positions()
}

// RecentEvents returns up to limit events, most recent first.
func (c *Coordinator) RecentEvents(limit int) []model.TransitionEvent {
	return c.log.Recent(limit)
}

// Statistics returns the exact per-fence statistics, combining the
// log's counters with the tracker's live occupancy.
func (c *Coordinator) Statistics(fenceID string) model.FenceStatistics {
	return c.log.Statistics(fenceID, c.tracker.InsideCount(fenceID))
}

// onFenceEvent keeps containment state and gauges in step with the
// registry. Deactivation tears down state without exit events; the
// registry flips the monitoring flag before notifying, so an
// in-flight sample observing the flag cannot emit for this fence.
func (c *Coordinator) onFenceEvent(ev core.FenceEvent) {
	switch ev.Type {
	case core.FenceDeactivated:
		c.tracker.RemoveFence(ev.Fence.ID)
		c.safeMetrics().SetPeersInside(ev.Fence.ID, 0)
	case core.FenceDeleted:
		c.tracker.RemoveFence(ev.Fence.ID)
		c.safeMetrics().DropFenceGauge(ev.Fence.ID)
	}
	c.safeMetrics().SetActiveFences(c.registry.ActiveCount())
}

// safeMetrics returns a usable Metrics even when none was configured.
func (c *Coordinator) safeMetrics() Metrics {
	if c.metrics == nil {
		return noopMetrics{}
	}
	return c.metrics
}

type noopMetrics struct{}

func (noopMetrics) RecordSample(model.SourceType)    {}
func (noopMetrics) RecordPublishFailure()            {}
func (noopMetrics) SetActiveFences(int)              {}
func (noopMetrics) SetPeersInside(string, int)       {}
func (noopMetrics) DropFenceGauge(string)            {}
func (noopMetrics) ObserveIngest(float64)            {}
