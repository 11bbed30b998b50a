package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// Collector bundles the Prometheus metrics for the tracking pipeline
// and satisfies the tracker's and coordinator's metrics interfaces.
type Collector struct {
	gatherer prometheus.Gatherer

	Samples         *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	StaleSamples    prometheus.Counter
	MissingLocation prometheus.Counter
	PublishFailures prometheus.Counter

	ActiveFences prometheus.Gauge
	PeersInside  *prometheus.GaugeVec

	IngestDuration prometheus.Histogram
}

// NewCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	samples := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perimeter_samples_total",
		Help: "Total location samples ingested, labeled by the selected source.",
	}, []string{"source"})
	samples, err := registerCounterVec(reg, samples, "perimeter_samples_total")
	if err != nil {
		return nil, err
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perimeter_transitions_total",
		Help: "Total fence crossings detected, labeled by direction.",
	}, []string{"type"})
	transitions, err = registerCounterVec(reg, transitions, "perimeter_transitions_total")
	if err != nil {
		return nil, err
	}

	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perimeter_stale_samples_total",
		Help: "Samples dropped because a newer one for the peer was already applied.",
	}), "perimeter_stale_samples_total")
	if err != nil {
		return nil, err
	}
	missing, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perimeter_missing_location_total",
		Help: "Samples skipped for containment because the peer had no usable signal.",
	}), "perimeter_missing_location_total")
	if err != nil {
		return nil, err
	}
	publishFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perimeter_publish_failures_total",
		Help: "Transition events the outbound channel failed to accept.",
	}), "perimeter_publish_failures_total")
	if err != nil {
		return nil, err
	}

	activeFences, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perimeter_active_fences",
		Help: "Current number of actively monitored fences.",
	}), "perimeter_active_fences")
	if err != nil {
		return nil, err
	}

	peersInside := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perimeter_peers_inside",
		Help: "Peers currently inside each monitored fence.",
	}, []string{"fence"})
	peersInside, err = registerGaugeVec(reg, peersInside, "perimeter_peers_inside")
	if err != nil {
		return nil, err
	}

	ingest, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perimeter_ingest_duration_seconds",
		Help:    "Latency of processing one location sample end to end.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "perimeter_ingest_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Samples:         samples,
		Transitions:     transitions,
		StaleSamples:    stale,
		MissingLocation: missing,
		PublishFailures: publishFailures,
		ActiveFences:    activeFences,
		PeersInside:     peersInside,
		IngestDuration:  ingest,
	}, nil
}

// RecordSample counts one ingested sample by selected source.
func (c *Collector) RecordSample(source model.SourceType) {
	if c == nil || c.Samples == nil {
		return
	}
	c.Samples.WithLabelValues(string(source)).Inc()
}

// RecordTransition satisfies core.TrackerMetrics.
func (c *Collector) RecordTransition(ev model.EventType) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(string(ev)).Inc()
}

// RecordStaleSample satisfies core.TrackerMetrics.
func (c *Collector) RecordStaleSample() {
	if c == nil || c.StaleSamples == nil {
		return
	}
	c.StaleSamples.Inc()
}

// RecordMissingLocation satisfies core.TrackerMetrics.
func (c *Collector) RecordMissingLocation() {
	if c == nil || c.MissingLocation == nil {
		return
	}
	c.MissingLocation.Inc()
}

// RecordPublishFailure counts one rejected outbound event.
func (c *Collector) RecordPublishFailure() {
	if c == nil || c.PublishFailures == nil {
		return
	}
	c.PublishFailures.Inc()
}

// SetActiveFences drives the active-set gauge from the registry.
func (c *Collector) SetActiveFences(n int) {
	if c == nil || c.ActiveFences == nil {
		return
	}
	c.ActiveFences.Set(float64(n))
}

// SetPeersInside drives the per-fence occupancy gauge.
func (c *Collector) SetPeersInside(fenceID string, n int) {
	if c == nil || c.PeersInside == nil {
		return
	}
	c.PeersInside.WithLabelValues(fenceID).Set(float64(n))
}

// DropFenceGauge removes the occupancy series for a deleted fence.
func (c *Collector) DropFenceGauge(fenceID string) {
	if c == nil || c.PeersInside == nil {
		return
	}
	c.PeersInside.DeleteLabelValues(fenceID)
}

// ObserveIngest records one ingest latency observation in seconds.
func (c *Collector) ObserveIngest(seconds float64) {
	if c == nil || c.IngestDuration == nil {
		return
	}
	c.IngestDuration.Observe(seconds)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
