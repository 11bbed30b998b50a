// Package mesh adapts the group's messaging channel (NATS) to the
// tracking core: inbound location samples and roster updates, and
// outbound transition events. Delivery of published events is
// best-effort; retry beyond the initial handoff belongs to the
// transport, not the core.
package mesh

import (
	"context"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// Subjects used on the mesh. Samples are published per peer under
// SubjectSamplesPrefix; events per fence under SubjectEventsPrefix.
const (
	SubjectSamplesPrefix = "perimeter.samples."
	SubjectSamplesAll    = "perimeter.samples.>"
	SubjectEventsPrefix  = "perimeter.events."
	SubjectRoster        = "perimeter.roster"
)

// RosterUpdate is the membership collaborator's wire payload.
type RosterUpdate struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Removed  bool   `json:"removed,omitempty"`
}

// Publisher hands transition events to the outbound channel. The
// core's contract is satisfied once Publish returns; confirmation and
// redelivery are the transport's concern.
type Publisher interface {
	PublishTransition(ctx context.Context, ev model.TransitionEvent) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when the mesh
// is not configured, and in tests).
type NoopPublisher struct{}

func (NoopPublisher) PublishTransition(context.Context, model.TransitionEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
