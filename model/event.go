package model

import "time"

// EventType is the direction of a fence crossing.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// TransitionEvent records one detected crossing for a (fence, peer)
// pair. Events are immutable once appended to the log. Seq is the
// log-assigned position in the total order; ID is a sortable ULID.
type TransitionEvent struct {
	ID           string    `json:"id"`
	Seq          uint64    `json:"seq"`
	FenceID      string    `json:"fence_id"`
	PeerID       string    `json:"peer_id"`
	PeerNickname string    `json:"peer_nickname,omitempty"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}
