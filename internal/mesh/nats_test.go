package mesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func dialTest(t *testing.T, url string) *nats.Conn {
	t.Helper()
	conn, err := Dial(context.Background(), url, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("dialing mesh: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestListener_ReceivesSamples(t *testing.T) {
	url := startTestNATS(t)
	pub := dialTest(t, url)
	listener := NewListener(dialTest(t, url), nil)

	samples, cancel, err := listener.Samples(8)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	want := model.Sample{
		PeerID:     "p1",
		Signals:    []model.Signal{{Source: model.SourceRanged, DistanceM: 42}},
		ObservedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	if err := pub.Publish(SubjectSamplesPrefix+"p1", data); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	pub.Flush()

	select {
	case got := <-samples:
		if got.PeerID != want.PeerID {
			t.Errorf("peer = %q, want %q", got.PeerID, want.PeerID)
		}
		if len(got.Signals) != 1 || got.Signals[0].DistanceM != 42 {
			t.Errorf("signals = %+v, want one ranged signal at 42m", got.Signals)
		}
		if !got.ObservedAt.Equal(want.ObservedAt) {
			t.Errorf("observed_at = %v, want %v", got.ObservedAt, want.ObservedAt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
}

func TestListener_MalformedSampleIsDropped(t *testing.T) {
	url := startTestNATS(t)
	pub := dialTest(t, url)
	listener := NewListener(dialTest(t, url), nil)

	samples, cancel, err := listener.Samples(8)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := pub.Publish(SubjectSamplesPrefix+"p1", []byte("not json")); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	good, _ := json.Marshal(model.Sample{PeerID: "p2", ObservedAt: time.Now()})
	if err := pub.Publish(SubjectSamplesPrefix+"p2", good); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	pub.Flush()

	// Only the well-formed sample comes through.
	select {
	case got := <-samples:
		if got.PeerID != "p2" {
			t.Errorf("peer = %q, want p2 (malformed payload must be dropped)", got.PeerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
	select {
	case got := <-samples:
		t.Fatalf("unexpected second sample: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListener_CancelClosesChannel(t *testing.T) {
	url := startTestNATS(t)
	listener := NewListener(dialTest(t, url), nil)

	samples, cancel, err := listener.Samples(8)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	cancel()
	cancel() // idempotent

	select {
	case _, open := <-samples:
		if open {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNATSPublisher_RoundTrip(t *testing.T) {
	url := startTestNATS(t)
	conn := dialTest(t, url)
	sub := dialTest(t, url)

	received := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe(SubjectEventsPrefix+">", received); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	sub.Flush()

	publisher := NewNATSPublisher(conn)
	ev := model.TransitionEvent{
		ID:        "01J0000000000000000000TEST",
		Seq:       7,
		FenceID:   "fence-1",
		PeerID:    "p1",
		Type:      model.EventEntry,
		Timestamp: time.Now().UTC(),
	}
	if err := publisher.PublishTransition(context.Background(), ev); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	conn.Flush()

	select {
	case msg := <-received:
		if msg.Subject != SubjectEventsPrefix+"fence-1" {
			t.Errorf("subject = %q, want %q", msg.Subject, SubjectEventsPrefix+"fence-1")
		}
		var got model.TransitionEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshaling: %v", err)
		}
		if got.FenceID != ev.FenceID || got.Type != ev.Type || got.Seq != ev.Seq {
			t.Errorf("got %+v, want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRosterUpdatesRoundTrip(t *testing.T) {
	url := startTestNATS(t)
	pub := dialTest(t, url)
	listener := NewListener(dialTest(t, url), nil)

	updates, cancel, err := listener.RosterUpdates()
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	data, _ := json.Marshal(RosterUpdate{PeerID: "p1", Nickname: "Ana"})
	if err := pub.Publish(SubjectRoster, data); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	pub.Flush()

	select {
	case got := <-updates:
		if got.PeerID != "p1" || got.Nickname != "Ana" || got.Removed {
			t.Errorf("got %+v, want p1/Ana", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for roster update")
	}
}

func TestDial_FailsFastWhenServerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "nats://127.0.0.1:1", 300*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected dial error against an unreachable server")
	}
}
