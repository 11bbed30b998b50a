package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/perimeter-tracker/internal/logging"
	"github.com/signalsfoundry/perimeter-tracker/model"
)

// Dial connects to NATS, retrying with exponential backoff until the
// context is cancelled or maxWait elapses. The returned connection
// reconnects indefinitely on its own afterwards.
func Dial(ctx context.Context, url string, maxWait time.Duration, log logging.Logger) (*nats.Conn, error) {
	if log == nil {
		log = logging.Noop()
	}
	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		attempt++
		nc, err := nats.Connect(url,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			log.Warn(ctx, "mesh connect failed, retrying",
				logging.String("url", url), logging.Int("attempt", attempt), logging.Err(err))
			return nil, err
		}
		return nc, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxWait))
	if err != nil {
		return nil, fmt.Errorf("connecting to mesh at %s: %w", url, err)
	}
	return conn, nil
}

// NATSPublisher publishes transition events as JSON, one subject per
// fence so consumers can filter with wildcards.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) PublishTransition(ctx context.Context, ev model.TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling transition event: %w", err)
	}
	return p.conn.Publish(SubjectEventsPrefix+ev.FenceID, data)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// Listener consumes samples and roster updates from the mesh.
type Listener struct {
	conn *nats.Conn
	log  logging.Logger
}

// NewListener wraps an established connection.
func NewListener(conn *nats.Conn, log logging.Logger) *Listener {
	if log == nil {
		log = logging.Noop()
	}
	return &Listener{conn: conn, log: log}
}

// Samples subscribes to every peer's sample subject and returns a
// channel of decoded samples. Malformed payloads are logged and
// dropped. Call the returned cancel function to unsubscribe and close
// the channel.
func (l *Listener) Samples(buffer int) (<-chan model.Sample, func(), error) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan model.Sample, buffer)

	cancel, err := l.subscribe(SubjectSamplesAll, func(data []byte) {
		var sample model.Sample
		if err := json.Unmarshal(data, &sample); err != nil {
			l.log.Warn(context.Background(), "dropping malformed sample", logging.Err(err))
			return
		}
		select {
		case ch <- sample:
		default:
			// Drop when the pipeline is saturated rather than block the
			// NATS client; ingestion is fire-and-forget per sample.
		}
	}, func() { close(ch) })
	if err != nil {
		return nil, nil, err
	}
	return ch, cancel, nil
}

// RosterUpdates subscribes to the membership subject.
func (l *Listener) RosterUpdates() (<-chan RosterUpdate, func(), error) {
	ch := make(chan RosterUpdate, 16)

	cancel, err := l.subscribe(SubjectRoster, func(data []byte) {
		var update RosterUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			l.log.Warn(context.Background(), "dropping malformed roster update", logging.Err(err))
			return
		}
		select {
		case ch <- update:
		default:
		}
	}, func() { close(ch) })
	if err != nil {
		return nil, nil, err
	}
	return ch, cancel, nil
}

func (l *Listener) Close() error {
	l.conn.Close()
	return nil
}

// subscribe wires a raw NATS subscription to a handler, returning a
// cancel function that unsubscribes and then runs closeFn exactly
// once after in-flight handlers are blocked out.
func (l *Listener) subscribe(subject string, handle func([]byte), closeFn func()) (func(), error) {
	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := l.conn.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		handle(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so messages from other connections are routed.
	if err := l.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			closeFn()
		})
	}
	return cancel, nil
}
