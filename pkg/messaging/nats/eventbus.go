// Package nats bridges committed events to NATS JetStream so consumers
// outside the writer process can follow the stream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/authapp/zitadel-sub007/pkg/messaging"
)

// Config holds the bridge configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream events are published into.
	StreamName string

	// SubjectPrefix is the first token of every subject. Subjects are
	// built as <prefix>.<instance>.<aggregate_type>.<event_type> with
	// dots in the event type replaced by underscores.
	SubjectPrefix string

	// MaxAge is how long the stream retains events.
	MaxAge time.Duration

	// MaxBytes bounds the stream size.
	MaxBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "EVENTS",
		SubjectPrefix: "events",
		MaxAge:        7 * 24 * time.Hour,
		MaxBytes:      1024 * 1024 * 1024, // 1 GiB
	}
}

// EventBus is a JetStream-backed implementation of messaging.EventBus.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
}

// NewEventBus connects to NATS and ensures the stream exists.
func NewEventBus(config Config) (*EventBus, error) {
	if config.URL == "" {
		config = DefaultConfig()
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "events"
	}

	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &EventBus{nc: nc, js: js, config: config}
	if err := bus.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return bus, nil
}

func (b *EventBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.config.StreamName,
		Subjects:  []string{b.config.SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    b.config.MaxAge,
		MaxBytes:  b.config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := b.js.StreamInfo(b.config.StreamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Publish implements messaging.EventBus. The message ID doubles as the
// JetStream deduplication ID.
func (b *EventBus) Publish(ctx context.Context, messages []messaging.Message) error {
	for i := range messages {
		msg := &messages[i]
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize message %s: %w", msg.ID, err)
		}
		_, err = b.js.Publish(b.subject(msg), data, nats.MsgId(msg.ID), nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// subject renders the routing subject of a message. Event types carry
// dots (e.g. "user.created"); those become underscores so they stay a
// single subject token.
func (b *EventBus) subject(msg *messaging.Message) string {
	return strings.Join([]string{
		b.config.SubjectPrefix,
		tokenize(msg.InstanceID),
		tokenize(msg.AggregateType),
		tokenize(msg.EventType),
	}, ".")
}

func tokenize(s string) string {
	if s == "" {
		return "_"
	}
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, ">", "_")
	return s
}

// drainTimeout bounds how long Close waits for the drain to finish
// before dropping the connection hard.
const drainTimeout = 5 * time.Second

// Close drains the connection and waits until it is fully closed, so
// buffered publishes flush before the process moves on. Drain alone is
// asynchronous; returning on it would race the flush. Safe to call more
// than once.
func (b *EventBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}

	done := make(chan struct{})
	b.nc.SetClosedHandler(func(*nats.Conn) {
		close(done)
	})

	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		b.nc.Close()
		return fmt.Errorf("NATS drain did not finish within %s", drainTimeout)
	}
}

var _ messaging.EventBus = (*EventBus)(nil)
