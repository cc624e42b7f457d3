package eventstore

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/authapp/zitadel-sub007/pkg/messaging"
	"github.com/authapp/zitadel-sub007/pkg/observability"
)

// Config holds the tunables of the engine.
type Config struct {
	// InstanceID is the tenant used for commands that carry no instance
	// and whose context carries none either.
	InstanceID string

	// MaxPushBatchSize bounds the number of commands per push. Keeping
	// batches small bounds lock-hold time and the blast radius of retries.
	MaxPushBatchSize int

	// PushTimeout is the deadline applied to every push, retries included.
	PushTimeout time.Duration

	// MaxPushRetries bounds the retry loop on transient conflicts.
	MaxPushRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration

	// EnableSubscriptions controls the in-process bus. When disabled,
	// Subscribe returns a subscription that never receives events.
	EnableSubscriptions bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InstanceID:          "default",
		MaxPushBatchSize:    100,
		PushTimeout:         30 * time.Second,
		MaxPushRetries:      3,
		RetryBaseDelay:      10 * time.Millisecond,
		EnableSubscriptions: true,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.InstanceID == "" {
		c.InstanceID = d.InstanceID
	}
	if c.MaxPushBatchSize <= 0 {
		c.MaxPushBatchSize = d.MaxPushBatchSize
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.MaxPushRetries < 0 {
		c.MaxPushRetries = d.MaxPushRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
}

// Option configures an Eventstore.
type Option func(*Eventstore)

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(es *Eventstore) {
		es.config = config
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(es *Eventstore) {
		es.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer. Defaults to a noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(es *Eventstore) {
		es.tracer = tracer
	}
}

// WithMetrics sets the metric instruments recorded by the engine.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(es *Eventstore) {
		es.metrics = metrics
	}
}

// WithEventBus bridges committed events to an out-of-process bus.
// Delivery is post-commit and best-effort, same as the in-process bus.
func WithEventBus(bus messaging.EventBus) Option {
	return func(es *Eventstore) {
		es.eventBus = bus
	}
}
