// Package projection runs read-model builders against the event store.
// Each registered handler gets its own worker that tails the global
// event sequence, applies new events inside a database transaction and
// moves its checkpoint in the same transaction. A handler therefore
// sees every matching event exactly once in its tables, no matter how
// often the process crashes or restarts.
package projection

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

// Handler builds one read model from events. Implementations write to
// their own tables through the transaction they are handed; writing
// outside of it forfeits the exactly-once guarantee.
type Handler interface {
	// Name identifies the handler's checkpoint. It must be unique within
	// the registry and stable across restarts.
	Name() string

	// Tables lists the tables the handler writes, for operational
	// introspection. The runtime never touches them itself.
	Tables() []string

	// AggregateTypes narrows the events the handler receives. Empty
	// means all aggregate types.
	AggregateTypes() []string

	// EventTypes narrows the events the handler receives. Empty means
	// all event types.
	EventTypes() []string

	// Init prepares the handler's tables. It runs once on start, inside
	// a transaction, and must be idempotent.
	Init(ctx context.Context, tx pgx.Tx) error

	// Reduce applies one event to the read model.
	Reduce(ctx context.Context, tx pgx.Tx, event eventstore.Event) error

	// Reset clears the handler's tables for a rebuild.
	Reset(ctx context.Context, tx pgx.Tx) error
}

// Status is the operational snapshot of one projection, served by the
// registry for health endpoints.
type Status struct {
	Name      string
	Tables    []string
	Position  eventstore.Position
	UpdatedAt time.Time
	LastError string
	Running   bool
}

// Config tunes the projection workers. The zero value is not usable,
// start from DefaultConfig.
type Config struct {
	// BatchSize bounds how many events one transaction applies.
	BatchSize int32

	// Interval is the polling fallback. Workers wake up on live
	// subscription notifications well before it elapses; the ticker
	// only covers events whose notification was dropped.
	Interval time.Duration

	// EnableLocking guards each catch-up transaction with an advisory
	// lock on the projection name. Required when several processes run
	// the same projections against one database.
	EnableLocking bool
}

// DefaultConfig returns the configuration used by NewRegistry unless
// overridden.
func DefaultConfig() Config {
	return Config{
		BatchSize: 100,
		Interval:  time.Second,
	}
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
}

// RegisterOption tunes one projection independently of the registry
// defaults.
type RegisterOption func(*Config)

// WithBatchSize bounds how many events one of this projection's
// transactions applies.
func WithBatchSize(n int32) RegisterOption {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// WithInterval sets this projection's polling fallback.
func WithInterval(interval time.Duration) RegisterOption {
	return func(c *Config) {
		c.Interval = interval
	}
}

// WithLocking guards this projection's catch-up transactions with an
// advisory lock, for multi-process deployments.
func WithLocking() RegisterOption {
	return func(c *Config) {
		c.EnableLocking = true
	}
}
