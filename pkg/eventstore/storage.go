package eventstore

import "context"

// Pusher is the write side of the storage layer. One call is one
// transactional attempt; the engine owns validation and the retry loop.
type Pusher interface {
	// Push appends the commands as events in a single transaction.
	// When expectedVersion is non-nil, all commands target one aggregate
	// and the append fails with a ConcurrencyError unless the aggregate's
	// current version equals *expectedVersion.
	Push(ctx context.Context, expectedVersion *uint64, commands ...Command) ([]Event, error)

	// Health reports whether the storage backend is reachable.
	Health(ctx context.Context) error

	// Close releases the storage resources.
	Close() error
}

// Querier is the read side of the storage layer.
type Querier interface {
	// Query returns events matching the filter, ordered by
	// (position, in-transaction order).
	Query(ctx context.Context, filter *Filter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter *Filter) (int64, error)

	// Search returns the union of the query's filters, minus its
	// exclusion, globally ordered and bounded.
	Search(ctx context.Context, query *SearchQuery) ([]Event, error)

	// EventsAfterPosition returns events strictly after the anchor in
	// (position, in-transaction order) order, optionally narrowed by
	// filter, bounded by limit.
	EventsAfterPosition(ctx context.Context, anchor Position, filter *Filter, limit int32) ([]Event, error)

	// LatestPosition returns the greatest position over matching events,
	// or the zero position when nothing matches.
	LatestPosition(ctx context.Context, filter *Filter) (Position, error)

	// InstanceIDs returns the distinct instance ids of matching events in
	// ascending order.
	InstanceIDs(ctx context.Context, filter *Filter) ([]string, error)
}

// Storage is the full contract the engine runs on.
type Storage interface {
	Pusher
	Querier
}
