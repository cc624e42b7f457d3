// Package eventstore implements the append-only event store backing the
// platform: command batches become immutable events with per-aggregate
// optimistic concurrency, globally ordered positions, uniqueness claims
// co-transacted with the events, and post-commit fan-out to in-process
// subscribers.
package eventstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/authapp/zitadel-sub007/pkg/messaging"
	"github.com/authapp/zitadel-sub007/pkg/multitenancy"
	"github.com/authapp/zitadel-sub007/pkg/observability"
)

// reducerBatchSize is the number of events streamed into a reducer per
// Reduce call.
const reducerBatchSize = 100

// defaultAfterPositionLimit bounds EventsAfterPosition when the caller
// passes no limit.
const defaultAfterPositionLimit = 1000

// Eventstore is the engine callers push to and query from. It is safe
// for concurrent use; correctness across processes relies on the
// database's row locks, not on process-local state.
type Eventstore struct {
	storage  Storage
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.Metrics
	eventBus messaging.EventBus
	bus      *subscriptionBus
	notifyWG sync.WaitGroup
}

// New creates an engine on top of the given storage.
func New(storage Storage, opts ...Option) (*Eventstore, error) {
	if storage == nil {
		return nil, invalidArgument("eventstore.New", "storage", "must not be nil")
	}

	es := &Eventstore{
		storage: storage,
		config:  DefaultConfig(),
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("eventstore"),
	}
	for _, opt := range opts {
		opt(es)
	}
	es.config.normalize()
	es.bus = newSubscriptionBus(es.logger)
	if es.metrics != nil {
		es.bus.dropped = func(subscriberID string, batch int) {
			es.metrics.SubscriptionDropped.Add(context.Background(), int64(batch))
		}
	}
	return es, nil
}

// Push appends a single command and returns the committed event.
func (es *Eventstore) Push(ctx context.Context, command Command) (Event, error) {
	events, err := es.PushMany(ctx, command)
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// PushMany appends all commands in one transaction. The returned events
// are in input order with their final version, position and timestamp
// assigned. Transient conflicts are retried with exponential backoff;
// concurrency and uniqueness conflicts surface immediately.
func (es *Eventstore) PushMany(ctx context.Context, commands ...Command) ([]Event, error) {
	return es.push(ctx, nil, commands)
}

// PushWithConcurrencyCheck behaves like PushMany but first verifies, under
// the aggregate's row lock, that the aggregate's current version equals
// expectedVersion. All commands must target the same aggregate.
func (es *Eventstore) PushWithConcurrencyCheck(ctx context.Context, expectedVersion uint64, commands ...Command) ([]Event, error) {
	return es.push(ctx, &expectedVersion, commands)
}

func (es *Eventstore) push(ctx context.Context, expectedVersion *uint64, commands []Command) (events []Event, err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.Push",
		trace.WithAttributes(attribute.Int("commands", len(commands))))
	defer span.End()
	start := time.Now()
	defer func() {
		if es.metrics != nil {
			es.metrics.RecordPush(ctx, time.Since(start), len(events), err)
		}
		if err != nil {
			observability.SetSpanError(ctx, err)
		}
	}()

	if err = es.validatePush(ctx, expectedVersion, commands); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, es.config.PushTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = es.config.RetryBaseDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	policy.Reset()

	attempt := 0
	err = backoff.Retry(func() error {
		events, err = es.storage.Push(ctx, expectedVersion, commands...)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > es.config.MaxPushRetries {
			return backoff.Permanent(err)
		}
		es.logger.Debug("push conflicted, retrying",
			"attempt", attempt,
			"error", err)
		if es.metrics != nil {
			es.metrics.PushRetries.Add(ctx, 1)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	es.notifyAfterCommit(events)
	return events, nil
}

func (es *Eventstore) validatePush(ctx context.Context, expectedVersion *uint64, commands []Command) error {
	const op = "eventstore.Push"
	if len(commands) == 0 {
		return invalidArgument(op, "commands", "must not be empty")
	}
	if len(commands) > es.config.MaxPushBatchSize {
		return invalidArgument(op, "commands", "batch exceeds the configured maximum")
	}
	for i := range commands {
		if commands[i].InstanceID == "" {
			commands[i].InstanceID = es.instanceID(ctx)
		}
		if err := commands[i].Validate(); err != nil {
			return err
		}
	}
	if expectedVersion != nil {
		key := commands[0].aggregateKey()
		for i := range commands[1:] {
			if commands[i+1].aggregateKey() != key {
				return invalidArgument(op, "commands", "must target a single aggregate when checking concurrency")
			}
		}
	}
	return nil
}

// instanceID resolves the tenant for commands and lookups that carry
// none: context-bound instance first, configured default second.
func (es *Eventstore) instanceID(ctx context.Context) string {
	if id := multitenancy.InstanceID(ctx); id != "" {
		return id
	}
	return es.config.InstanceID
}

// notifyAfterCommit hands a committed batch to the in-process bus and the
// optional out-of-process bridge. Failures are logged and swallowed; the
// push already succeeded.
func (es *Eventstore) notifyAfterCommit(events []Event) {
	if len(events) == 0 {
		return
	}
	if es.config.EnableSubscriptions {
		es.notifyWG.Add(1)
		go func() {
			defer es.notifyWG.Done()
			es.bus.notify(events)
		}()
	}
	if es.eventBus != nil {
		messages := make([]messaging.Message, len(events))
		for i := range events {
			event := &events[i]
			messages[i] = messaging.Message{
				ID:               uuid.NewString(),
				InstanceID:       event.InstanceID,
				AggregateType:    event.AggregateType,
				AggregateID:      event.AggregateID,
				EventType:        event.EventType,
				AggregateVersion: event.AggregateVersion,
				Revision:         event.Revision,
				Creator:          event.Creator,
				Owner:            event.Owner,
				CreatedAt:        event.CreatedAt,
				Position:         event.Position.String(),
				Payload:          event.Payload,
			}
		}
		es.notifyWG.Add(1)
		go func() {
			defer es.notifyWG.Done()
			if err := es.eventBus.Publish(context.Background(), messages); err != nil {
				es.logger.Warn("event bus publish failed", "error", err)
			}
		}()
	}
}

// Subscribe registers an in-process subscriber for committed events.
// When subscriptions are disabled by config, the returned subscription
// never receives events.
func (es *Eventstore) Subscribe(opts ...SubscribeOption) *Subscription {
	return es.bus.subscribe(opts...)
}

// Query returns events matching the filter. An empty result is not an
// error.
func (es *Eventstore) Query(ctx context.Context, filter *Filter) ([]Event, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return es.storage.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (es *Eventstore) Count(ctx context.Context, filter *Filter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	return es.storage.Count(ctx, filter)
}

// Search unions the query's filters, removes the exclusion and orders
// globally by position.
func (es *Eventstore) Search(ctx context.Context, query *SearchQuery) ([]Event, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return es.storage.Search(ctx, query)
}

// LatestEvent returns the most recent event of an aggregate, or a
// NotFoundError when the aggregate has none.
func (es *Eventstore) LatestEvent(ctx context.Context, aggregateType, aggregateID string) (*Event, error) {
	const op = "eventstore.LatestEvent"
	if aggregateType == "" || aggregateID == "" {
		return nil, invalidArgument(op, "aggregate", "type and id must not be empty")
	}
	events, err := es.storage.Query(ctx, &Filter{
		InstanceID:     es.instanceID(ctx),
		AggregateTypes: []string{aggregateType},
		AggregateIDs:   []string{aggregateID},
		Limit:          1,
		Desc:           true,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, NewNotFoundError(op, "aggregate", aggregateID)
	}
	return &events[0], nil
}

// AggregateOption narrows an Aggregate load.
type AggregateOption func(*aggregateOptions)

type aggregateOptions struct {
	maxVersion uint64
}

// UpToVersion caps the loaded events at the given aggregate version.
func UpToVersion(version uint64) AggregateOption {
	return func(o *aggregateOptions) {
		o.maxVersion = version
	}
}

// Aggregate loads all events of an aggregate in ascending version order
// and derives its current state attributes from the last one. It returns
// nil, nil when the aggregate has no events.
func (es *Eventstore) Aggregate(ctx context.Context, aggregateType, aggregateID string, opts ...AggregateOption) (*Aggregate, error) {
	const op = "eventstore.Aggregate"
	if aggregateType == "" || aggregateID == "" {
		return nil, invalidArgument(op, "aggregate", "type and id must not be empty")
	}
	var options aggregateOptions
	for _, opt := range opts {
		opt(&options)
	}

	events, err := es.storage.Query(ctx, &Filter{
		InstanceID:     es.instanceID(ctx),
		AggregateTypes: []string{aggregateType},
		AggregateIDs:   []string{aggregateID},
	})
	if err != nil {
		return nil, err
	}
	if options.maxVersion > 0 {
		capped := events[:0]
		for _, event := range events {
			if event.AggregateVersion <= options.maxVersion {
				capped = append(capped, event)
			}
		}
		events = capped
	}
	if len(events) == 0 {
		return nil, nil
	}

	last := events[len(events)-1]
	return &Aggregate{
		ID:         aggregateID,
		Type:       aggregateType,
		InstanceID: last.InstanceID,
		Owner:      last.Owner,
		Version:    last.AggregateVersion,
		Position:   last.Position,
		Events:     events,
	}, nil
}

// EventsAfterPosition returns up to limit events strictly after the
// anchor, in global order, optionally narrowed by filter. A non-positive
// limit defaults to 1000.
func (es *Eventstore) EventsAfterPosition(ctx context.Context, anchor Position, filter *Filter, limit int32) ([]Event, error) {
	if limit <= 0 {
		limit = defaultAfterPositionLimit
	}
	return es.storage.EventsAfterPosition(ctx, anchor, filter, limit)
}

// LatestPosition returns the greatest committed position over events
// matching the filter, or the zero position when nothing matches. A nil
// filter spans the whole store.
func (es *Eventstore) LatestPosition(ctx context.Context, filter *Filter) (Position, error) {
	if filter == nil {
		filter = &Filter{}
	}
	return es.storage.LatestPosition(ctx, filter)
}

// InstanceIDs returns the distinct instances with at least one matching
// event, sorted ascending. A nil filter spans the whole store.
func (es *Eventstore) InstanceIDs(ctx context.Context, filter *Filter) ([]string, error) {
	if filter == nil {
		filter = &Filter{}
	}
	return es.storage.InstanceIDs(ctx, filter)
}

// FilterToReducer streams matching events into the reducer in batches,
// calling Reduce after each batch so the full result set is never held in
// memory. Events flow in ascending global order regardless of the
// filter's direction.
func (es *Eventstore) FilterToReducer(ctx context.Context, filter *Filter, reducer Reducer) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	if reducer == nil {
		return invalidArgument("eventstore.FilterToReducer", "reducer", "must not be nil")
	}

	remaining := filter.Limit

	narrowed := *filter
	narrowed.Position = nil
	narrowed.Limit = 0
	narrowed.Desc = false

	// The first batch honors the filter's greater-or-equal position
	// anchor; every following batch continues strictly after the last
	// event seen.
	var anchor Position
	first := true

	for {
		batch := int32(reducerBatchSize)
		if remaining > 0 && remaining < uint64(batch) {
			batch = int32(remaining)
		}

		var events []Event
		var err error
		if first {
			head := narrowed
			head.Position = filter.Position
			head.Limit = uint64(batch)
			events, err = es.storage.Query(ctx, &head)
			first = false
		} else {
			events, err = es.storage.EventsAfterPosition(ctx, anchor, &narrowed, batch)
		}
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		reducer.AppendEvents(events...)
		if err := reducer.Reduce(); err != nil {
			return err
		}

		anchor = events[len(events)-1].Position
		if remaining > 0 {
			remaining -= uint64(len(events))
			if remaining == 0 {
				return nil
			}
		}
		if len(events) < int(batch) {
			return nil
		}
	}
}

// Health reports whether the store can reach its database.
func (es *Eventstore) Health(ctx context.Context) error {
	return es.storage.Health(ctx)
}

// Close shuts the engine down: in-flight notifications are awaited, the
// bus is closed and the storage is released.
func (es *Eventstore) Close() error {
	es.notifyWG.Wait()
	es.bus.closeAll()
	var err error
	if es.eventBus != nil {
		err = es.eventBus.Close()
	}
	if cerr := es.storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
