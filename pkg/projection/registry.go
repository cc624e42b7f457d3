package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
	"github.com/authapp/zitadel-sub007/pkg/eventstore/postgres"
	"github.com/authapp/zitadel-sub007/pkg/observability"
)

// Registry owns the projection workers. Handlers are registered before
// Start; afterwards the registry serves health, triggers and rebuilds.
type Registry struct {
	es          *eventstore.Eventstore
	db          *database.DB
	checkpoints *postgres.CheckpointStore
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	workers map[string]*worker
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithConfig replaces the default worker configuration.
func WithConfig(config Config) Option {
	return func(r *Registry) {
		r.config = config
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics enables lag and error metrics for all workers.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates a Registry reading from es and writing through db.
// The read models and the event store share the database so a handler's
// writes commit atomically with its checkpoint.
func NewRegistry(es *eventstore.Eventstore, db *database.DB, opts ...Option) *Registry {
	r := &Registry{
		es:          es,
		db:          db,
		checkpoints: postgres.NewCheckpointStore(db),
		config:      DefaultConfig(),
		logger:      slog.Default(),
		workers:     make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.config.normalize()
	return r
}

// Register adds a handler, optionally overriding the registry defaults
// for just this projection. It fails on duplicate names and after Start.
func (r *Registry) Register(handler Handler, opts ...RegisterOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("projection: register %q: registry already started", handler.Name())
	}
	name := handler.Name()
	if name == "" {
		return fmt.Errorf("projection: handler name must not be empty")
	}
	if _, ok := r.workers[name]; ok {
		return fmt.Errorf("projection: handler %q already registered", name)
	}

	config := r.config
	for _, opt := range opts {
		opt(&config)
	}
	config.normalize()

	r.workers[name] = newWorker(handler, r, config)
	r.order = append(r.order, name)
	return nil
}

// Start initializes every handler's tables and launches one worker per
// projection. The workers run until Stop.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("projection: registry already started")
	}

	for _, name := range r.order {
		w := r.workers[name]
		err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
			return w.handler.Init(ctx, tx)
		})
		if err != nil {
			return fmt.Errorf("projection: init %q: %w", name, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for _, name := range r.order {
		w := r.workers[name]
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.run(runCtx)
		}()
	}
	r.started = true
	r.logger.Info("projections started", "count", len(r.order))
	return nil
}

// Stop cancels all workers and waits for them, bounded by ctx.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("projections stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("projection: stop: %w", ctx.Err())
	}
}

// Trigger wakes the named worker immediately instead of waiting for its
// next notification or tick.
func (r *Registry) Trigger(name string) error {
	w, err := r.worker(name)
	if err != nil {
		return err
	}
	w.wake()
	return nil
}

// Rebuild clears the named projection's tables and checkpoint in one
// transaction, then wakes its worker to re-apply the whole stream.
func (r *Registry) Rebuild(ctx context.Context, name string) error {
	w, err := r.worker(name)
	if err != nil {
		return err
	}
	return w.rebuild(ctx)
}

// Health reports the status of every registered projection, in
// registration order.
func (r *Registry) Health(ctx context.Context) ([]Status, error) {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	tables := make(map[string][]string, len(r.order))
	for name, w := range r.workers {
		tables[name] = w.handler.Tables()
	}
	running := r.started
	r.mu.Unlock()

	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		status := Status{Name: name, Tables: tables[name], Running: running}
		cp, err := r.checkpoints.Get(ctx, name)
		switch {
		case err == nil:
			status.Position = cp.Position
			status.UpdatedAt = cp.UpdatedAt
			status.LastError = cp.LastError
		case !eventstore.IsNotFound(err):
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (r *Registry) worker(name string) (*worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	if !ok {
		return nil, fmt.Errorf("projection: unknown projection %q", name)
	}
	return w, nil
}
