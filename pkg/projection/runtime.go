package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
	"github.com/authapp/zitadel-sub007/pkg/eventstore/postgres"
	"github.com/authapp/zitadel-sub007/pkg/observability"
)

const (
	// tryAdvisoryLockStmt guards one catch-up transaction. Losing the
	// race is not an error, the other worker is doing the same work.
	tryAdvisoryLockStmt = `SELECT pg_try_advisory_xact_lock(hashtext($1))`

	// advisoryLockStmt blocks until the projection is exclusively held,
	// used by rebuilds which must not be skipped.
	advisoryLockStmt = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

// worker tails the event stream for one handler. Progress is the
// checkpoint row, not worker memory, so restarts resume where the last
// committed transaction left off.
type worker struct {
	handler     Handler
	es          *eventstore.Eventstore
	db          *database.DB
	checkpoints *postgres.CheckpointStore
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics
	notify      chan struct{}
}

func newWorker(handler Handler, r *Registry, config Config) *worker {
	return &worker{
		handler:     handler,
		es:          r.es,
		db:          r.db,
		checkpoints: r.checkpoints,
		config:      config,
		logger:      r.logger.With("projection", handler.Name()),
		metrics:     r.metrics,
		notify:      make(chan struct{}, 1),
	}
}

// run is the worker loop: catch up, then sleep until a live
// notification, a trigger or the polling tick.
func (w *worker) run(ctx context.Context) {
	sub := w.es.Subscribe(
		eventstore.WithAggregateTypes(w.handler.AggregateTypes()...),
		eventstore.WithEventTypes(w.handler.EventTypes()...),
	)
	defer sub.Unsubscribe()
	live := sub.Events

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		w.catchUp(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		case <-ticker.C:
		case _, ok := <-live:
			if !ok {
				// Bus closed, the ticker keeps the worker alive.
				live = nil
			}
		}
	}
}

// catchUp drains the stream in batches until it is shorter than one
// batch. Failures are recorded and retried on the next wake-up.
func (w *worker) catchUp(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, err := w.advance(ctx)
		if err != nil {
			w.recordFailure(ctx, err)
			return
		}
		if fetched < int(w.config.BatchSize) {
			return
		}
	}
}

// advance applies one batch. The handler's table writes and the
// checkpoint move commit in one transaction, and the checkpoint is
// re-read under lock inside it, so an event is never applied twice even
// with concurrent workers.
func (w *worker) advance(ctx context.Context) (int, error) {
	name := w.handler.Name()

	anchor := eventstore.Position{}
	cp, err := w.checkpoints.Get(ctx, name)
	switch {
	case err == nil:
		anchor = cp.Position
	case !eventstore.IsNotFound(err):
		return 0, err
	}

	events, err := w.es.EventsAfterPosition(ctx, anchor, w.filter(), w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	applied := 0
	err = w.db.WithTx(ctx, func(tx pgx.Tx) error {
		applied = 0
		if w.config.EnableLocking {
			var acquired bool
			if err := tx.QueryRow(ctx, tryAdvisoryLockStmt, name).Scan(&acquired); err != nil {
				return err
			}
			if !acquired {
				return nil
			}
		}

		// Another worker may have advanced the checkpoint since the
		// batch was fetched; skip what it already applied.
		current := anchor
		cp, err := w.checkpoints.GetTx(ctx, tx, name)
		switch {
		case err == nil:
			current = cp.Position
		case !eventstore.IsNotFound(err):
			return err
		}

		last := current
		for _, event := range events {
			if event.Position.Compare(current) <= 0 {
				continue
			}
			if err := w.handler.Reduce(ctx, tx, event); err != nil {
				return fmt.Errorf("reduce %s at %s: %w", event.EventType, event.Position, err)
			}
			last = event.Position
			applied++
		}
		if applied == 0 {
			return nil
		}
		return w.checkpoints.SetTx(ctx, tx, &postgres.Checkpoint{Name: name, Position: last})
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 {
		w.logger.Debug("projection advanced",
			"events", applied,
			"position", events[len(events)-1].Position.String())
		if w.metrics != nil {
			w.metrics.RecordProjectionLag(ctx, name, time.Since(events[len(events)-1].CreatedAt))
		}
	}
	return len(events), nil
}

// rebuild clears the handler's tables and checkpoint atomically. The
// worker then re-applies the stream from the start on its next wake-up.
func (w *worker) rebuild(ctx context.Context) error {
	name := w.handler.Name()
	err := w.db.WithTx(ctx, func(tx pgx.Tx) error {
		if w.config.EnableLocking {
			if _, err := tx.Exec(ctx, advisoryLockStmt, name); err != nil {
				return err
			}
		}
		if err := w.handler.Reset(ctx, tx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		return w.checkpoints.DeleteTx(ctx, tx, name)
	})
	if err != nil {
		return fmt.Errorf("projection: rebuild %q: %w", name, err)
	}

	w.logger.Info("projection reset for rebuild")
	w.wake()
	return nil
}

func (w *worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// recordFailure logs the failure and persists it on the checkpoint row
// for health reporting. It must never write the position: a concurrent
// worker may have advanced the checkpoint since this worker last read
// it, and a read-modify-write here would rewind that progress.
func (w *worker) recordFailure(ctx context.Context, failure error) {
	name := w.handler.Name()
	w.logger.Error("projection batch failed", "error", failure)
	if w.metrics != nil {
		w.metrics.RecordProjectionError(ctx, name)
	}

	if err := w.checkpoints.SetError(ctx, name, failure.Error()); err != nil {
		w.logger.Error("recording projection failure", "error", err)
	}
}

func (w *worker) filter() *eventstore.Filter {
	aggregateTypes := w.handler.AggregateTypes()
	eventTypes := w.handler.EventTypes()
	if len(aggregateTypes) == 0 && len(eventTypes) == 0 {
		return nil
	}
	return &eventstore.Filter{
		AggregateTypes: aggregateTypes,
		EventTypes:     eventTypes,
	}
}
