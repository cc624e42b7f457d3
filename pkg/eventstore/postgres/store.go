// Package postgres implements the event store's storage contract on
// PostgreSQL. One Store is one writer endpoint; safety across processes
// comes from the database's row locks, not from anything in here.
package postgres

import (
	"context"
	"log/slog"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

// Store implements eventstore.Storage.
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store on the given database handle. The schema must have
// been bootstrapped; New does not touch it.
func New(db *database.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Health implements eventstore.Pusher.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return eventstore.NewTransientError("postgres.Health", err)
	}
	return nil
}

// Close implements eventstore.Pusher.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ eventstore.Storage = (*Store)(nil)
