package postgres

import (
	"context"
	"fmt"

	"github.com/authapp/zitadel-sub007/pkg/database"
)

// The events table is append-only: rows are never updated or deleted.
// The composite primary key makes concurrent version races on one
// aggregate collide instead of silently interleaving, and the position
// index serves global catch-up scans.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	instance_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	aggregate_version BIGINT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	payload JSONB,
	creator TEXT NOT NULL,
	owner TEXT NOT NULL,
	position NUMERIC NOT NULL,
	in_tx_order INTEGER NOT NULL,

	PRIMARY KEY (instance_id, aggregate_type, aggregate_id, aggregate_version)
);

CREATE INDEX IF NOT EXISTS events_position_idx ON events (position, in_tx_order);
CREATE INDEX IF NOT EXISTS events_aggregate_idx ON events (aggregate_type, aggregate_id);

CREATE TABLE IF NOT EXISTS unique_constraints (
	unique_type TEXT NOT NULL,
	unique_field TEXT NOT NULL,
	instance_id TEXT NOT NULL DEFAULT '',

	PRIMARY KEY (unique_type, unique_field, instance_id)
);

CREATE TABLE IF NOT EXISTS projection_checkpoints (
	name TEXT PRIMARY KEY,
	position NUMERIC NOT NULL DEFAULT 0,
	in_tx_order INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT
);
`

// Bootstrap creates the store's tables and indexes. It is idempotent and
// safe to run on every start.
func Bootstrap(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to bootstrap event store schema: %w", err)
	}
	return nil
}
