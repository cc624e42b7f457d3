package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

// Checkpoint records how far a named consumer has processed the global
// event sequence. LastError keeps the most recent failure for health
// reporting; it is cleared on the next successful advance.
type Checkpoint struct {
	Name      string
	Position  eventstore.Position
	UpdatedAt time.Time
	LastError string
}

// CheckpointStore persists consumer checkpoints. SetTx exists so a
// projection can move its checkpoint in the same transaction as its
// table writes.
type CheckpointStore struct {
	db *database.DB
}

// NewCheckpointStore creates a CheckpointStore on the given handle.
func NewCheckpointStore(db *database.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

const (
	checkpointGetStmt = `SELECT position::TEXT, in_tx_order, updated_at, COALESCE(last_error, '')
FROM projection_checkpoints
WHERE name = $1`

	checkpointGetForUpdateStmt = `SELECT position::TEXT, in_tx_order, updated_at, COALESCE(last_error, '')
FROM projection_checkpoints
WHERE name = $1
FOR UPDATE`

	checkpointSetStmt = `INSERT INTO projection_checkpoints (name, position, in_tx_order, updated_at, last_error)
VALUES ($1, $2::NUMERIC, $3, now(), NULLIF($4, ''))
ON CONFLICT (name) DO UPDATE SET
	position = EXCLUDED.position,
	in_tx_order = EXCLUDED.in_tx_order,
	updated_at = EXCLUDED.updated_at,
	last_error = EXCLUDED.last_error`

	// checkpointSetErrorStmt records a failure without touching the
	// position. The insert arm only fires for consumers that have never
	// checkpointed; an existing row keeps whatever position it holds.
	checkpointSetErrorStmt = `INSERT INTO projection_checkpoints (name, position, in_tx_order, updated_at, last_error)
VALUES ($1, 0, 0, now(), NULLIF($2, ''))
ON CONFLICT (name) DO UPDATE SET
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`

	checkpointDeleteStmt = `DELETE FROM projection_checkpoints WHERE name = $1`
)

// Get returns the checkpoint of name, or a NotFoundError when the
// consumer has never stored one.
func (c *CheckpointStore) Get(ctx context.Context, name string) (*Checkpoint, error) {
	const op = "postgres.CheckpointGet"

	cp := &Checkpoint{Name: name}
	var positionText string
	var inTxOrder int32
	err := c.db.QueryRow(ctx, checkpointGetStmt, name).
		Scan(&positionText, &inTxOrder, &cp.UpdatedAt, &cp.LastError)
	if err != nil {
		if database.Classify(err) == database.ClassNoRows {
			return nil, eventstore.NewNotFoundError(op, "checkpoint", name)
		}
		return nil, mapCheckpointError(op, err)
	}

	position, err := decimal.NewFromString(positionText)
	if err != nil {
		return nil, eventstore.NewInternalError(op, err)
	}
	cp.Position = eventstore.Position{Position: position, InTxOrder: uint32(inTxOrder)}
	return cp, nil
}

// GetTx reads the checkpoint inside the caller's transaction, locking
// its row until commit. Two workers advancing the same projection
// serialize on this lock, and the loser sees the winner's position.
func (c *CheckpointStore) GetTx(ctx context.Context, tx pgx.Tx, name string) (*Checkpoint, error) {
	const op = "postgres.CheckpointGet"

	cp := &Checkpoint{Name: name}
	var positionText string
	var inTxOrder int32
	err := tx.QueryRow(ctx, checkpointGetForUpdateStmt, name).
		Scan(&positionText, &inTxOrder, &cp.UpdatedAt, &cp.LastError)
	if err != nil {
		if database.Classify(err) == database.ClassNoRows {
			return nil, eventstore.NewNotFoundError(op, "checkpoint", name)
		}
		return nil, mapCheckpointError(op, err)
	}

	position, err := decimal.NewFromString(positionText)
	if err != nil {
		return nil, eventstore.NewInternalError(op, err)
	}
	cp.Position = eventstore.Position{Position: position, InTxOrder: uint32(inTxOrder)}
	return cp, nil
}

// Set upserts the checkpoint in its own transaction.
func (c *CheckpointStore) Set(ctx context.Context, cp *Checkpoint) error {
	const op = "postgres.CheckpointSet"

	_, err := c.db.Exec(ctx, checkpointSetStmt,
		cp.Name, cp.Position.Position.String(), int32(cp.Position.InTxOrder), cp.LastError)
	if err != nil {
		return mapCheckpointError(op, err)
	}
	return nil
}

// SetTx upserts the checkpoint inside the caller's transaction, so the
// checkpoint commits or rolls back together with the consumer's writes.
func (c *CheckpointStore) SetTx(ctx context.Context, tx pgx.Tx, cp *Checkpoint) error {
	const op = "postgres.CheckpointSet"

	_, err := tx.Exec(ctx, checkpointSetStmt,
		cp.Name, cp.Position.Position.String(), int32(cp.Position.InTxOrder), cp.LastError)
	if err != nil {
		return mapCheckpointError(op, err)
	}
	return nil
}

// SetError stores the consumer's latest failure for health reporting.
// Unlike Set it never writes the position, so a failing worker with a
// stale view cannot rewind a checkpoint another worker has advanced.
func (c *CheckpointStore) SetError(ctx context.Context, name, message string) error {
	const op = "postgres.CheckpointSetError"

	if _, err := c.db.Exec(ctx, checkpointSetErrorStmt, name, message); err != nil {
		return mapCheckpointError(op, err)
	}
	return nil
}

// Delete removes the checkpoint. Deleting an absent checkpoint is not an
// error, which is what a projection rebuild relies on.
func (c *CheckpointStore) Delete(ctx context.Context, name string) error {
	const op = "postgres.CheckpointDelete"

	if _, err := c.db.Exec(ctx, checkpointDeleteStmt, name); err != nil {
		return mapCheckpointError(op, err)
	}
	return nil
}

// DeleteTx removes the checkpoint inside the caller's transaction, so a
// rebuild resets the consumer's tables and its position atomically.
func (c *CheckpointStore) DeleteTx(ctx context.Context, tx pgx.Tx, name string) error {
	const op = "postgres.CheckpointDelete"

	if _, err := tx.Exec(ctx, checkpointDeleteStmt, name); err != nil {
		return mapCheckpointError(op, err)
	}
	return nil
}

func mapCheckpointError(op string, err error) error {
	if eventstore.IsStoreError(err) {
		return err
	}
	if database.IsRetryable(database.Classify(err)) {
		return eventstore.NewTransientError(op, err)
	}
	return eventstore.NewInternalError(op, err)
}
