package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

const (
	// transactionPositionStmt produces the position shared by every event
	// of the transaction. clock_timestamp advances during a transaction,
	// so it is read exactly once per push attempt — and only after every
	// aggregate of the batch is locked, so of two writers contending on
	// one aggregate the later version always carries the later position.
	transactionPositionStmt = `SELECT EXTRACT(EPOCH FROM clock_timestamp())::NUMERIC::TEXT`

	// lockAggregateStmt reads the latest version of an aggregate under a
	// row lock, serializing conflicting writers on the same aggregate.
	lockAggregateStmt = `SELECT aggregate_version, owner
FROM events
WHERE instance_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
ORDER BY aggregate_version DESC
LIMIT 1
FOR UPDATE`

	insertEventStmt = `INSERT INTO events (
	instance_id, aggregate_type, aggregate_id, event_type,
	aggregate_version, revision, created_at, payload,
	creator, owner, position, in_tx_order
) VALUES ($1, $2, $3, $4, $5, $6, statement_timestamp(), $7, $8, $9, $10::NUMERIC, $11)
RETURNING created_at`
)

// aggregateState tracks one aggregate across a batch: the version the
// next event gets and the owner inherited from the existing stream.
type aggregateState struct {
	nextVersion uint64
	owner       string
}

// Push implements eventstore.Pusher. It runs a single transactional
// attempt; the engine above owns validation and retries.
func (s *Store) Push(ctx context.Context, expectedVersion *uint64, commands ...eventstore.Command) ([]eventstore.Event, error) {
	const op = "postgres.Push"

	events := make([]eventstore.Event, len(commands))
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		// Claims and version locks come first. A writer that loses a lock
		// race must read its position after the winner read its own, or
		// the later version could commit with the earlier position and
		// break the version order of position-ordered scans.
		states := make(map[aggregateStateKey]*aggregateState, 1)
		for i := range commands {
			command := &commands[i]
			if err := s.handleUniqueConstraints(ctx, tx, command); err != nil {
				return err
			}
			if _, err := s.aggregateState(ctx, tx, states, command, expectedVersion); err != nil {
				return err
			}
		}

		var positionText string
		if err := tx.QueryRow(ctx, transactionPositionStmt).Scan(&positionText); err != nil {
			return err
		}
		position, err := decimal.NewFromString(positionText)
		if err != nil {
			return eventstore.NewInternalError(op, err)
		}

		for i := range commands {
			command := &commands[i]
			state := states[aggregateStateKey{
				instanceID:    command.InstanceID,
				aggregateType: command.AggregateType,
				aggregateID:   command.AggregateID,
			}]

			owner := command.Owner
			if state.owner != "" {
				owner = state.owner
			} else {
				state.owner = owner
			}

			event := eventstore.Event{
				InstanceID:       command.InstanceID,
				AggregateType:    command.AggregateType,
				AggregateID:      command.AggregateID,
				EventType:        command.EventType,
				AggregateVersion: state.nextVersion,
				Revision:         command.Revision,
				Payload:          command.Payload,
				Creator:          command.Creator,
				Owner:            owner,
				Position: eventstore.Position{
					Position:  position,
					InTxOrder: uint32(i),
				},
			}

			err = tx.QueryRow(ctx, insertEventStmt,
				event.InstanceID,
				event.AggregateType,
				event.AggregateID,
				event.EventType,
				event.AggregateVersion,
				int32(event.Revision),
				nullablePayload(event.Payload),
				event.Creator,
				event.Owner,
				positionText,
				int32(i),
			).Scan(&event.CreatedAt)
			if err != nil {
				return err
			}

			state.nextVersion++
			events[i] = event
		}
		return nil
	})
	if err != nil {
		return nil, s.mapPushError(op, err)
	}
	return events, nil
}

type aggregateStateKey struct {
	instanceID    string
	aggregateType string
	aggregateID   string
}

// aggregateState returns the batch-local state of the command's
// aggregate, locking its version row on first touch. The optimistic
// concurrency check runs against the locked version, so the writer that
// loses the lock race observes the winner's version.
func (s *Store) aggregateState(
	ctx context.Context,
	tx pgx.Tx,
	states map[aggregateStateKey]*aggregateState,
	command *eventstore.Command,
	expectedVersion *uint64,
) (*aggregateState, error) {
	key := aggregateStateKey{
		instanceID:    command.InstanceID,
		aggregateType: command.AggregateType,
		aggregateID:   command.AggregateID,
	}
	if state, ok := states[key]; ok {
		return state, nil
	}

	var (
		currentVersion uint64
		owner          string
	)
	err := tx.QueryRow(ctx, lockAggregateStmt, key.instanceID, key.aggregateType, key.aggregateID).
		Scan(&currentVersion, &owner)
	if err != nil && database.Classify(err) != database.ClassNoRows {
		return nil, err
	}

	if expectedVersion != nil && currentVersion != *expectedVersion {
		return nil, eventstore.NewConcurrencyError("postgres.Push", *expectedVersion, currentVersion)
	}

	state := &aggregateState{
		nextVersion: currentVersion + 1,
		owner:       owner,
	}
	states[key] = state
	return state, nil
}

func nullablePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return payload
}

// mapPushError turns a raw transaction failure into the engine's error
// taxonomy. Typed errors produced inside the transaction pass through.
func (s *Store) mapPushError(op string, err error) error {
	if eventstore.IsStoreError(err) {
		return err
	}

	class := database.Classify(err)
	switch {
	case class == database.ClassUniqueViolation:
		// A primary key collision on the events table is a version race
		// between two writers that both read the same current version; a
		// retry chains onto the winner. Claim clashes never land here,
		// they are typed before the insert.
		if database.ConstraintName(err) == "events_pkey" {
			return eventstore.NewTransientError(op, err)
		}
		return eventstore.NewInternalError(op, err)
	case database.IsRetryable(class):
		return eventstore.NewTransientError(op, err)
	}
	return eventstore.NewInternalError(op, err)
}
