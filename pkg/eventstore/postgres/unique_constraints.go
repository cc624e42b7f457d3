package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

const (
	uniqueInsertStmt = `INSERT INTO unique_constraints (unique_type, unique_field, instance_id) VALUES ($1, $2, $3)`

	uniqueDeleteStmt = `DELETE FROM unique_constraints WHERE unique_type = $1 AND unique_field = $2 AND instance_id = $3`

	uniqueDeleteInstanceStmt = `DELETE FROM unique_constraints WHERE instance_id = $1`
)

// handleUniqueConstraints applies a command's uniqueness claims inside
// the push transaction. Claims commit or roll back together with the
// events they guard.
func (s *Store) handleUniqueConstraints(ctx context.Context, tx pgx.Tx, command *eventstore.Command) error {
	const op = "postgres.Push"

	for _, constraint := range command.UniqueConstraints {
		if constraint == nil {
			continue
		}

		// Global claims live in the '' instance scope and clash across
		// all instances.
		instanceID := command.InstanceID
		if constraint.IsGlobal {
			instanceID = ""
		}

		switch constraint.Action {
		case eventstore.UniqueConstraintAdd:
			_, err := tx.Exec(ctx, uniqueInsertStmt, constraint.UniqueType, constraint.UniqueField, instanceID)
			if err != nil {
				if database.Classify(err) == database.ClassUniqueViolation {
					return eventstore.NewUniqueConstraintError(op, constraint.UniqueType, constraint.UniqueField, err)
				}
				return err
			}
		case eventstore.UniqueConstraintRemove:
			if _, err := tx.Exec(ctx, uniqueDeleteStmt, constraint.UniqueType, constraint.UniqueField, instanceID); err != nil {
				return err
			}
		case eventstore.UniqueConstraintInstanceRemove:
			if _, err := tx.Exec(ctx, uniqueDeleteInstanceStmt, command.InstanceID); err != nil {
				return err
			}
		}
	}
	return nil
}
