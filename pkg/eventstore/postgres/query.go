package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

// eventColumns is the select list shared by every event query. The
// position is read as text and parsed into a decimal on the way out.
const eventColumns = `instance_id, aggregate_type, aggregate_id, event_type,
aggregate_version, revision, created_at, payload, creator, owner,
position::TEXT, in_tx_order`

// queryArgs collects positional arguments while the WHERE clause is
// being built. add returns the placeholder of the value it appended.
type queryArgs []any

func (a *queryArgs) add(value any) string {
	*a = append(*a, value)
	return fmt.Sprintf("$%d", len(*a))
}

// filterConditions translates a filter into conjunctive SQL conditions.
// The position anchor is greater-or-equal on the decimal part, matching
// the filter contract; callers needing a strict anchor build it
// themselves.
func filterConditions(filter *eventstore.Filter, args *queryArgs) []string {
	if filter == nil {
		return nil
	}

	var conds []string
	if len(filter.AggregateTypes) > 0 {
		conds = append(conds, fmt.Sprintf("aggregate_type = ANY(%s)", args.add(filter.AggregateTypes)))
	}
	if len(filter.AggregateIDs) > 0 {
		conds = append(conds, fmt.Sprintf("aggregate_id = ANY(%s)", args.add(filter.AggregateIDs)))
	}
	if len(filter.EventTypes) > 0 {
		conds = append(conds, fmt.Sprintf("event_type = ANY(%s)", args.add(filter.EventTypes)))
	}
	if filter.InstanceID != "" {
		conds = append(conds, fmt.Sprintf("instance_id = %s", args.add(filter.InstanceID)))
	}
	if filter.Owner != "" {
		conds = append(conds, fmt.Sprintf("owner = %s", args.add(filter.Owner)))
	}
	if filter.Creator != "" {
		conds = append(conds, fmt.Sprintf("creator = %s", args.add(filter.Creator)))
	}
	if !filter.CreatedAtFrom.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at >= %s", args.add(filter.CreatedAtFrom)))
	}
	if !filter.CreatedAtTo.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at <= %s", args.add(filter.CreatedAtTo)))
	}
	if filter.Position != nil && !filter.Position.IsZero() {
		conds = append(conds, fmt.Sprintf("position >= %s::NUMERIC", args.add(filter.Position.Position.String())))
	}
	return conds
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// orderClause sorts by position with in_tx_order always ascending, so
// the order of events inside one transaction is stable under either
// scan direction.
func orderClause(desc bool) string {
	if desc {
		return " ORDER BY position DESC, in_tx_order ASC"
	}
	return " ORDER BY position ASC, in_tx_order ASC"
}

// Query implements eventstore.Querier.
func (s *Store) Query(ctx context.Context, filter *eventstore.Filter) ([]eventstore.Event, error) {
	const op = "postgres.Query"

	var args queryArgs
	query := "SELECT " + eventColumns + " FROM events" +
		whereClause(filterConditions(filter, &args)) +
		orderClause(filter != nil && filter.Desc)
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.mapQueryError(op, err)
	}
	return s.scanEvents(op, rows)
}

// Count implements eventstore.Querier.
func (s *Store) Count(ctx context.Context, filter *eventstore.Filter) (int64, error) {
	const op = "postgres.Count"

	var args queryArgs
	query := "SELECT COUNT(*) FROM events" + whereClause(filterConditions(filter, &args))

	var count int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, s.mapQueryError(op, err)
	}
	return count, nil
}

// EventsAfterPosition implements eventstore.Querier. The anchor is
// strict: an event at exactly the anchor is not returned again, which is
// what makes repeated catch-up scans converge instead of looping.
func (s *Store) EventsAfterPosition(ctx context.Context, anchor eventstore.Position, filter *eventstore.Filter, limit int32) ([]eventstore.Event, error) {
	const op = "postgres.EventsAfterPosition"

	// The anchor replaces the filter's own position fields, and the scan
	// is always ascending.
	if filter != nil {
		narrowed := *filter
		narrowed.Position = nil
		narrowed.Limit = 0
		narrowed.Desc = false
		filter = &narrowed
	}

	var args queryArgs
	conds := filterConditions(filter, &args)
	positionArg := args.add(anchor.Position.String())
	orderArg := args.add(int32(anchor.InTxOrder))
	conds = append(conds, fmt.Sprintf(
		"(position > %[1]s::NUMERIC OR (position = %[1]s::NUMERIC AND in_tx_order > %[2]s))",
		positionArg, orderArg,
	))

	query := "SELECT " + eventColumns + " FROM events" + whereClause(conds) + orderClause(false)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.mapQueryError(op, err)
	}
	return s.scanEvents(op, rows)
}

// LatestPosition implements eventstore.Querier.
func (s *Store) LatestPosition(ctx context.Context, filter *eventstore.Filter) (eventstore.Position, error) {
	const op = "postgres.LatestPosition"

	var args queryArgs
	query := "SELECT position::TEXT, in_tx_order FROM events" +
		whereClause(filterConditions(filter, &args)) +
		" ORDER BY position DESC, in_tx_order DESC LIMIT 1"

	var (
		positionText string
		inTxOrder    int32
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(&positionText, &inTxOrder)
	if err != nil {
		if database.Classify(err) == database.ClassNoRows {
			return eventstore.Position{}, nil
		}
		return eventstore.Position{}, s.mapQueryError(op, err)
	}

	position, err := decimal.NewFromString(positionText)
	if err != nil {
		return eventstore.Position{}, eventstore.NewInternalError(op, err)
	}
	return eventstore.Position{Position: position, InTxOrder: uint32(inTxOrder)}, nil
}

// InstanceIDs implements eventstore.Querier.
func (s *Store) InstanceIDs(ctx context.Context, filter *eventstore.Filter) ([]string, error) {
	const op = "postgres.InstanceIDs"

	var args queryArgs
	query := "SELECT DISTINCT instance_id FROM events" +
		whereClause(filterConditions(filter, &args)) +
		" ORDER BY instance_id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.mapQueryError(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eventstore.NewInternalError(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapQueryError(op, err)
	}
	return ids, nil
}

// scanEvents drains rows into events, closing rows in every path.
func (s *Store) scanEvents(op string, rows pgx.Rows) ([]eventstore.Event, error) {
	defer rows.Close()

	var events []eventstore.Event
	for rows.Next() {
		var (
			event        eventstore.Event
			revision     int32
			positionText string
			inTxOrder    int32
		)
		err := rows.Scan(
			&event.InstanceID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&event.AggregateVersion,
			&revision,
			&event.CreatedAt,
			&event.Payload,
			&event.Creator,
			&event.Owner,
			&positionText,
			&inTxOrder,
		)
		if err != nil {
			return nil, eventstore.NewInternalError(op, err)
		}

		position, err := decimal.NewFromString(positionText)
		if err != nil {
			return nil, eventstore.NewInternalError(op, err)
		}
		event.Revision = uint16(revision)
		event.Position = eventstore.Position{Position: position, InTxOrder: uint32(inTxOrder)}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapQueryError(op, err)
	}
	return events, nil
}

// mapQueryError mirrors mapPushError for the read side.
func (s *Store) mapQueryError(op string, err error) error {
	if eventstore.IsStoreError(err) {
		return err
	}
	if database.IsRetryable(database.Classify(err)) {
		return eventstore.NewTransientError(op, err)
	}
	return eventstore.NewInternalError(op, err)
}
