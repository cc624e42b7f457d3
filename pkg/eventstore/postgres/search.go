package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

// Search implements eventstore.Querier. Each filter becomes one
// parenthesized conjunction; the conjunctions are unioned with OR, the
// exclusion is negated on top, and the union is ordered globally.
func (s *Store) Search(ctx context.Context, query *eventstore.SearchQuery) ([]eventstore.Event, error) {
	const op = "postgres.Search"

	var (
		args   queryArgs
		groups []string
	)
	for _, filter := range query.Filters {
		conds := filterConditions(filter, &args)
		if len(conds) == 0 {
			// An empty filter matches everything, so the union does too.
			groups = []string{"TRUE"}
			break
		}
		groups = append(groups, "("+strings.Join(conds, " AND ")+")")
	}

	where := strings.Join(groups, " OR ")
	if query.Exclude != nil {
		if conds := filterConditions(query.Exclude, &args); len(conds) > 0 {
			where = "(" + where + ") AND NOT (" + strings.Join(conds, " AND ") + ")"
		}
	}

	stmt := "SELECT " + eventColumns + " FROM events WHERE " + where + orderClause(query.Desc)
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, s.mapQueryError(op, err)
	}
	return s.scanEvents(op, rows)
}
