package eventstore

import "time"

// Filter selects events conjunctively: every set field narrows the
// result. Slice fields match by membership, the position anchor is
// greater-or-equal on the decimal part.
type Filter struct {
	AggregateTypes []string
	AggregateIDs   []string
	EventTypes     []string
	InstanceID     string
	Owner          string
	Creator        string
	CreatedAtFrom  time.Time
	CreatedAtTo    time.Time

	// Position anchors the scan: only events with a position greater than
	// or equal to it are returned.
	Position *Position

	// Limit bounds the result set, 0 means unbounded.
	Limit uint64

	// Desc reverses the primary sort on position. The secondary sort on
	// in-transaction order stays ascending under either direction so the
	// commit order inside a transaction is deterministic.
	Desc bool
}

// Validate reports whether the filter can be turned into a query.
func (f *Filter) Validate() error {
	if f == nil {
		return invalidArgument("filter.Validate", "Filter", "must not be nil")
	}
	return nil
}

// SearchQuery unions the result sets of its filters (OR-semantics),
// optionally removes events matching Exclude, then orders the union
// globally by position and applies Limit.
type SearchQuery struct {
	Filters []*Filter
	Exclude *Filter
	Limit   uint64
	Desc    bool
}

// Validate reports whether the query contains at least one usable filter.
func (q *SearchQuery) Validate() error {
	if q == nil || len(q.Filters) == 0 {
		return invalidArgument("searchQuery.Validate", "Filters", "must not be empty")
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
