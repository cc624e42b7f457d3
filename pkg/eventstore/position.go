package eventstore

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position marks a point in the global event stream.
//
// The decimal part is assigned by the database from a monotonic wall-clock
// source once per transaction, so every event committed in the same
// transaction shares it. InTxOrder disambiguates events within that
// transaction. The total order over positions is lexicographic on
// (Position, InTxOrder).
type Position struct {
	// Position is the transaction-scoped decimal marker. It must never be
	// converted to a float: equality on tied positions is load-bearing.
	Position decimal.Decimal

	// InTxOrder is the 0-based index of the event among all events
	// committed in the same transaction.
	InTxOrder uint32
}

// NewPosition builds a position from its decimal string representation.
// It panics on malformed input and is intended for tests and fixtures.
func NewPosition(position string, inTxOrder uint32) Position {
	return Position{
		Position:  decimal.RequireFromString(position),
		InTxOrder: inTxOrder,
	}
}

// Compare returns -1 if p sorts before other, 0 if both are equal and +1
// if p sorts after other.
func (p Position) Compare(other Position) int {
	if cmp := p.Position.Cmp(other.Position); cmp != 0 {
		return cmp
	}
	switch {
	case p.InTxOrder < other.InTxOrder:
		return -1
	case p.InTxOrder > other.InTxOrder:
		return 1
	}
	return 0
}

// Before reports whether p sorts strictly before other.
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

// After reports whether p sorts strictly after other.
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// IsZero reports whether p is the zero position, the anchor from which a
// full replay starts.
func (p Position) IsZero() bool {
	return p.Position.IsZero() && p.InTxOrder == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s.%d", p.Position.String(), p.InTxOrder)
}
