package eventstore

import "strings"

// UniqueConstraintAction defines how a constraint row changes alongside
// the event that carries it.
type UniqueConstraintAction int

const (
	// UniqueConstraintAdd claims a unique value. The claim fails if the
	// value is already held.
	UniqueConstraintAdd UniqueConstraintAction = iota

	// UniqueConstraintRemove releases a previously claimed value. Removing
	// an absent claim is a no-op.
	UniqueConstraintRemove

	// UniqueConstraintInstanceRemove releases every claim of the command's
	// instance. Used on tenant teardown.
	UniqueConstraintInstanceRemove
)

// UniqueConstraint is a uniqueness claim stored in the same transaction
// as the events of a push. A claim exists until a later event releases it.
type UniqueConstraint struct {
	// UniqueType names the constraint kind (e.g. "usernames").
	UniqueType string

	// UniqueField is the claimed value. It is folded to lower case before
	// it hits the table.
	UniqueField string

	// Action determines whether the claim is added or removed.
	Action UniqueConstraintAction

	// IsGlobal scopes the claim across all instances instead of the
	// command's instance.
	IsGlobal bool
}

// NewAddUniqueConstraint claims value for the command's instance.
func NewAddUniqueConstraint(uniqueType, value string) *UniqueConstraint {
	return &UniqueConstraint{
		UniqueType:  uniqueType,
		UniqueField: strings.ToLower(value),
		Action:      UniqueConstraintAdd,
	}
}

// NewAddGlobalUniqueConstraint claims value across all instances.
func NewAddGlobalUniqueConstraint(uniqueType, value string) *UniqueConstraint {
	return &UniqueConstraint{
		UniqueType:  uniqueType,
		UniqueField: strings.ToLower(value),
		Action:      UniqueConstraintAdd,
		IsGlobal:    true,
	}
}

// NewRemoveUniqueConstraint releases value for the command's instance.
func NewRemoveUniqueConstraint(uniqueType, value string) *UniqueConstraint {
	return &UniqueConstraint{
		UniqueType:  uniqueType,
		UniqueField: strings.ToLower(value),
		Action:      UniqueConstraintRemove,
	}
}

// NewRemoveGlobalUniqueConstraint releases a globally scoped value.
func NewRemoveGlobalUniqueConstraint(uniqueType, value string) *UniqueConstraint {
	return &UniqueConstraint{
		UniqueType:  uniqueType,
		UniqueField: strings.ToLower(value),
		Action:      UniqueConstraintRemove,
		IsGlobal:    true,
	}
}

// NewRemoveInstanceUniqueConstraints releases every claim of the
// command's instance.
func NewRemoveInstanceUniqueConstraints() *UniqueConstraint {
	return &UniqueConstraint{Action: UniqueConstraintInstanceRemove}
}
