package eventstore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind eventstore.Kind
		is   func(error) bool
	}{
		{
			name: "concurrency",
			err:  eventstore.NewConcurrencyError("push", 3, 5),
			kind: eventstore.KindConcurrency,
			is:   eventstore.IsConcurrencyError,
		},
		{
			name: "unique constraint",
			err:  eventstore.NewUniqueConstraintError("push", "usernames", "alice", nil),
			kind: eventstore.KindUniqueConstraintViolation,
			is:   eventstore.IsUniqueConstraintError,
		},
		{
			name: "not found",
			err:  eventstore.NewNotFoundError("query", "aggregate", "user-1"),
			kind: eventstore.KindNotFound,
			is:   eventstore.IsNotFound,
		},
		{
			name: "transient",
			err:  eventstore.NewTransientError("push", errors.New("deadlock")),
			kind: eventstore.KindTransient,
			is:   eventstore.IsTransient,
		},
		{
			name: "internal",
			err:  eventstore.NewInternalError("push", errors.New("boom")),
			kind: eventstore.KindInternal,
			is:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, eventstore.KindOf(tt.err))
			if tt.is != nil {
				assert.True(t, tt.is(tt.err))
			}

			// Classification must survive wrapping.
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.Equal(t, tt.kind, eventstore.KindOf(wrapped))
			if tt.is != nil {
				assert.True(t, tt.is(wrapped))
			}
		})
	}
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, eventstore.KindInternal, eventstore.KindOf(errors.New("plain")))
	assert.False(t, eventstore.IsStoreError(errors.New("plain")))
	assert.True(t, eventstore.IsStoreError(eventstore.NewTransientError("push", nil)))
}

func TestConcurrencyErrorCarriesVersions(t *testing.T) {
	err := eventstore.NewConcurrencyError("push", 3, 5)

	var concErr *eventstore.ConcurrencyError
	require.ErrorAs(t, err, &concErr)
	assert.Equal(t, uint64(3), concErr.ExpectedVersion)
	assert.Equal(t, uint64(5), concErr.ActualVersion)
	assert.Contains(t, err.Error(), "expected aggregate version 3")
}

func TestUniqueConstraintErrorCarriesClaim(t *testing.T) {
	cause := errors.New("duplicate key value")
	err := eventstore.NewUniqueConstraintError("push", "usernames", "alice", cause)

	var uniqueErr *eventstore.UniqueConstraintError
	require.ErrorAs(t, err, &uniqueErr)
	assert.Equal(t, "usernames", uniqueErr.UniqueType)
	assert.Equal(t, "alice", uniqueErr.UniqueField)
	assert.ErrorIs(t, err, cause)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "concurrency", eventstore.KindConcurrency.String())
	assert.Equal(t, "unique_constraint_violation", eventstore.KindUniqueConstraintViolation.String())
	assert.Equal(t, "internal", eventstore.KindInternal.String())
}
