package eventstore

import (
	"errors"
	"fmt"
)

// Kind classifies store errors for callers that dispatch on outcome
// instead of matching engine-specific error strings.
type Kind int

const (
	// KindInternal covers programming and schema errors. Not expected at
	// steady state.
	KindInternal Kind = iota

	// KindInvalidArgument covers structural validation failures. No
	// transaction is opened for them.
	KindInvalidArgument

	// KindConcurrency is an optimistic version mismatch.
	KindConcurrency

	// KindUniqueConstraintViolation is a clash on a uniqueness claim. It
	// is an application-level conflict and never retried.
	KindUniqueConstraintViolation

	// KindNotFound is reserved for explicit by-id lookups.
	KindNotFound

	// KindTransient is a retryable database failure, surfaced once the
	// retry budget is exhausted.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConcurrency:
		return "concurrency"
	case KindUniqueConstraintViolation:
		return "unique_constraint_violation"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

type (
	// Error is the base error of the store. Every error leaving the
	// package wraps it, directly or through one of the typed errors below.
	Error struct {
		Kind    Kind
		Op      string // operation that failed
		Message string
		Err     error // underlying cause, may be nil
	}

	// storeError aliases Error for embedding: embedding Error directly
	// would name the field Error and shadow the promoted Error method.
	storeError = Error

	// InvalidArgumentError reports which field failed validation.
	InvalidArgumentError struct {
		storeError
		Field string
	}

	// ConcurrencyError carries both sides of a failed version check.
	ConcurrencyError struct {
		storeError
		ExpectedVersion uint64
		ActualVersion   uint64
	}

	// UniqueConstraintError identifies the clashing claim.
	UniqueConstraintError struct {
		storeError
		UniqueType  string
		UniqueField string
	}

	// NotFoundError names the resource an explicit lookup missed.
	NotFoundError struct {
		storeError
		Resource string
		ID       string
	}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// StoreKind exposes the classification through errors.As, including for
// the typed errors embedding Error.
func (e *Error) StoreKind() Kind { return e.Kind }

func invalidArgument(op, field, message string) error {
	return &InvalidArgumentError{
		storeError: Error{Kind: KindInvalidArgument, Op: op, Message: fmt.Sprintf("%s %s", field, message)},
		Field:      field,
	}
}

func internalErr(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

func transientErr(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// NewConcurrencyError builds the error surfaced by a failed optimistic
// concurrency check.
func NewConcurrencyError(op string, expected, actual uint64) error {
	return &ConcurrencyError{
		storeError: Error{
			Kind:    KindConcurrency,
			Op:      op,
			Message: fmt.Sprintf("expected aggregate version %d, current is %d", expected, actual),
		},
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// NewUniqueConstraintError builds the error surfaced by a clashing claim.
func NewUniqueConstraintError(op, uniqueType, uniqueField string, cause error) error {
	return &UniqueConstraintError{
		storeError: Error{
			Kind:    KindUniqueConstraintViolation,
			Op:      op,
			Message: fmt.Sprintf("%q is already taken for %s", uniqueField, uniqueType),
			Err:     cause,
		},
		UniqueType:  uniqueType,
		UniqueField: uniqueField,
	}
}

// NewNotFoundError builds the error surfaced by a by-id lookup that
// matched nothing.
func NewNotFoundError(op, resource, id string) error {
	return &NotFoundError{
		storeError: Error{
			Kind:    KindNotFound,
			Op:      op,
			Message: fmt.Sprintf("%s %q not found", resource, id),
		},
		Resource: resource,
		ID:       id,
	}
}

// NewTransientError wraps a retryable database failure.
func NewTransientError(op string, err error) error {
	return transientErr(op, err)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(op string, err error) error {
	return internalErr(op, err)
}

// KindOf extracts the classification of err, or KindInternal if err does
// not originate from the store.
func KindOf(err error) Kind {
	var k interface{ StoreKind() Kind }
	if errors.As(err, &k) {
		return k.StoreKind()
	}
	return KindInternal
}

// IsStoreError reports whether err carries the store's classification.
func IsStoreError(err error) bool {
	var k interface{ StoreKind() Kind }
	return errors.As(err, &k)
}

// IsInvalidArgument reports whether err is a validation failure.
func IsInvalidArgument(err error) bool {
	var e *InvalidArgumentError
	return errors.As(err, &e)
}

// IsConcurrencyError reports whether err is an optimistic concurrency
// conflict.
func IsConcurrencyError(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

// IsUniqueConstraintError reports whether err is a uniqueness clash.
func IsUniqueConstraintError(err error) bool {
	var e *UniqueConstraintError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a missed by-id lookup.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
