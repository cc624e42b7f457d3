package database

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class is the neutral classification of a database failure. The mapping
// from engine-specific SQLSTATEs happens exactly once, here.
type Class int

const (
	// ClassFatal covers programming and schema errors; retrying cannot
	// help.
	ClassFatal Class = iota

	// ClassSerializationFailure is SQLSTATE 40001.
	ClassSerializationFailure

	// ClassDeadlockDetected is SQLSTATE 40P01.
	ClassDeadlockDetected

	// ClassLockUnavailable is SQLSTATE 55P03.
	ClassLockUnavailable

	// ClassUniqueViolation is SQLSTATE 23505.
	ClassUniqueViolation

	// ClassTransient covers connection-level failures that a fresh
	// attempt may not hit.
	ClassTransient

	// ClassNoRows is a by-id lookup that matched nothing.
	ClassNoRows
)

func (c Class) String() string {
	switch c {
	case ClassSerializationFailure:
		return "serialization_failure"
	case ClassDeadlockDetected:
		return "deadlock_detected"
	case ClassLockUnavailable:
		return "lock_unavailable"
	case ClassUniqueViolation:
		return "unique_violation"
	case ClassTransient:
		return "transient"
	case ClassNoRows:
		return "no_rows"
	default:
		return "fatal"
	}
}

// Classify maps err to its neutral class.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ClassNoRows
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return ClassSerializationFailure
		case "40P01":
			return ClassDeadlockDetected
		case "55P03":
			return ClassLockUnavailable
		case "23505":
			return ClassUniqueViolation
		}
		// Class 08: connection exceptions.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return ClassTransient
		}
		return ClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if pgconn.SafeToRetry(err) {
		return ClassTransient
	}
	return ClassFatal
}

// IsRetryable reports whether a fresh transaction attempt may succeed.
// Unique violations are deliberately excluded: whether one is a version
// race or an application conflict depends on the violated constraint,
// which only the caller knows.
func IsRetryable(class Class) bool {
	switch class {
	case ClassSerializationFailure, ClassDeadlockDetected, ClassLockUnavailable, ClassTransient:
		return true
	}
	return false
}

// ConstraintName extracts the violated constraint of a unique violation,
// or "" when err is not one.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
