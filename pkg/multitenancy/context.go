// Package multitenancy carries the instance (tenant) identity through
// request contexts. Commands pushed without an explicit instance inherit
// the one bound to their context.
package multitenancy

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var instanceIDKey contextKey

// WithInstanceID binds an instance ID to the context.
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

// InstanceID returns the instance ID bound to the context, or the empty
// string when none is bound.
func InstanceID(ctx context.Context) string {
	id, _ := ctx.Value(instanceIDKey).(string)
	return id
}

// HasInstanceID reports whether the context carries an instance ID.
func HasInstanceID(ctx context.Context) bool {
	return InstanceID(ctx) != ""
}
