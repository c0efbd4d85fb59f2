package owner

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey int

const (
	// ownerContextKey is the key for storing an owner ID in a context.Context
	ownerContextKey contextKey = iota
)

// ContextWithID adds an owner ID to a context.Context.
//
// The context carrier exists for log enrichment and tracing only. Store and
// worker APIs take the owner as an explicit parameter and never read it from
// the context, so a stale or missing context value cannot leak one caller's
// identity into another's operation.
func ContextWithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ownerContextKey, id)
}

// FromContext retrieves the owner ID from a context.Context.
// If no ID is present it returns a zero ID and false.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(ownerContextKey).(ID)
	return id, ok
}
