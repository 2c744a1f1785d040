// Package counter defines the port for the shared atomic counter cache that
// backs per-project HITL action counters.
package counter

import "context"

// Cache is an atomic integer store shared by every replica.
//
// Incr must be atomic across concurrent callers: N concurrent Incr calls on
// the same key return N distinct consecutive values.
type Cache interface {
	// Incr adds one to key, creating it at zero first, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Get returns the current value, or zero when key is absent.
	Get(ctx context.Context, key string) (int64, error)

	// Set overwrites key with value.
	Set(ctx context.Context, key string, value int64) error
}

// Key returns the counter key for a project.
func Key(projectID string) string {
	return "hitl.counter." + projectID
}
