// Package contextkey centralizes the typed keys stashed on request/task
// contexts so packages never collide on a raw string key.
package contextkey

type key int

const (
	// KeyRequestID identifies the per-request correlation id.
	KeyRequestID key = iota
	// KeyUserID identifies the authenticated principal's user id.
	KeyUserID
	// KeyTenantIDs identifies the set of tenant external ids the current
	// task is bound to (see internal/binder). Absent means "trusted
	// principal, no isolation filter" (daemons, migrations).
	KeyTenantIDs
)
