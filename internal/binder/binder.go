// Package binder implements the Session Binder (spec.md §4.H): the
// per-request hook that records which tenants the current caller may
// see, so the Store can enforce isolation via row-level policies
// instead of application-level WHERE clauses.
//
// The teacher's internal/db.New sets "app.user_id" via pgxpool's
// BeforeAcquire hook, reading a single uuid.UUID out of context
// (internal/contextkey.ContextKeyUserID). This package generalizes
// that one-id-per-request pattern to "a set of tenant external ids per
// task", and internal/db consults it the same way — BeforeAcquire
// reads Bound(ctx) and issues SET LOCAL before the first query.
package binder

import (
	"context"

	"github.com/tableup/scheduler/internal/contextkey"
)

// Bind returns a derived context carrying the set of tenant external
// ids the caller may see. Call once per request/task, as soon as the
// caller's tenant membership is known.
func Bind(ctx context.Context, tenantExternalIDs []int64) context.Context {
	return context.WithValue(ctx, contextkey.KeyTenantIDs, tenantExternalIDs)
}

// Bound returns the tenant external ids bound on ctx, and whether any
// binding is present at all. Daemons and migrations never bind —
// callers must check ok before trusting an empty slice is intentional.
func Bound(ctx context.Context) (ids []int64, ok bool) {
	v, ok := ctx.Value(contextkey.KeyTenantIDs).([]int64)
	return v, ok
}
