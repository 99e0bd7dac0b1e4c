// Package db is the Store (spec.md §3, §4.H, §6): a pgx-backed
// Postgres client that binds every transaction to the tenant set from
// internal/binder before running a single query, so isolation is
// enforced by Postgres row-level-security policies rather than by
// application WHERE clauses.
//
// Grounded on the teacher's internal/db.Database, which instruments
// every pool operation with an OpenTelemetry span and sets a
// connection-scoped RLS parameter in pgxpool's BeforeAcquire hook. That
// pattern fits a single bound id per connection; this Store binds a
// *set* of tenant ids per caller, which only Postgres's SET LOCAL
// (transaction-scoped) can express correctly across a shared pool — so
// every Store method opens an explicit transaction and calls
// bindTenantFilter right after BEGIN, which is the generalization of
// the teacher's "after transaction begin" hook spec.md §4.H asks for.
package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/tableup/scheduler/internal/binder"
)

var queryLatency metric.Float64Histogram

// Database wraps a pgx connection pool.
type Database struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies connectivity.
func New(ctx context.Context, dsn string) (*Database, error) {
	meter := otel.Meter("tableup-db")
	var err error
	queryLatency, err = meter.Float64Histogram("db.query.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create db.query.latency instrument: %w", err)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	pingCtx, span := otel.Tracer("tableup-db").Start(ctx, "db.ping")
	defer span.End()
	if err := pool.Ping(pingCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Database{pool: pool}, nil
}

func (d *Database) Pool() *pgxpool.Pool { return d.pool }

func (d *Database) Close() { d.pool.Close() }

func (d *Database) Health(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// WithTx opens a transaction, binds the caller's tenant filter, runs
// fn, and commits iff fn returns nil. Every Store method is built on
// top of this — see spec.md §4.H's isolation requirement and §4.D's
// "materialize must be atomic with the session write".
func (d *Database) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	start := time.Now()
	ctx, span := otel.Tracer("tableup-db").Start(ctx, "db.transaction")
	defer func() {
		queryLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := bindTenantFilter(ctx, tx); err != nil {
		tx.Rollback(ctx)
		span.RecordError(err)
		return fmt.Errorf("bind tenant filter: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// bindTenantFilter sets the session-local RLS parameter from the
// context's bound tenant set (internal/binder). Absent binding leaves
// the parameter unset — trusted principal, sees every tenant — per
// spec.md §4.H: "Daemons do not bind — they need to see all tenants."
func bindTenantFilter(ctx context.Context, tx pgx.Tx) error {
	ids, ok := binder.Bound(ctx)
	if !ok {
		return nil
	}
	_, err := tx.Exec(ctx, `SELECT set_config('app.tenant_ids', $1, true)`, joinInt64(ids))
	return err
}

func joinInt64(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
