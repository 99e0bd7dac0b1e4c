// Package poller implements the Generic Poller Daemon (spec.md §4.E):
// one parameterized claim-build-publish-mark loop, instantiated once
// per NotificationSchedule kind. The loop shape — ticker-driven,
// graceful-shutdown-aware, retry-on-transient-failure — is grounded on
// the teacher's internal/persistence.MessageWriter batch loop.
package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

// Store is the subset of internal/db.Database the daemon needs.
type Store interface {
	// ClaimDue opens a transaction, claims up to batchSize due rows of
	// kind with FOR UPDATE SKIP LOCKED, and returns the open tx so the
	// caller can commit only after every row in the batch publishes
	// successfully.
	ClaimDue(ctx context.Context, kind models.ScheduleKind, now time.Time, batchSize int) (tx pgx.Tx, rows []models.NotificationSchedule, err error)
	MarkDispatchedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

// Publisher is the subset of internal/broker.Broker the daemon needs;
// *broker.Broker satisfies it structurally.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, ev models.Event, ttl time.Duration) error
	DrainDLQ(ctx context.Context, limit int) (int, error)
}

// Builder is a pure function row → (routing key, event, ttl). A nil
// ttl means "must not expire" (the status-transition builder).
type Builder func(row models.NotificationSchedule) (routingKey string, event models.Event, ttl *time.Duration)

type Daemon struct {
	kind         models.ScheduleKind
	store        Store
	broker       Publisher
	build        Builder
	pollInterval time.Duration
	batchSize    int
	dlqEvery     int // drain the DLQ once every dlqEvery ticks
	log          *logging.Logger
}

type Config struct {
	Kind         models.ScheduleKind
	Build        Builder
	PollInterval time.Duration
	BatchSize    int
	DLQInterval  time.Duration
}

func New(store Store, b Publisher, log *logging.Logger, cfg Config) *Daemon {
	dlqEvery := 1
	if cfg.PollInterval > 0 && cfg.DLQInterval > cfg.PollInterval {
		dlqEvery = int(cfg.DLQInterval / cfg.PollInterval)
	}
	return &Daemon{
		kind:         cfg.Kind,
		store:        store,
		broker:       b,
		build:        cfg.Build,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		dlqEvery:     dlqEvery,
		log:          log,
	}
}

// Run blocks until ctx is cancelled. A tick in progress always finishes
// its transaction (commit or rollback) before the loop exits, per
// spec.md §4.E's cancellation contract.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			d.poll(ctx)
			if tick%d.dlqEvery == 0 {
				d.drainDLQ(ctx)
			}
		}
	}
}

func (d *Daemon) poll(ctx context.Context) {
	tx, rows, err := d.store.ClaimDue(ctx, d.kind, time.Now().UTC(), d.batchSize)
	if err != nil {
		d.log.Error(ctx, "poller: claim failed", zap.String("kind", string(d.kind)), zap.Error(err))
		return
	}
	if len(rows) == 0 {
		tx.Rollback(ctx)
		return
	}

	for _, row := range rows {
		routingKey, event, ttl := d.build(row)
		var dur time.Duration
		if ttl != nil {
			dur = *ttl
		}
		if err := d.broker.Publish(ctx, routingKey, event, dur); err != nil {
			d.log.Error(ctx, "poller: publish failed, rolling back batch",
				zap.String("kind", string(d.kind)), zap.String("schedule_id", row.ID.String()), zap.Error(err))
			tx.Rollback(ctx)
			return
		}
		if err := d.store.MarkDispatchedTx(ctx, tx, row.ID, time.Now().UTC()); err != nil {
			d.log.Error(ctx, "poller: mark-dispatched failed, rolling back batch",
				zap.String("kind", string(d.kind)), zap.String("schedule_id", row.ID.String()), zap.Error(err))
			tx.Rollback(ctx)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		d.log.Error(ctx, "poller: commit failed", zap.String("kind", string(d.kind)), zap.Error(err))
	}
}

func (d *Daemon) drainDLQ(ctx context.Context) {
	n, err := d.broker.DrainDLQ(ctx, 100)
	if err != nil {
		d.log.Error(ctx, "poller: dlq drain failed", zap.String("kind", string(d.kind)), zap.Error(err))
		return
	}
	if n > 0 {
		d.log.Info(ctx, "poller: drained dlq messages", zap.String("kind", string(d.kind)), zap.Int("count", n))
	}
}
