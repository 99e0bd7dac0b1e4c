package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

// ListNonDispatched, Insert, Delete and DeleteAllNonDispatched together
// satisfy internal/schedule.Store: the Materializer never imports
// *db.Database directly, it only needs something that can read and
// write schedule rows inside the caller's transaction.

func (d *Database) ListNonDispatched(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]models.NotificationSchedule, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, kind, due_at, game_scheduled_at, payload, dispatched_at
		FROM notification_schedules
		WHERE session_id = $1 AND dispatched_at IS NULL`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NotificationSchedule
	for rows.Next() {
		row, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *Database) Insert(ctx context.Context, tx pgx.Tx, row models.NotificationSchedule) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO notification_schedules (id, session_id, kind, due_at, game_scheduled_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		row.ID, row.SessionID, row.Kind, row.DueAt, row.GameScheduledAt, payload)
	return err
}

func (d *Database) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM notification_schedules WHERE id = $1`, id)
	return err
}

func (d *Database) DeleteAllNonDispatched(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM notification_schedules WHERE session_id = $1 AND dispatched_at IS NULL`, sessionID)
	return err
}

// ClaimDue is the Generic Poller Daemon's claim step (spec.md §4.E):
// SKIP LOCKED lets several poller replicas run against the same table
// without blocking on each other's in-flight rows.
func (d *Database) ClaimDue(ctx context.Context, kind models.ScheduleKind, now time.Time, batchSize int) (tx pgx.Tx, rows []models.NotificationSchedule, err error) {
	tx, err = d.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}

	res, err := tx.Query(ctx, `
		SELECT id, session_id, kind, due_at, game_scheduled_at, payload, dispatched_at
		FROM notification_schedules
		WHERE kind = $1 AND dispatched_at IS NULL AND due_at <= $2
		ORDER BY due_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, kind, now, batchSize)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, err
	}
	for res.Next() {
		row, scanErr := scanScheduleRow(res)
		if scanErr != nil {
			res.Close()
			tx.Rollback(ctx)
			return nil, nil, scanErr
		}
		rows = append(rows, row)
	}
	rowsErr := res.Err()
	res.Close()
	if rowsErr != nil {
		tx.Rollback(ctx)
		return nil, nil, rowsErr
	}
	return tx, rows, nil
}

// MarkDispatchedTx stamps a claimed row as dispatched. The caller
// commits the surrounding tx (from ClaimDue) once the event has been
// published successfully — see internal/poller.
func (d *Database) MarkDispatchedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE notification_schedules SET dispatched_at = $2 WHERE id = $1`, id, at)
	return err
}

func scanScheduleRow(rows pgx.Rows) (models.NotificationSchedule, error) {
	var row models.NotificationSchedule
	var payload []byte
	if err := rows.Scan(&row.ID, &row.SessionID, &row.Kind, &row.DueAt,
		&row.GameScheduledAt, &payload, &row.DispatchedAt); err != nil {
		return row, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &row.Payload); err != nil {
			return row, err
		}
	}
	return row, nil
}
