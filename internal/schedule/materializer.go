// Package schedule implements the Schedule Materializer: on every
// session mutation it recomputes the full set of future reminder and
// status-transition instants for that session and reconciles them into
// the notification_schedules table, inside the same transaction that
// wrote the session.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

const defaultDurationMinutes = 60

var defaultOffsets = []int{60, 15}

// Store is the subset of internal/db.Database the Materializer needs;
// *db.Database satisfies this structurally, so this package never
// imports internal/db and stays a pure reconciliation routine.
type Store interface {
	ListNonDispatched(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]models.NotificationSchedule, error)
	Insert(ctx context.Context, tx pgx.Tx, row models.NotificationSchedule) error
	Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	DeleteAllNonDispatched(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) error
}

// Inherited carries the channel/tenant defaults the effective offset
// sequence is resolved against (spec.md §4.D step 1).
type Inherited struct {
	ChannelOffsets []int
	TenantOffsets  []int
}

// EffectiveOffsets resolves session.offsets ?? channel.offsets ??
// tenant.offsets ?? [60, 15].
func EffectiveOffsets(sessionOffsets []int, in Inherited) []int {
	switch {
	case len(sessionOffsets) > 0:
		return sessionOffsets
	case len(in.ChannelOffsets) > 0:
		return in.ChannelOffsets
	case len(in.TenantOffsets) > 0:
		return in.TenantOffsets
	default:
		return defaultOffsets
	}
}

// Materialize reconciles notification_schedules for session so it
// holds exactly one non-dispatched row per pending reminder offset and
// per pending status transition. Must run inside the same transaction
// as the session write that triggered it; a non-nil error means the
// caller must roll back the whole mutation.
func Materialize(ctx context.Context, tx pgx.Tx, store Store, session *models.Session, in Inherited, now time.Time) error {
	if session.Status == models.StatusCancelled {
		return store.DeleteAllNonDispatched(ctx, tx, session.ID)
	}

	expected := expectedRows(session, in, now)
	existing, err := store.ListNonDispatched(ctx, tx, session.ID)
	if err != nil {
		return fmt.Errorf("list existing schedule rows: %w", err)
	}

	existingByKey := make(map[string]models.NotificationSchedule, len(existing))
	for _, row := range existing {
		existingByKey[canonicalKey(row)] = row
	}

	expectedKeys := make(map[string]struct{}, len(expected))
	for _, row := range expected {
		key := canonicalKey(row)
		expectedKeys[key] = struct{}{}
		if _, ok := existingByKey[key]; ok {
			continue
		}
		row.SessionID = session.ID
		if err := store.Insert(ctx, tx, row); err != nil {
			return fmt.Errorf("insert schedule row: %w", err)
		}
	}

	for key, row := range existingByKey {
		if _, ok := expectedKeys[key]; ok {
			continue
		}
		if err := store.Delete(ctx, tx, row.ID); err != nil {
			return fmt.Errorf("delete superfluous schedule row: %w", err)
		}
	}
	return nil
}

func expectedRows(session *models.Session, in Inherited, now time.Time) []models.NotificationSchedule {
	duration := defaultDurationMinutes
	if session.DurationMinutes > 0 {
		duration = session.DurationMinutes
	}
	endsAt := session.ScheduledAt.Add(time.Duration(duration) * time.Minute)

	offsets := EffectiveOffsets(session.ReminderOffsets, in)
	seen := make(map[int]struct{}, len(offsets))
	var rows []models.NotificationSchedule

	for _, offset := range offsets {
		if _, dup := seen[offset]; dup {
			continue
		}
		seen[offset] = struct{}{}

		dueAt := session.ScheduledAt.Add(-time.Duration(offset) * time.Minute)
		if !dueAt.After(now) {
			continue
		}
		rows = append(rows, models.NotificationSchedule{
			SessionID:       session.ID,
			Kind:            models.KindReminder,
			DueAt:           dueAt,
			GameScheduledAt: session.ScheduledAt,
			Payload:         models.SchedulePayload{OffsetMinutes: offset},
		})
	}

	rows = append(rows, models.NotificationSchedule{
		SessionID:       session.ID,
		Kind:            models.KindStatusTransition,
		DueAt:           session.ScheduledAt,
		GameScheduledAt: session.ScheduledAt,
		Payload:         models.SchedulePayload{TargetStatus: models.StatusInProgress},
	})
	rows = append(rows, models.NotificationSchedule{
		SessionID:       session.ID,
		Kind:            models.KindStatusTransition,
		DueAt:           endsAt,
		GameScheduledAt: session.ScheduledAt,
		Payload:         models.SchedulePayload{TargetStatus: models.StatusCompleted},
	})

	sort.Slice(rows, func(i, j int) bool { return rows[i].DueAt.Before(rows[j].DueAt) })
	return rows
}

// canonicalKey is the diff key spec.md §4.D names: (kind, due_at,
// payload-canonical-form). due_at is truncated to the second since
// that's the coarsest precision the schema stores.
func canonicalKey(row models.NotificationSchedule) string {
	switch row.Kind {
	case models.KindReminder:
		return fmt.Sprintf("R|%d|%d", row.DueAt.Unix(), row.Payload.OffsetMinutes)
	default:
		return fmt.Sprintf("S|%d|%s", row.DueAt.Unix(), row.Payload.TargetStatus)
	}
}
