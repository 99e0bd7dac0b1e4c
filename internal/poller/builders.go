package poller

import (
	"time"

	"github.com/tableup/scheduler/internal/models"
)

// ReminderBuilder emits reminder.due with a TTL of time-until-game: a
// reminder that arrives after the game has started is a lie, so the
// broker should drop it rather than deliver it late.
func ReminderBuilder(row models.NotificationSchedule) (string, models.Event, *time.Duration) {
	ttl := time.Until(row.GameScheduledAt)
	if ttl < 0 {
		ttl = 0
	}
	event := models.Event{
		Type: models.EventReminderDue,
		Data: models.ReminderDuePayload{
			SessionID:       row.SessionID,
			OffsetMinutes:   row.Payload.OffsetMinutes,
			GameScheduledAt: row.GameScheduledAt,
		},
		OccurredAt: time.Now().UTC(),
	}
	return models.EventReminderDue, event, &ttl
}

// StatusTransitionBuilder emits session.status_changed with no TTL: a
// status flip must never be silently dropped, so an undeliverable
// publish simply stays undispatched and retries next tick.
func StatusTransitionBuilder(row models.NotificationSchedule) (string, models.Event, *time.Duration) {
	event := models.Event{
		Type: models.EventSessionStatusChanged,
		Data: models.StatusChangedPayload{
			SessionID:    row.SessionID,
			TargetStatus: row.Payload.TargetStatus,
		},
		OccurredAt: time.Now().UTC(),
	}
	return models.EventSessionStatusChanged, event, nil
}
