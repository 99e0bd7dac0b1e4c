package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/models"
)

type fakeStore struct {
	rows map[uuid.UUID]models.NotificationSchedule
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uuid.UUID]models.NotificationSchedule{}}
}

func (f *fakeStore) ListNonDispatched(_ context.Context, _ pgx.Tx, sessionID uuid.UUID) ([]models.NotificationSchedule, error) {
	var out []models.NotificationSchedule
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.DispatchedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, _ pgx.Tx, row models.NotificationSchedule) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	f.rows[row.ID] = row
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) DeleteAllNonDispatched(_ context.Context, _ pgx.Tx, sessionID uuid.UUID) error {
	for id, r := range f.rows {
		if r.SessionID == sessionID && r.DispatchedAt == nil {
			delete(f.rows, id)
		}
	}
	return nil
}

func testSession(scheduledAt time.Time) *models.Session {
	return &models.Session{
		ID:              uuid.New(),
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
		Status:          models.StatusScheduled,
	}
}

func TestMaterialize_CreatesReminderAndTransitionRows(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	session := testSession(now.Add(2 * time.Hour))
	session.ReminderOffsets = []int{60, 15}

	store := newFakeStore()
	err := Materialize(context.Background(), nil, store, session, Inherited{}, now)
	require.NoError(t, err)

	rows, _ := store.ListNonDispatched(context.Background(), nil, session.ID)
	assert.Len(t, rows, 4) // 2 reminders + IN_PROGRESS + COMPLETED
}

func TestMaterialize_DropsPastReminderOffsets(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	// Game starts in 10 minutes: the 60-min-out reminder is already in the past.
	session := testSession(now.Add(10 * time.Minute))
	session.ReminderOffsets = []int{60, 5}

	store := newFakeStore()
	err := Materialize(context.Background(), nil, store, session, Inherited{}, now)
	require.NoError(t, err)

	rows, _ := store.ListNonDispatched(context.Background(), nil, session.ID)
	assert.Len(t, rows, 3) // one reminder (offset 5) + 2 transitions
}

func TestMaterialize_IsIdempotent(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	session := testSession(now.Add(3 * time.Hour))
	session.ReminderOffsets = []int{60, 15}

	store := newFakeStore()
	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))
	first, _ := store.ListNonDispatched(context.Background(), nil, session.ID)

	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))
	second, _ := store.ListNonDispatched(context.Background(), nil, session.ID)

	assert.ElementsMatch(t, idsOf(first), idsOf(second))
}

func TestMaterialize_ReconcilesOnOffsetChange(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	session := testSession(now.Add(3 * time.Hour))
	session.ReminderOffsets = []int{60, 15}

	store := newFakeStore()
	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))

	session.ReminderOffsets = []int{30}
	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))

	rows, _ := store.ListNonDispatched(context.Background(), nil, session.ID)
	assert.Len(t, rows, 3) // 1 reminder (30) + 2 transitions
	for _, r := range rows {
		if r.Kind == models.KindReminder {
			assert.Equal(t, 30, r.Payload.OffsetMinutes)
		}
	}
}

func TestMaterialize_CancellationClearsSchedule(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	session := testSession(now.Add(3 * time.Hour))
	session.ReminderOffsets = []int{60}

	store := newFakeStore()
	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))

	session.Status = models.StatusCancelled
	require.NoError(t, Materialize(context.Background(), nil, store, session, Inherited{}, now))

	rows, _ := store.ListNonDispatched(context.Background(), nil, session.ID)
	assert.Empty(t, rows)
}

func TestEffectiveOffsets_Inheritance(t *testing.T) {
	assert.Equal(t, []int{10}, EffectiveOffsets([]int{10}, Inherited{ChannelOffsets: []int{20}, TenantOffsets: []int{30}}))
	assert.Equal(t, []int{20}, EffectiveOffsets(nil, Inherited{ChannelOffsets: []int{20}, TenantOffsets: []int{30}}))
	assert.Equal(t, []int{30}, EffectiveOffsets(nil, Inherited{TenantOffsets: []int{30}}))
	assert.Equal(t, defaultOffsets, EffectiveOffsets(nil, Inherited{}))
}

func idsOf(rows []models.NotificationSchedule) []uuid.UUID {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}
