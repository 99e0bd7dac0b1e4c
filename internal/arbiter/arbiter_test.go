package arbiter

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/models"
)

func user(id string) *uuid.UUID {
	u := uuid.MustParse(id)
	return &u
}

func pos(n int) *int { return &n }

func TestArbiter_TotalityAndDeterminism(t *testing.T) {
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	participants := []models.Participant{
		{ID: uuid.New(), UserID: user("00000000-0000-0000-0000-000000000001"), PositionType: models.PositionSelfAdded, JoinedAt: base.Add(2 * time.Minute)},
		{ID: uuid.New(), UserID: user("00000000-0000-0000-0000-000000000002"), PositionType: models.PositionPrePopulated, JoinedAt: base, PreFillPosition: pos(1)},
		{ID: uuid.New(), UserID: nil, DisplayName: strPtr("Placeholder"), PositionType: models.PositionPrePopulated, JoinedAt: base, PreFillPosition: pos(2)},
		{ID: uuid.New(), UserID: user("00000000-0000-0000-0000-000000000003"), PositionType: models.PositionSelfAdded, JoinedAt: base.Add(1 * time.Minute)},
	}
	max := 2

	p1 := Arbiter(participants, &max)
	p2 := Arbiter(participants, &max)

	require.Equal(t, len(participants), len(p1.Confirmed)+len(p1.Waitlist))
	assert.Equal(t, p1, p2, "arbiter must be deterministic")

	// Tier 0 (pre-populated, including the placeholder) fills both seats
	// ahead of any tier-1 self-added participant.
	require.Len(t, p1.Confirmed, 2)
	assert.Equal(t, models.PositionPrePopulated, p1.Confirmed[0].PositionType)
	assert.Equal(t, models.PositionPrePopulated, p1.Confirmed[1].PositionType)
}

func TestArbiter_NilMaxConfirmsAll(t *testing.T) {
	participants := []models.Participant{
		{ID: uuid.New(), UserID: user("00000000-0000-0000-0000-000000000001"), PositionType: models.PositionSelfAdded, JoinedAt: time.Now()},
	}
	p := Arbiter(participants, nil)
	assert.Len(t, p.Confirmed, 1)
	assert.Empty(t, p.Waitlist)
}

func TestPromoted_OneSeatOpensUp(t *testing.T) {
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	u1 := user("00000000-0000-0000-0000-000000000001")
	u2 := user("00000000-0000-0000-0000-000000000002")

	before := Partition{
		Confirmed: []models.Participant{{ID: uuid.New(), UserID: u1, JoinedAt: base}},
		Waitlist:  []models.Participant{{ID: uuid.New(), UserID: u2, JoinedAt: base.Add(time.Minute)}},
	}
	after := Partition{
		Confirmed: []models.Participant{
			{ID: uuid.New(), UserID: u1, JoinedAt: base},
			{ID: uuid.New(), UserID: u2, JoinedAt: base.Add(time.Minute)},
		},
	}

	promoted := Promoted(before, after)
	require.Len(t, promoted, 1)
	assert.Equal(t, *u2, promoted[0])
}

func TestPromoted_NoChangeIsEmpty(t *testing.T) {
	u1 := user("00000000-0000-0000-0000-000000000001")
	same := Partition{Confirmed: []models.Participant{{ID: uuid.New(), UserID: u1}}}
	assert.Empty(t, Promoted(same, same))
}

func strPtr(s string) *string { return &s }
