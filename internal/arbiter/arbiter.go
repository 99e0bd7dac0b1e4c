// Package arbiter implements the Slot Arbiter (spec.md §4.G): a pure
// function that partitions a session's participants into confirmed
// seats and waitlist, plus a change-detector that diffs two partitions
// to find newly-promoted users.
package arbiter

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/models"
)

// Partition is the arbiter's output: a total split of the input.
type Partition struct {
	Confirmed []models.Participant
	Waitlist  []models.Participant
}

// Arbiter partitions participants into confirmed and waitlisted seats.
//
// Sort key (total order), per spec.md §4.G:
//
//	tier 0: PositionPrePopulated (real pre-fills AND placeholders alike)
//	  ordered by (PreFillPosition asc nulls-last, JoinedAt asc, ID asc)
//	tier 1: everything else (SELF_ADDED)
//	  ordered by (JoinedAt asc, ID asc)
//
// The first maxPlayers entries (in that order) are confirmed; the rest
// waitlist. A nil maxPlayers confirms everyone.
//
// Decision (Open Question #1, spec.md §9): placeholder participants
// (UserID nil) occupy a tier-0 slot exactly like real pre-fills — they
// count against maxPlayers.
func Arbiter(participants []models.Participant, maxPlayers *int) Partition {
	ordered := make([]models.Participant, len(participants))
	copy(ordered, participants)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		at, bt := tier(a), tier(b)
		if at != bt {
			return at < bt
		}
		if at == 0 {
			ap, bp := prefillKey(a), prefillKey(b)
			if ap != bp {
				return ap < bp
			}
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return idLess(a.ID, b.ID)
	})

	if maxPlayers == nil {
		return Partition{Confirmed: ordered, Waitlist: nil}
	}

	n := *maxPlayers
	if n < 0 {
		n = 0
	}
	if n >= len(ordered) {
		return Partition{Confirmed: ordered, Waitlist: []models.Participant{}}
	}
	return Partition{
		Confirmed: append([]models.Participant{}, ordered[:n]...),
		Waitlist:  append([]models.Participant{}, ordered[n:]...),
	}
}

func tier(p models.Participant) int {
	if p.PositionType == models.PositionPrePopulated {
		return 0
	}
	return 1
}

// prefillKey sorts nil PreFillPosition last within tier 0, as the spec
// requires ("ASC NULLS LAST").
func prefillKey(p models.Participant) int {
	if p.PreFillPosition == nil {
		return int(^uint(0) >> 1) // max int
	}
	return *p.PreFillPosition
}

func idLess(a, b uuid.UUID) bool {
	return a.String() < b.String()
}

// Promoted returns the user ids that moved from waitlist (or absent) in
// before to confirmed in after, per spec.md §4.G's promotion detector.
// Only non-nil UserID participants can be promoted (placeholders have
// nobody to notify).
func Promoted(before, after Partition) []uuid.UUID {
	beforeConfirmed := make(map[uuid.UUID]struct{}, len(before.Confirmed))
	for _, p := range before.Confirmed {
		if p.UserID != nil {
			beforeConfirmed[*p.UserID] = struct{}{}
		}
	}

	var promoted []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, p := range after.Confirmed {
		if p.UserID == nil {
			continue
		}
		uid := *p.UserID
		if _, already := beforeConfirmed[uid]; already {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		promoted = append(promoted, uid)
	}
	return promoted
}
