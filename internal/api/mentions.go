package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/models"
)

const maxMentionSuggestions = 5

// resolveMention turns a human-readable "@mention" query into a User,
// per spec.md §4.J step 3: search tenant membership; ambiguous or
// unresolvable queries return a structured Invalid error carrying
// {input, reason, suggestions}.
func (r *Router) resolveMention(ctx context.Context, tenantExternalID int64, query string) (*models.User, error) {
	candidates, err := r.chat.SearchMembers(ctx, tenantExternalID, query, maxMentionSuggestions+1)
	if err != nil {
		return nil, apperr.Transient("search tenant members", err)
	}

	switch len(candidates) {
	case 0:
		return nil, apperr.Invalid("unresolvable mention").WithDetails(map[string]any{
			"input": query, "reason": "no matching member", "suggestions": []string{},
		})
	case 1:
		return r.store.UpsertUserByExternalID(ctx, candidates[0].ExternalID)
	default:
		names := make([]string, 0, len(candidates))
		for _, c := range candidates {
			if len(names) >= maxMentionSuggestions {
				break
			}
			names = append(names, c.DisplayName)
		}
		return nil, apperr.Invalid("ambiguous mention").WithDetails(map[string]any{
			"input": query, "reason": "multiple matching members", "suggestions": names,
		})
	}
}

// resolvePrePopulated turns the caller-supplied ordered list of
// prepopulated seats (each either an @mention or a bare display-name
// placeholder) into Participant rows with PreFillPosition assigned by
// list order.
func (r *Router) resolvePrePopulated(ctx context.Context, tenantExternalID int64, in []PrePopulatedInput) ([]models.Participant, error) {
	out := make([]models.Participant, 0, len(in))
	for i, item := range in {
		pos := i
		if item.Mention != nil {
			user, err := r.resolveMention(ctx, tenantExternalID, *item.Mention)
			if err != nil {
				return nil, err
			}
			out = append(out, models.Participant{
				ID:              uuid.New(),
				UserID:          &user.ID,
				JoinedAt:        time.Now().UTC(),
				PreFillPosition: &pos,
			})
			continue
		}
		name := sanitize(*item.DisplayName)
		out = append(out, models.Participant{
			ID:              uuid.New(),
			DisplayName:     &name,
			JoinedAt:        time.Now().UTC(),
			PreFillPosition: &pos,
		})
	}
	return out, nil
}
