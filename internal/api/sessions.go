package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/arbiter"
	"github.com/tableup/scheduler/internal/binder"
	"github.com/tableup/scheduler/internal/models"
	"github.com/tableup/scheduler/internal/schedule"
)

const defaultDurationMinutes = 60

// boundTenant resolves the Tenant row for the principal bound on req's
// context by internal/binder — the Command API always acts on behalf
// of exactly one tenant per request.
func (r *Router) boundTenant(req *http.Request) (*models.Tenant, error) {
	ids, ok := binder.Bound(req.Context())
	if !ok || len(ids) == 0 {
		return nil, apperr.Unauthorized("no bound tenant")
	}
	return r.store.GetTenantByExternalID(req.Context(), ids[0])
}

func (r *Router) inheritedOffsets(channel *models.Channel, tenant *models.Tenant) schedule.Inherited {
	return schedule.Inherited{ChannelOffsets: channel.OverrideOffsets, TenantOffsets: tenant.DefaultOffsets}
}

// publish fires an event after a mutation commits. A publish failure
// is logged, not surfaced to the caller — the mutation already
// committed, and the event is re-derivable from Store state.
func (r *Router) publish(ctx context.Context, eventType string, payload any) {
	if err := r.bkr.Publish(ctx, eventType, models.Event{Type: eventType, Data: payload, OccurredAt: time.Now().UTC()}, 0); err != nil {
		r.log.Error(ctx, "api: publish "+eventType+" failed")
	}
}

func (r *Router) sessionsCollection(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.createSession(w, req)
	case http.MethodGet:
		r.listSessions(w, req)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}

func (r *Router) sessionsItem(w http.ResponseWriter, req *http.Request) {
	idStr := strings.TrimPrefix(req.URL.Path, "/v1/sessions/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, apperr.Invalid("malformed session id"))
		return
	}
	switch req.Method {
	case http.MethodGet:
		r.getSession(w, req, id)
	case http.MethodPatch:
		r.updateSession(w, req, id)
	case http.MethodDelete:
		r.deleteSession(w, req, id)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}

func (r *Router) getSession(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	s, err := r.store.GetSessionByID(req.Context(), id)
	if err != nil {
		writeError(w, apperr.NotFound("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (r *Router) listSessions(w http.ResponseWriter, req *http.Request) {
	channelID, err := uuid.Parse(req.URL.Query().Get("channel_id"))
	if err != nil {
		writeError(w, apperr.Invalid("channel_id query param required"))
		return
	}
	sessions, err := r.store.ListSessionsByChannel(req.Context(), channelID)
	if err != nil {
		writeError(w, apperr.Transient("list sessions", err))
		return
	}
	out := make([]SessionResponse, len(sessions))
	for i := range sessions {
		out[i] = toSessionResponse(&sessions[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) createSession(w http.ResponseWriter, req *http.Request) {
	var in CreateSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, apperr.Invalid("malformed request body"))
		return
	}
	if in.ScheduledAt.IsZero() {
		writeError(w, apperr.Invalid("scheduled_at is required"))
		return
	}
	if in.MinPlayers != nil && in.MaxPlayers != nil && *in.MinPlayers > *in.MaxPlayers {
		writeError(w, apperr.Invalid("min_players must be <= max_players"))
		return
	}

	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := req.Context()

	channel, err := r.store.EnsureChannel(ctx, tenant.ID, in.ChannelExternalID)
	if err != nil {
		writeError(w, apperr.Transient("ensure channel", err))
		return
	}
	host, err := r.store.UpsertUserByExternalID(ctx, in.HostExternalID)
	if err != nil {
		writeError(w, apperr.Transient("upsert host", err))
		return
	}

	session := &models.Session{
		TenantID: tenant.ID, ChannelID: channel.ID, HostUserID: host.ID,
		Title:           sanitize(in.Title),
		Description:     sanitizePtr(in.Description),
		SignupInstr:     sanitizePtr(in.SignupInstr),
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: defaultDurationMinutes,
		Status:          models.StatusScheduled,
		MinPlayers:      in.MinPlayers,
		MaxPlayers:      in.MaxPlayers,
		ReminderOffsets: in.ReminderOffsets,
		NotifyRoleIDs:   in.NotifyRoleIDs,
	}
	if in.DurationMinutes != nil {
		session.DurationMinutes = *in.DurationMinutes
	}

	if in.TemplateID != nil {
		tmpl, err := r.store.GetTemplateByID(ctx, *in.TemplateID)
		if err != nil {
			writeError(w, apperr.NotFound("template not found"))
			return
		}
		applyTemplateDefaults(session, tmpl, in)
	}
	if session.Title == "" {
		writeError(w, apperr.Invalid("title is required"))
		return
	}

	prepopulated, err := r.resolvePrePopulated(ctx, tenant.ExternalID, in.PrePopulated)
	if err != nil {
		writeError(w, err)
		return
	}

	err = r.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := r.store.InsertSessionTx(ctx, tx, session); err != nil {
			return apperr.Transient("insert session", err)
		}
		if err := r.store.ReconcilePrePopulatedTx(ctx, tx, session.ID, prepopulated); err != nil {
			return apperr.Transient("reconcile prepopulated participants", err)
		}
		inherited := r.inheritedOffsets(channel, tenant)
		if err := schedule.Materialize(ctx, tx, r.store, session, inherited, time.Now().UTC()); err != nil {
			return apperr.Internal("materialize schedule", err)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	r.publish(ctx, models.EventGameCreated, models.SessionCreatedPayload{SessionID: session.ID, NotifyRoleIDs: session.NotifyRoleIDs})
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func applyTemplateDefaults(session *models.Session, tmpl *models.Template, in CreateSessionRequest) {
	if in.Title == "" && tmpl.DefaultTitle != nil {
		session.Title = sanitize(*tmpl.DefaultTitle)
	}
	if in.Description == nil && tmpl.DefaultDescription != nil {
		session.Description = sanitizePtr(tmpl.DefaultDescription)
	}
	if in.MaxPlayers == nil && tmpl.DefaultMaxPlayers != nil {
		session.MaxPlayers = tmpl.DefaultMaxPlayers
	}
	if in.MinPlayers == nil && tmpl.DefaultMinPlayers != nil {
		session.MinPlayers = tmpl.DefaultMinPlayers
	}
	if in.DurationMinutes == nil && tmpl.DefaultDurationMins != nil {
		session.DurationMinutes = *tmpl.DefaultDurationMins
	}
}

// updateSession applies the pre-populated-participant reconciliation
// algorithm (spec.md §4.J): resolve mentions outside the transaction
// (they call the chat platform), then inside one transaction — lock
// the session row, diff-reconcile seats, re-materialize the schedule
// if timing changed, and detect promotions by arbitrating before/after.
func (r *Router) updateSession(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	var in UpdateSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, apperr.Invalid("malformed request body"))
		return
	}
	if in.MinPlayers != nil && in.MaxPlayers != nil && *in.MinPlayers > *in.MaxPlayers {
		writeError(w, apperr.Invalid("min_players must be <= max_players"))
		return
	}

	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := req.Context()

	var prepopulated []models.Participant
	if in.PrePopulated != nil {
		prepopulated, err = r.resolvePrePopulated(ctx, tenant.ExternalID, in.PrePopulated)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	var (
		updated  *models.Session
		promoted []uuid.UUID
	)
	err = r.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		session, err := r.store.GetSessionForUpdateTx(ctx, tx, id)
		if err != nil {
			return apperr.NotFound("session not found")
		}

		before, err := r.store.ListParticipantsTx(ctx, tx, id)
		if err != nil {
			return apperr.Transient("list participants", err)
		}
		beforePartition := arbiter.Arbiter(before, session.MaxPlayers)

		timingChanged := applyUpdate(session, in)

		if err := r.store.UpdateSessionTx(ctx, tx, session); err != nil {
			return apperr.Transient("update session", err)
		}

		if in.PrePopulated != nil {
			if err := r.store.ReconcilePrePopulatedTx(ctx, tx, id, prepopulated); err != nil {
				return apperr.Transient("reconcile prepopulated participants", err)
			}
		}

		if timingChanged || session.Status == models.StatusCancelled {
			channel, err := r.store.GetChannelByID(ctx, session.ChannelID)
			if err != nil {
				return apperr.Transient("get channel", err)
			}
			inherited := r.inheritedOffsets(channel, tenant)
			if err := schedule.Materialize(ctx, tx, r.store, session, inherited, time.Now().UTC()); err != nil {
				return apperr.Internal("materialize schedule", err)
			}
		}

		after, err := r.store.ListParticipantsTx(ctx, tx, id)
		if err != nil {
			return apperr.Transient("list participants after update", err)
		}
		afterPartition := arbiter.Arbiter(after, session.MaxPlayers)
		promoted = arbiter.Promoted(beforePartition, afterPartition)

		updated = session
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	r.publish(ctx, models.EventGameUpdated, models.SessionRefPayload{SessionID: id})
	for _, uid := range promoted {
		r.publish(ctx, models.EventParticipantPromoted, models.ParticipantPromotedPayload{SessionID: id, UserID: uid})
	}
	if updated.Status == models.StatusCancelled {
		r.publish(ctx, models.EventGameCancelled, models.SessionRefPayload{SessionID: id})
	}

	writeJSON(w, http.StatusOK, toSessionResponse(updated))
}

// applyUpdate overlays non-nil request fields onto session, returning
// whether scheduled_at or duration_minutes changed (which forces a
// re-materialize per spec.md §4.D).
func applyUpdate(session *models.Session, in UpdateSessionRequest) (timingChanged bool) {
	if in.Title != nil {
		session.Title = sanitize(*in.Title)
	}
	if in.Description != nil {
		session.Description = sanitizePtr(in.Description)
	}
	if in.SignupInstr != nil {
		session.SignupInstr = sanitizePtr(in.SignupInstr)
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.UTC().Equal(session.ScheduledAt) {
		session.ScheduledAt = in.ScheduledAt.UTC()
		timingChanged = true
	}
	if in.DurationMinutes != nil && *in.DurationMinutes != session.DurationMinutes {
		session.DurationMinutes = *in.DurationMinutes
		timingChanged = true
	}
	if in.MinPlayers != nil {
		session.MinPlayers = in.MinPlayers
	}
	if in.MaxPlayers != nil {
		session.MaxPlayers = in.MaxPlayers
	}
	if in.ReminderOffsets != nil {
		session.ReminderOffsets = in.ReminderOffsets
		timingChanged = true
	}
	if in.NotifyRoleIDs != nil {
		session.NotifyRoleIDs = in.NotifyRoleIDs
	}
	if in.Status != nil {
		session.Status = *in.Status
	}
	return timingChanged
}

func (r *Router) deleteSession(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	ctx := req.Context()
	err := r.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := r.store.GetSessionForUpdateTx(ctx, tx, id); err != nil {
			return apperr.NotFound("session not found")
		}
		return r.store.DeleteSessionTx(ctx, tx, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	r.publish(ctx, models.EventGameDeleted, models.SessionRefPayload{SessionID: id})
	w.WriteHeader(http.StatusNoContent)
}
