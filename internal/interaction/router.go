// Package interaction is the Interaction Router (spec.md §4.I): maps
// chat platform button clicks ("join_{uuid}" / "leave_{uuid}") to
// Store writes, relying entirely on the database's unique constraint
// to reject a double-join instead of pre-checking (which would
// reintroduce the TOCTOU race the constraint exists to close).
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/arbiter"
	"github.com/tableup/scheduler/internal/binder"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

// Store is the subset of internal/db.Database the router needs.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	GetSessionForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Session, error)
	UpsertUserByExternalIDTx(ctx context.Context, tx pgx.Tx, externalID int64) (*models.User, error)
	InsertParticipantTx(ctx context.Context, tx pgx.Tx, p *models.Participant) error
	DeleteParticipantByUserTx(ctx context.Context, tx pgx.Tx, sessionID, userID uuid.UUID) (bool, error)
	ListParticipantsTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]models.Participant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type Router struct {
	store  Store
	broker *broker.Broker
	chat   chat.Client
	log    *logging.Logger
}

func New(store Store, b *broker.Broker, chatClient chat.Client, log *logging.Logger) *Router {
	return &Router{store: store, broker: b, chat: chatClient, log: log}
}

// ParseCustomID splits "join_{uuid}"/"leave_{uuid}" into an action and
// session id.
func ParseCustomID(customID string) (chat.Action, uuid.UUID, error) {
	parts := strings.SplitN(customID, "_", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, fmt.Errorf("malformed custom_id %q", customID)
	}
	sessionID, err := uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("malformed custom_id %q: %w", customID, err)
	}
	return chat.Action(parts[0]), sessionID, nil
}

// Handle dispatches a button click. tenantExternalID is the guild the
// interaction arrived from; userExternalID identifies the clicker.
func (r *Router) Handle(ctx context.Context, action chat.Action, sessionID uuid.UUID, tenantExternalID, userExternalID int64) error {
	switch action {
	case chat.ActionJoin:
		return r.join(ctx, sessionID, tenantExternalID, userExternalID)
	case chat.ActionLeave:
		return r.leave(ctx, sessionID, tenantExternalID, userExternalID)
	default:
		return apperr.Invalid("unknown interaction action " + string(action))
	}
}

func (r *Router) join(ctx context.Context, sessionID uuid.UUID, tenantExternalID, userExternalID int64) error {
	ctx = binder.Bind(ctx, []int64{tenantExternalID})

	var (
		joined bool
		user   *models.User
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		user, err = r.store.UpsertUserByExternalIDTx(ctx, tx, userExternalID)
		if err != nil {
			return apperr.Transient("upsert user", err)
		}
		session, err := r.store.GetSessionForUpdateTx(ctx, tx, sessionID)
		if err != nil {
			return nil // session gone: quietly finish, per spec.md §4.I
		}
		if session.Status != models.StatusScheduled {
			return nil
		}
		participant := &models.Participant{
			SessionID:    sessionID,
			UserID:       &user.ID,
			JoinedAt:     time.Now().UTC(),
			PositionType: models.PositionSelfAdded,
		}
		if err := r.store.InsertParticipantTx(ctx, tx, participant); err != nil {
			if isUniqueViolation(err) {
				return nil // double-click: quietly finish
			}
			return apperr.Transient("insert participant", err)
		}
		joined = true
		return nil
	})
	if err != nil {
		return err
	}
	if !joined {
		return nil
	}

	if err := r.broker.Publish(ctx, models.EventParticipantJoined, models.Event{
		Type: models.EventParticipantJoined,
		Data: models.ParticipantJoinedPayload{SessionID: sessionID, UserID: user.ID},
	}, 0); err != nil {
		r.log.Error(ctx, "interaction: publish participant.joined failed")
	}

	ok, dmErr := r.chat.SendDM(ctx, userExternalID, "✅ You've joined the game.")
	_ = ok
	if dmErr != nil {
		r.log.Error(ctx, "interaction: dm confirmation failed")
	}
	return nil
}

func (r *Router) leave(ctx context.Context, sessionID uuid.UUID, tenantExternalID, userExternalID int64) error {
	ctx = binder.Bind(ctx, []int64{tenantExternalID})

	var (
		left       bool
		promoted   []uuid.UUID
		maxPlayers *int
		user       *models.User
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		user, err = r.store.UpsertUserByExternalIDTx(ctx, tx, userExternalID)
		if err != nil {
			return apperr.Transient("upsert user", err)
		}
		session, err := r.store.GetSessionForUpdateTx(ctx, tx, sessionID)
		if err != nil {
			return nil
		}
		maxPlayers = session.MaxPlayers

		before, err := r.store.ListParticipantsTx(ctx, tx, sessionID)
		if err != nil {
			return apperr.Transient("list participants", err)
		}
		beforePartition := arbiter.Arbiter(before, maxPlayers)

		deleted, err := r.store.DeleteParticipantByUserTx(ctx, tx, sessionID, user.ID)
		if err != nil {
			return apperr.Transient("delete participant", err)
		}
		if !deleted {
			return nil
		}
		left = true

		after, err := r.store.ListParticipantsTx(ctx, tx, sessionID)
		if err != nil {
			return apperr.Transient("list participants after leave", err)
		}
		afterPartition := arbiter.Arbiter(after, maxPlayers)
		promoted = arbiter.Promoted(beforePartition, afterPartition)
		return nil
	})
	if err != nil {
		return err
	}
	if !left {
		return nil
	}

	if err := r.broker.Publish(ctx, models.EventParticipantLeft, models.Event{
		Type: models.EventParticipantLeft,
		Data: models.ParticipantLeftPayload{SessionID: sessionID, UserID: user.ID},
	}, 0); err != nil {
		r.log.Error(ctx, "interaction: publish participant.left failed")
	}
	for _, promotedUserID := range promoted {
		if err := r.broker.Publish(ctx, models.EventParticipantPromoted, models.Event{
			Type: models.EventParticipantPromoted,
			Data: models.ParticipantPromotedPayload{SessionID: sessionID, UserID: promotedUserID},
		}, 0); err != nil {
			r.log.Error(ctx, "interaction: publish participant.promoted failed")
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
