// Package announcer is the Event Consumer (spec.md §4.F): it owns all
// chat-surface side effects, subscribes to every domain event, and
// reconciles chat message content from authoritative Store state on
// every event rather than trusting the event payload's snapshot.
package announcer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/arbiter"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/cache"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"

	"go.uber.org/zap"
)

const (
	reminderGrace      = 30 * time.Second
	refreshWindow      = time.Second
	trailingRefreshLag = refreshWindow + 50*time.Millisecond
)

// Store is the subset of internal/db.Database the consumer needs.
type Store interface {
	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetChannelByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpsertUserByExternalID(ctx context.Context, externalID int64) (*models.User, error)
	SetAnnouncementMessage(ctx context.Context, sessionID uuid.UUID, messageExternalID int64) error
	ClearAnnouncementMessage(ctx context.Context, sessionID uuid.UUID) error
}

type Consumer struct {
	store  Store
	cache  *cache.Cache
	chat   chat.Client
	broker *broker.Broker
	log    *logging.Logger

	mu        sync.Mutex
	scheduled map[uuid.UUID]bool // sessions with a trailing refresh goroutine in flight
}

func New(store Store, c *cache.Cache, chatClient chat.Client, b *broker.Broker, log *logging.Logger) *Consumer {
	return &Consumer{
		store:     store,
		cache:     c,
		chat:      chatClient,
		broker:    b,
		log:       log,
		scheduled: make(map[uuid.UUID]bool),
	}
}

// Run consumes from queueName until ctx is cancelled, dispatching each
// delivery to handle and converting its apperr.Kind into the manual
// ack/nack discipline spec.md §4.F requires. Never auto-acks.
func (c *Consumer) Run(ctx context.Context, queueName, consumerTag string, prefetch int) error {
	deliveries, err := c.broker.Consume(ctx, queueName, consumerTag, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ev, data, err := broker.UnmarshalEvent(d.Body)
	if err != nil {
		c.log.Error(ctx, "announcer: malformed event, dropping to dlq", zap.Error(err))
		d.Nack(false, false)
		return
	}

	err = c.dispatch(ctx, ev.Type, data)
	switch apperr.Classify(err) {
	case "":
		d.Ack(false)
	case apperr.KindNotFound, apperr.KindConflict, apperr.KindPermanent:
		// Idempotent/expected outcomes: drop quietly.
		d.Ack(false)
	default:
		c.log.Error(ctx, "announcer: handler failed, routing to dlq",
			zap.String("event", ev.Type), zap.Error(err))
		d.Nack(false, false)
	}
}

func (c *Consumer) dispatch(ctx context.Context, eventType string, data json.RawMessage) error {
	switch eventType {
	case models.EventGameCreated:
		return c.onSessionCreated(ctx, data)
	case models.EventGameUpdated, models.EventParticipantJoined, models.EventParticipantLeft, models.EventParticipantRemoved:
		return c.onRefreshNeeded(ctx, data)
	case models.EventGameCancelled, models.EventGameDeleted:
		return c.onSessionEnded(ctx, data)
	case models.EventParticipantPromoted:
		return c.onParticipantPromoted(ctx, data)
	case models.EventReminderDue:
		return c.onReminderDue(ctx, data)
	case models.EventSessionStatusChanged:
		return c.onStatusChanged(ctx, data)
	default:
		return apperr.Internal("unknown event type "+eventType, nil)
	}
}

func (c *Consumer) onSessionCreated(ctx context.Context, data json.RawMessage) error {
	var p models.SessionCreatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.Internal("decode session.created payload", err)
	}
	session, err := c.store.GetSessionByID(ctx, p.SessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	channel, err := c.store.GetChannelByID(ctx, session.ChannelID)
	if err != nil {
		return apperr.NotFound("channel not found")
	}

	ann, err := c.render(ctx, session)
	if err != nil {
		return err
	}
	messageID, err := c.chat.PostAnnouncement(ctx, channel.ExternalID, ann)
	if err != nil {
		return apperr.Transient("post announcement", err)
	}
	if err := c.store.SetAnnouncementMessage(ctx, session.ID, messageID); err != nil {
		return apperr.Transient("persist announcement message id", err)
	}
	return nil
}

// onRefreshNeeded implements the §4.F refresh protocol: claim the
// throttle window; if claimed, refresh now; otherwise mark a trailing
// refresh pending and ensure exactly one trailing goroutine is armed
// for this session.
func (c *Consumer) onRefreshNeeded(ctx context.Context, data json.RawMessage) error {
	sessionID, err := extractSessionID(data)
	if err != nil {
		return apperr.Internal("decode session id", err)
	}

	claimed, err := c.cache.ClaimRefreshWindow(ctx, sessionID)
	if err != nil {
		return apperr.Transient("claim refresh window", err)
	}
	if claimed {
		return c.refreshNow(ctx, sessionID)
	}

	if err := c.cache.MarkTrailingRefreshPending(ctx, sessionID); err != nil {
		return apperr.Transient("mark trailing refresh pending", err)
	}
	c.armTrailingRefresh(sessionID)
	return nil
}

func (c *Consumer) armTrailingRefresh(sessionID uuid.UUID) {
	c.mu.Lock()
	if c.scheduled[sessionID] {
		c.mu.Unlock()
		return
	}
	c.scheduled[sessionID] = true
	c.mu.Unlock()

	go func() {
		time.Sleep(trailingRefreshLag)

		c.mu.Lock()
		delete(c.scheduled, sessionID)
		c.mu.Unlock()

		ctx := context.Background()
		pending, err := c.cache.TakeTrailingRefreshPending(ctx, sessionID)
		if err != nil || !pending {
			return
		}
		if _, err := c.cache.ClaimRefreshWindow(ctx, sessionID); err != nil {
			c.log.Error(ctx, "announcer: trailing refresh claim failed", zap.Error(err))
			return
		}
		if err := c.refreshNow(ctx, sessionID); err != nil {
			c.log.Error(ctx, "announcer: trailing refresh failed", zap.Error(err))
		}
	}()
}

func (c *Consumer) refreshNow(ctx context.Context, sessionID uuid.UUID) error {
	session, err := c.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	if session.AnnouncementMessageID == nil || session.AnnouncementChannelXID == nil {
		return nil
	}
	ann, err := c.render(ctx, session)
	if err != nil {
		return err
	}
	err = c.chat.EditAnnouncement(ctx, *session.AnnouncementChannelXID, *session.AnnouncementMessageID, ann)
	if err == chat.ErrMessageGone {
		if clearErr := c.store.ClearAnnouncementMessage(ctx, sessionID); clearErr != nil {
			return apperr.Transient("clear announcement message id", clearErr)
		}
		return apperr.Permanent("announcement message gone", err)
	}
	if err != nil {
		return apperr.Transient("edit announcement", err)
	}
	return nil
}

func (c *Consumer) onSessionEnded(ctx context.Context, data json.RawMessage) error {
	sessionID, err := extractSessionID(data)
	if err != nil {
		return apperr.Internal("decode session id", err)
	}
	session, err := c.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	if session.AnnouncementMessageID == nil || session.AnnouncementChannelXID == nil {
		return nil
	}
	ann, err := c.render(ctx, session)
	if err != nil {
		return err
	}
	ann.ControlsDisabled = true
	err = c.chat.EditAnnouncement(ctx, *session.AnnouncementChannelXID, *session.AnnouncementMessageID, ann)
	if err == chat.ErrMessageGone {
		return c.store.ClearAnnouncementMessage(ctx, sessionID)
	}
	if err != nil {
		return apperr.Transient("edit announcement for session end", err)
	}
	return nil
}

func (c *Consumer) onParticipantPromoted(ctx context.Context, data json.RawMessage) error {
	var p models.ParticipantPromotedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.Internal("decode participant.promoted payload", err)
	}
	session, err := c.store.GetSessionByID(ctx, p.SessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	user, err := c.store.GetUserByID(ctx, p.UserID)
	if err != nil {
		return apperr.NotFound("user not found")
	}
	msg := fmt.Sprintf("A seat opened up in **%s** scheduled at %s.", session.Title, session.ScheduledAt.Format(time.RFC3339))
	ok, err := c.chat.SendDM(ctx, user.ExternalID, msg)
	_ = ok // forbidden (DMs disabled) is a permanent success per spec.md §6
	if err != nil {
		return apperr.Transient("dm promoted user", err)
	}
	return nil
}

// onReminderDue applies the staleness check and per-user dedup before
// DMing the notify set (host ∪ confirmed participants ∪ users with any
// notify role).
func (c *Consumer) onReminderDue(ctx context.Context, data json.RawMessage) error {
	var p models.ReminderDuePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.Internal("decode reminder.due payload", err)
	}
	if time.Now().UTC().Add(reminderGrace).After(p.GameScheduledAt) {
		return nil // stale: dropped per spec.md §4.F
	}

	session, err := c.store.GetSessionByID(ctx, p.SessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	participants, err := c.store.ListParticipants(ctx, p.SessionID)
	if err != nil {
		return apperr.Transient("list participants", err)
	}
	partition := arbiter.Arbiter(participants, session.MaxPlayers)

	targets := map[uuid.UUID]struct{}{session.HostUserID: {}}
	for _, participant := range partition.Confirmed {
		if participant.UserID != nil {
			targets[*participant.UserID] = struct{}{}
		}
	}

	// Users holding any of the session's notify_role_ids are an ANY-of
	// union into the target set (spec.md §4.F/§6) — role membership
	// isn't Store state, so it's resolved live via the chat platform.
	if len(session.NotifyRoleIDs) > 0 {
		tenant, err := c.store.GetTenantByID(ctx, session.TenantID)
		if err != nil {
			return apperr.Transient("resolve tenant for role lookup", err)
		}
		roleUsers := make(map[int64]struct{})
		for _, roleID := range session.NotifyRoleIDs {
			externalIDs, err := c.chat.MembersWithRole(ctx, tenant.ExternalID, roleID)
			if err != nil {
				return apperr.Transient("resolve role members", err)
			}
			for _, id := range externalIDs {
				roleUsers[id] = struct{}{}
			}
		}
		for externalID := range roleUsers {
			user, err := c.store.UpsertUserByExternalID(ctx, externalID)
			if err != nil {
				return apperr.Transient("upsert role member", err)
			}
			targets[user.ID] = struct{}{}
		}
	}

	for userID := range targets {
		claimed, err := c.cache.ClaimReminderDedup(ctx, p.SessionID, userID, p.OffsetMinutes)
		if err != nil {
			return apperr.Transient("claim reminder dedup", err)
		}
		if !claimed {
			continue
		}
		user, err := c.store.GetUserByID(ctx, userID)
		if err != nil {
			continue
		}
		msg := fmt.Sprintf("Reminder: **%s** starts at %s.", session.Title, p.GameScheduledAt.Format(time.RFC3339))
		if _, err := c.chat.SendDM(ctx, user.ExternalID, msg); err != nil {
			return apperr.Transient("dm reminder", err)
		}
	}
	return nil
}

func (c *Consumer) onStatusChanged(ctx context.Context, data json.RawMessage) error {
	var p models.StatusChangedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.Internal("decode session.status_changed payload", err)
	}
	session, err := c.store.GetSessionByID(ctx, p.SessionID)
	if err != nil {
		return apperr.NotFound("session not found")
	}
	if session.AnnouncementMessageID == nil || session.AnnouncementChannelXID == nil {
		return nil
	}
	ann, err := c.render(ctx, session)
	if err != nil {
		return err
	}
	if p.TargetStatus == models.StatusCompleted {
		ann.ControlsDisabled = true
	}
	err = c.chat.EditAnnouncement(ctx, *session.AnnouncementChannelXID, *session.AnnouncementMessageID, ann)
	if err == chat.ErrMessageGone {
		return c.store.ClearAnnouncementMessage(ctx, p.SessionID)
	}
	if err != nil {
		return apperr.Transient("edit announcement for status change", err)
	}
	return nil
}

func (c *Consumer) render(ctx context.Context, session *models.Session) (chat.Announcement, error) {
	participants, err := c.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return chat.Announcement{}, apperr.Transient("list participants", err)
	}
	partition := arbiter.Arbiter(participants, session.MaxPlayers)

	description := ""
	if session.Description != nil {
		description = *session.Description
	}

	host, err := c.store.GetUserByID(ctx, session.HostUserID)
	if err != nil {
		return chat.Announcement{}, apperr.Transient("resolve host", err)
	}

	roleMentions := make([]string, 0, len(session.NotifyRoleIDs))
	for _, roleID := range session.NotifyRoleIDs {
		roleMentions = append(roleMentions, chat.FormatRoleMention(roleID))
	}

	return chat.Announcement{
		Title:          session.Title,
		Description:    description,
		ScheduledAt:    session.ScheduledAt,
		Status:         string(session.Status),
		HostMention:    chat.FormatUserMention(host.ExternalID),
		RoleMentions:   roleMentions,
		ConfirmedNames: participantNames(partition.Confirmed),
		WaitlistNames:  participantNames(partition.Waitlist),
		SessionID:      session.ID.String(),
	}, nil
}

func participantNames(participants []models.Participant) []string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.DisplayName != nil {
			names = append(names, *p.DisplayName)
		} else if p.UserID != nil {
			names = append(names, p.UserID.String())
		}
	}
	return names
}

func extractSessionID(data json.RawMessage) (uuid.UUID, error) {
	var ref models.SessionRefPayload
	if err := json.Unmarshal(data, &ref); err != nil {
		return uuid.Nil, err
	}
	return ref.SessionID, nil
}
