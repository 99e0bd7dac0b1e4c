package announcer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

func newTestLogger() *logging.Logger { return logging.New("error") }

type fakeStore struct {
	sessions        map[uuid.UUID]*models.Session
	channels        map[uuid.UUID]*models.Channel
	users           map[uuid.UUID]*models.User
	participants    map[uuid.UUID][]models.Participant
	setMessageID    int64
	clearedAnnounce bool
	tenantErr       error
}

func (f *fakeStore) GetSessionByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}

func (f *fakeStore) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return f.participants[sessionID], nil
}

func (f *fakeStore) GetTenantByID(context.Context, uuid.UUID) (*models.Tenant, error) {
	if f.tenantErr != nil {
		return nil, f.tenantErr
	}
	return &models.Tenant{}, nil
}

func (f *fakeStore) GetChannelByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	c, ok := f.channels[id]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, assert.AnError
	}
	return u, nil
}

func (f *fakeStore) UpsertUserByExternalID(_ context.Context, externalID int64) (*models.User, error) {
	for _, u := range f.users {
		if u.ExternalID == externalID {
			return u, nil
		}
	}
	u := &models.User{ID: uuid.New(), ExternalID: externalID}
	if f.users == nil {
		f.users = map[uuid.UUID]*models.User{}
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) SetAnnouncementMessage(_ context.Context, _ uuid.UUID, messageExternalID int64) error {
	f.setMessageID = messageExternalID
	return nil
}

func (f *fakeStore) ClearAnnouncementMessage(context.Context, uuid.UUID) error {
	f.clearedAnnounce = true
	return nil
}

type fakeChat struct {
	postedMessageID int64
	editErr         error
	edited          bool
	roleMembers     map[int64][]int64
	roleLookupErr   error
}

func (f *fakeChat) PostAnnouncement(context.Context, int64, chat.Announcement) (int64, error) {
	return f.postedMessageID, nil
}

func (f *fakeChat) EditAnnouncement(context.Context, int64, int64, chat.Announcement) error {
	f.edited = true
	return f.editErr
}

func (f *fakeChat) DeleteAnnouncement(context.Context, int64, int64) error { return nil }

func (f *fakeChat) SendDM(context.Context, int64, string) (bool, error) { return true, nil }

func (f *fakeChat) AckDeferred(context.Context, string) error { return nil }

func (f *fakeChat) SearchMembers(context.Context, int64, string, int) ([]chat.MemberCandidate, error) {
	return nil, nil
}

func (f *fakeChat) MembersWithRole(_ context.Context, _ int64, roleExternalID int64) ([]int64, error) {
	if f.roleLookupErr != nil {
		return nil, f.roleLookupErr
	}
	return f.roleMembers[roleExternalID], nil
}

var _ chat.Client = (*fakeChat)(nil)

func newConsumer(store *fakeStore, chatClient chat.Client) *Consumer {
	return &Consumer{store: store, chat: chatClient, log: newTestLogger()}
}

func TestDispatch_UnknownEventType(t *testing.T) {
	c := newConsumer(&fakeStore{}, &fakeChat{})
	err := c.dispatch(context.Background(), "unknown.event", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestOnSessionCreated_PostsAnnouncementAndPersistsMessageID(t *testing.T) {
	sessionID := uuid.New()
	channelID := uuid.New()
	hostID := uuid.New()
	store := &fakeStore{
		sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID, ChannelID: channelID, HostUserID: hostID, Title: "Curse of Strahd", ScheduledAt: time.Now(), NotifyRoleIDs: []int64{111, 222}},
		},
		channels: map[uuid.UUID]*models.Channel{
			channelID: {ID: channelID, ExternalID: 999},
		},
		users: map[uuid.UUID]*models.User{
			hostID: {ID: hostID, ExternalID: 777},
		},
		participants: map[uuid.UUID][]models.Participant{},
	}
	fc := &fakeChat{postedMessageID: 555}
	c := newConsumer(store, fc)

	payload, err := json.Marshal(models.SessionCreatedPayload{SessionID: sessionID})
	require.NoError(t, err)

	err = c.onSessionCreated(context.Background(), payload)
	require.NoError(t, err)
	assert.EqualValues(t, 555, store.setMessageID)
}

func TestRender_PopulatesHostAndRoleMentions(t *testing.T) {
	sessionID := uuid.New()
	hostID := uuid.New()
	store := &fakeStore{
		users: map[uuid.UUID]*models.User{
			hostID: {ID: hostID, ExternalID: 42},
		},
		participants: map[uuid.UUID][]models.Participant{},
	}
	c := newConsumer(store, &fakeChat{})

	ann, err := c.render(context.Background(), &models.Session{
		ID:            sessionID,
		HostUserID:    hostID,
		NotifyRoleIDs: []int64{100, 200},
	})
	require.NoError(t, err)
	assert.Equal(t, "<@42>", ann.HostMention)
	assert.Equal(t, []string{"<@&100>", "<@&200>"}, ann.RoleMentions)
}

func TestOnSessionCreated_UnknownSessionIsNotFound(t *testing.T) {
	store := &fakeStore{sessions: map[uuid.UUID]*models.Session{}}
	c := newConsumer(store, &fakeChat{})

	payload, _ := json.Marshal(models.SessionCreatedPayload{SessionID: uuid.New()})
	err := c.onSessionCreated(context.Background(), payload)
	assert.Error(t, err)
}

func TestOnStatusChanged_NoAnnouncementIsNoOp(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeStore{
		sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID}, // no AnnouncementMessageID/ChannelXID
		},
	}
	fc := &fakeChat{}
	c := newConsumer(store, fc)

	payload, _ := json.Marshal(models.StatusChangedPayload{SessionID: sessionID, TargetStatus: models.StatusCompleted})
	err := c.onStatusChanged(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, fc.edited)
}

func TestOnStatusChanged_EditsExistingAnnouncement(t *testing.T) {
	sessionID := uuid.New()
	hostID := uuid.New()
	msgID := int64(42)
	chanXID := int64(7)
	store := &fakeStore{
		sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID, HostUserID: hostID, AnnouncementMessageID: &msgID, AnnouncementChannelXID: &chanXID, Title: "One-shot"},
		},
		users: map[uuid.UUID]*models.User{
			hostID: {ID: hostID, ExternalID: 1},
		},
		participants: map[uuid.UUID][]models.Participant{},
	}
	fc := &fakeChat{}
	c := newConsumer(store, fc)

	payload, _ := json.Marshal(models.StatusChangedPayload{SessionID: sessionID, TargetStatus: models.StatusInProgress})
	err := c.onStatusChanged(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, fc.edited)
}

func TestOnReminderDue_StaleReminderIsDroppedSilently(t *testing.T) {
	// GameScheduledAt already within reminderGrace of "now": store is
	// never consulted, proving the staleness check short-circuits
	// before any lookup.
	store := &fakeStore{}
	c := newConsumer(store, &fakeChat{})

	payload, _ := json.Marshal(models.ReminderDuePayload{
		SessionID:       uuid.New(),
		OffsetMinutes:   15,
		GameScheduledAt: time.Now().UTC(),
	})
	err := c.onReminderDue(context.Background(), payload)
	assert.NoError(t, err)
}

func TestOnReminderDue_RoleResolutionFailsWhenTenantLookupErrors(t *testing.T) {
	sessionID := uuid.New()
	hostID := uuid.New()
	store := &fakeStore{
		sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID, HostUserID: hostID, NotifyRoleIDs: []int64{100}},
		},
		participants: map[uuid.UUID][]models.Participant{},
		tenantErr:    assert.AnError,
	}
	c := newConsumer(store, &fakeChat{})

	payload, _ := json.Marshal(models.ReminderDuePayload{
		SessionID:       sessionID,
		OffsetMinutes:   15,
		GameScheduledAt: time.Now().UTC().Add(time.Hour),
	})
	err := c.onReminderDue(context.Background(), payload)
	assert.Error(t, err)
}

func TestOnReminderDue_RoleResolutionFailsWhenChatLookupErrors(t *testing.T) {
	sessionID := uuid.New()
	hostID := uuid.New()
	store := &fakeStore{
		sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID, HostUserID: hostID, NotifyRoleIDs: []int64{100}},
		},
		participants: map[uuid.UUID][]models.Participant{},
	}
	fc := &fakeChat{roleLookupErr: assert.AnError}
	c := newConsumer(store, fc)

	payload, _ := json.Marshal(models.ReminderDuePayload{
		SessionID:       sessionID,
		OffsetMinutes:   15,
		GameScheduledAt: time.Now().UTC().Add(time.Hour),
	})
	err := c.onReminderDue(context.Background(), payload)
	assert.Error(t, err)
}

func TestOnParticipantPromoted_UnknownSessionIsNotFound(t *testing.T) {
	store := &fakeStore{sessions: map[uuid.UUID]*models.Session{}}
	c := newConsumer(store, &fakeChat{})

	payload, _ := json.Marshal(models.ParticipantPromotedPayload{SessionID: uuid.New(), UserID: uuid.New()})
	err := c.onParticipantPromoted(context.Background(), payload)
	assert.Error(t, err)
}

func TestExtractSessionID_RoundTrips(t *testing.T) {
	sid := uuid.New()
	data, err := json.Marshal(models.SessionRefPayload{SessionID: sid})
	require.NoError(t, err)

	got, err := extractSessionID(data)
	require.NoError(t, err)
	assert.Equal(t, sid, got)
}

func TestParticipantNames_PrefersDisplayNameOverUserID(t *testing.T) {
	uid := uuid.New()
	name := "Alicia"
	participants := []models.Participant{
		{UserID: &uid, DisplayName: &name},
		{UserID: &uid},
	}
	names := participantNames(participants)
	require.Len(t, names, 2)
	assert.Equal(t, "Alicia", names[0])
	assert.Equal(t, uid.String(), names[1])
}
