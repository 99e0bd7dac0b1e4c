package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/binder"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

// fakeStore satisfies api.Store with in-memory maps. Most of these
// methods are never exercised by the tests below — they exist to
// satisfy the interface — because every test here is designed to
// return before the handler reaches store.WithTx and publishes an
// event (see internal/interaction/router_test.go for the same
// nil-broker-avoidance pattern).
type fakeStore struct {
	tenant    *models.Tenant
	channel   *models.Channel
	templates map[uuid.UUID]*models.Template
}

func newFakeStore() *fakeStore {
	tenantID := uuid.New()
	return &fakeStore{
		tenant:    &models.Tenant{ID: tenantID, ExternalID: 42, DefaultOffsets: []int{60}},
		channel:   &models.Channel{ID: uuid.New(), TenantID: tenantID},
		templates: map[uuid.UUID]*models.Template{},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}
func (f *fakeStore) GetSessionByID(context.Context, uuid.UUID) (*models.Session, error) {
	return nil, apperr.NotFound("no such session")
}
func (f *fakeStore) GetSessionForUpdateTx(context.Context, pgx.Tx, uuid.UUID) (*models.Session, error) {
	return nil, apperr.NotFound("no such session")
}
func (f *fakeStore) InsertSessionTx(context.Context, pgx.Tx, *models.Session) error { return nil }
func (f *fakeStore) UpdateSessionTx(context.Context, pgx.Tx, *models.Session) error { return nil }
func (f *fakeStore) DeleteSessionTx(context.Context, pgx.Tx, uuid.UUID) error       { return nil }
func (f *fakeStore) ListSessionsByChannel(context.Context, uuid.UUID) ([]models.Session, error) {
	return nil, nil
}
func (f *fakeStore) ListParticipantsTx(context.Context, pgx.Tx, uuid.UUID) ([]models.Participant, error) {
	return nil, nil
}
func (f *fakeStore) ReconcilePrePopulatedTx(context.Context, pgx.Tx, uuid.UUID, []models.Participant) error {
	return nil
}
func (f *fakeStore) GetTemplateByID(_ context.Context, id uuid.UUID) (*models.Template, error) {
	if t, ok := f.templates[id]; ok {
		return t, nil
	}
	return nil, apperr.NotFound("no such template")
}
func (f *fakeStore) ListTemplates(context.Context, uuid.UUID) ([]models.Template, error) { return nil, nil }
func (f *fakeStore) InsertTemplate(context.Context, *models.Template) error               { return nil }
func (f *fakeStore) UpdateTemplate(context.Context, *models.Template) error               { return nil }
func (f *fakeStore) DeleteTemplate(context.Context, uuid.UUID) error                      { return nil }
func (f *fakeStore) SetDefaultTemplate(context.Context, uuid.UUID, uuid.UUID) error       { return nil }
func (f *fakeStore) GetTenantByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	if id == f.tenant.ID {
		return f.tenant, nil
	}
	return nil, apperr.NotFound("no such tenant")
}
func (f *fakeStore) GetTenantByExternalID(_ context.Context, externalID int64) (*models.Tenant, error) {
	if externalID == f.tenant.ExternalID {
		return f.tenant, nil
	}
	return nil, apperr.NotFound("no such tenant")
}
func (f *fakeStore) EnsureTenant(context.Context, int64, []int) (*models.Tenant, error) {
	return f.tenant, nil
}
func (f *fakeStore) UpdateTenantSettings(context.Context, *models.Tenant) error { return nil }
func (f *fakeStore) GetChannelByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	if id == f.channel.ID {
		return f.channel, nil
	}
	return nil, apperr.NotFound("no such channel")
}
func (f *fakeStore) EnsureChannel(context.Context, uuid.UUID, int64) (*models.Channel, error) {
	return f.channel, nil
}
func (f *fakeStore) UpdateChannelSettings(context.Context, *models.Channel) error { return nil }
func (f *fakeStore) UpsertUserByExternalID(_ context.Context, externalID int64) (*models.User, error) {
	return &models.User{ID: uuid.New(), ExternalID: externalID}, nil
}
func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id}, nil
}
func (f *fakeStore) GetAPIKeyByID(context.Context, uuid.UUID) (*models.APIKey, error) {
	return nil, apperr.NotFound("no such key")
}
func (f *fakeStore) InsertAPIKey(context.Context, *models.APIKey) error { return nil }
func (f *fakeStore) RevokeAPIKey(context.Context, uuid.UUID) error     { return nil }

func (f *fakeStore) ListNonDispatched(context.Context, pgx.Tx, uuid.UUID) ([]models.NotificationSchedule, error) {
	return nil, nil
}
func (f *fakeStore) Insert(context.Context, pgx.Tx, models.NotificationSchedule) error { return nil }
func (f *fakeStore) Delete(context.Context, pgx.Tx, uuid.UUID) error                   { return nil }
func (f *fakeStore) DeleteAllNonDispatched(context.Context, pgx.Tx, uuid.UUID) error   { return nil }

var _ Store = (*fakeStore)(nil)

// fakeChat stubs chat.Client, serving canned SearchMembers results.
type fakeChat struct {
	members []chat.MemberCandidate
	err     error
}

func (f *fakeChat) PostAnnouncement(context.Context, int64, chat.Announcement) (int64, error) {
	return 0, nil
}
func (f *fakeChat) EditAnnouncement(context.Context, int64, int64, chat.Announcement) error {
	return nil
}
func (f *fakeChat) DeleteAnnouncement(context.Context, int64, int64) error { return nil }
func (f *fakeChat) SendDM(context.Context, int64, string) (bool, error)   { return true, nil }
func (f *fakeChat) AckDeferred(context.Context, string) error             { return nil }
func (f *fakeChat) SearchMembers(context.Context, int64, string, int) ([]chat.MemberCandidate, error) {
	return f.members, f.err
}
func (f *fakeChat) MembersWithRole(context.Context, int64, int64) ([]int64, error) { return nil, nil }

var _ chat.Client = (*fakeChat)(nil)

func newTestRouter(store *fakeStore, chatClient *fakeChat) *Router {
	return &Router{store: store, chat: chatClient, log: logging.New("error")}
}

func boundRequest(method, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := binder.Bind(req.Context(), []int64{42})
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateSession_RejectsMalformedBody(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := boundRequest(http.MethodPost, "/v1/sessions", "{not json")
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalid, decodeError(t, rec).Error.Kind)
}

func TestCreateSession_RejectsMinGreaterThanMax(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	body := `{"title":"Session Zero","scheduled_at":"2026-08-01T18:00:00Z","min_players":5,"max_players":2}`
	req := boundRequest(http.MethodPost, "/v1/sessions", body)
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, apperr.KindInvalid, errResp.Error.Kind)
	assert.Contains(t, errResp.Error.Message, "min_players")
}

func TestCreateSession_RequiresScheduledAt(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	body := `{"title":"Session Zero"}`
	req := boundRequest(http.MethodPost, "/v1/sessions", body)
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error.Message, "scheduled_at")
}

func TestCreateSession_RejectsUnresolvableMention(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{members: nil})
	body := `{"title":"Session Zero","scheduled_at":"2026-08-01T18:00:00Z","prepopulated":[{"mention":"nobody"}]}`
	req := boundRequest(http.MethodPost, "/v1/sessions", body)
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, apperr.KindInvalid, errResp.Error.Kind)
	assert.Equal(t, "no matching member", errResp.Error.Details["reason"])
}

func TestCreateSession_RejectsAmbiguousMention(t *testing.T) {
	chatClient := &fakeChat{members: []chat.MemberCandidate{
		{ExternalID: 1, DisplayName: "alice"},
		{ExternalID: 2, DisplayName: "alicia"},
	}}
	r := newTestRouter(newFakeStore(), chatClient)
	body := `{"title":"Session Zero","scheduled_at":"2026-08-01T18:00:00Z","prepopulated":[{"mention":"ali"}]}`
	req := boundRequest(http.MethodPost, "/v1/sessions", body)
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, "multiple matching members", errResp.Error.Details["reason"])
	suggestions, ok := errResp.Error.Details["suggestions"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"alice", "alicia"}, suggestions)
}

func TestCreateSession_RejectsUnknownTenant(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(
		`{"title":"Session Zero","scheduled_at":"2026-08-01T18:00:00Z"}`))
	rec := httptest.NewRecorder()

	r.createSession(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.KindUnauthorized, decodeError(t, rec).Error.Kind)
}

func TestUpdateSession_RejectsMinGreaterThanMax(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := boundRequest(http.MethodPatch, "/v1/sessions/"+uuid.NewString(), `{"min_players":9,"max_players":1}`)
	rec := httptest.NewRecorder()

	r.updateSession(rec, req, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSession_NotFound(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := boundRequest(http.MethodPatch, "/v1/sessions/"+uuid.NewString(), `{"title":"New title"}`)
	rec := httptest.NewRecorder()

	r.updateSession(rec, req, uuid.New())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := boundRequest(http.MethodGet, "/v1/sessions/"+uuid.NewString(), "")
	rec := httptest.NewRecorder()

	r.getSession(rec, req, uuid.New())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions_RequiresChannelID(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeChat{})
	req := boundRequest(http.MethodGet, "/v1/sessions", "")
	rec := httptest.NewRecorder()

	r.listSessions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyUpdate_TimingChangeTriggersRematerialize(t *testing.T) {
	session := &models.Session{
		ScheduledAt:     time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		ReminderOffsets: []int{60},
	}
	newTime := time.Date(2026, 8, 2, 18, 0, 0, 0, time.UTC)
	in := UpdateSessionRequest{ScheduledAt: &newTime}

	changed := applyUpdate(session, in)

	assert.True(t, changed)
	assert.Equal(t, newTime, session.ScheduledAt)
}

func TestApplyUpdate_TitleOnlyDoesNotTriggerRematerialize(t *testing.T) {
	session := &models.Session{
		ScheduledAt:     time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	}
	title := "Updated title"
	in := UpdateSessionRequest{Title: &title}

	changed := applyUpdate(session, in)

	assert.False(t, changed)
	assert.Equal(t, "Updated title", session.Title)
}
