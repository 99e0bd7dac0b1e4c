package interaction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

func newTestLogger() *logging.Logger { return logging.New("error") }

func TestParseCustomID(t *testing.T) {
	sid := uuid.New()

	action, id, err := ParseCustomID("join_" + sid.String())
	require.NoError(t, err)
	assert.Equal(t, "join", string(action))
	assert.Equal(t, sid, id)

	_, _, err = ParseCustomID("not-a-custom-id")
	assert.Error(t, err)
}

type fakeStore struct {
	session      *models.Session
	sessionErr   error
	participants map[uuid.UUID]models.Participant
	users        map[int64]*models.User
	rejectInsert bool
}

func newFakeStore(session *models.Session) *fakeStore {
	return &fakeStore{
		session:      session,
		participants: map[uuid.UUID]models.Participant{},
		users:        map[int64]*models.User{},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (f *fakeStore) GetSessionForUpdateTx(context.Context, pgx.Tx, uuid.UUID) (*models.Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeStore) UpsertUserByExternalIDTx(_ context.Context, _ pgx.Tx, externalID int64) (*models.User, error) {
	if u, ok := f.users[externalID]; ok {
		return u, nil
	}
	u := &models.User{ID: uuid.New(), ExternalID: externalID}
	f.users[externalID] = u
	return u, nil
}

func (f *fakeStore) InsertParticipantTx(_ context.Context, _ pgx.Tx, p *models.Participant) error {
	if f.rejectInsert {
		return &pgconn.PgError{Code: "23505"}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.participants[*p.UserID] = *p
	return nil
}

func (f *fakeStore) DeleteParticipantByUserTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	if _, ok := f.participants[userID]; !ok {
		return false, nil
	}
	delete(f.participants, userID)
	return true, nil
}

func (f *fakeStore) ListParticipantsTx(context.Context, pgx.Tx, uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	for _, p := range f.participants {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetTenantByID(context.Context, uuid.UUID) (*models.Tenant, error) {
	return &models.Tenant{}, nil
}

func TestRouter_Join_RejectsDoubleJoinViaConstraint(t *testing.T) {
	session := &models.Session{ID: uuid.New(), Status: models.StatusScheduled}
	store := newFakeStore(session)
	store.rejectInsert = true

	r := &Router{store: store, log: newTestLogger()}
	err := r.join(context.Background(), session.ID, 1, 100)
	assert.NoError(t, err) // conflict is swallowed, not surfaced
}

func TestRouter_Leave_NoOpWhenNotJoined(t *testing.T) {
	// user never joined: DeleteParticipantByUserTx reports nothing
	// deleted, so leave() must return before reaching r.broker.Publish.
	session := &models.Session{ID: uuid.New(), Status: models.StatusScheduled}
	store := newFakeStore(session)

	r := &Router{store: store, log: newTestLogger()}
	err := r.leave(context.Background(), session.ID, 1, 100)
	assert.NoError(t, err)
}

func TestRouter_Leave_SessionGone(t *testing.T) {
	store := &fakeStore{participants: map[uuid.UUID]models.Participant{}, users: map[int64]*models.User{}}
	store.session = nil
	store.sessionErr = assert.AnError

	r := &Router{store: store, log: newTestLogger()}
	err := r.leave(context.Background(), uuid.New(), 1, 100)
	assert.NoError(t, err) // missing session is a quiet no-op, not an error
}
