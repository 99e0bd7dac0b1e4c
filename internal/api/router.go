// Package api is the Command/Mutation API (spec.md §4.J): a thin HTTP
// wrapper that validates input, resolves human-readable references,
// and drives the Store and the Schedule Materializer.
//
// Grounded on the teacher's internal/api.Router: a *http.ServeMux
// wrapped first in RequestIDMiddleware then TracingMiddleware, with
// per-route auth+rate-limit composition for protected endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tableup/scheduler/internal/api/auth"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
	"github.com/tableup/scheduler/internal/schedule"
)

// Store is the subset of internal/db.Database the Command API needs;
// *db.Database satisfies it structurally.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error

	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Session, error)
	InsertSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error
	UpdateSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error
	DeleteSessionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	ListSessionsByChannel(ctx context.Context, channelID uuid.UUID) ([]models.Session, error)

	ListParticipantsTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]models.Participant, error)
	ReconcilePrePopulatedTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, desired []models.Participant) error

	GetTemplateByID(ctx context.Context, id uuid.UUID) (*models.Template, error)
	ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]models.Template, error)
	InsertTemplate(ctx context.Context, t *models.Template) error
	UpdateTemplate(ctx context.Context, t *models.Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	SetDefaultTemplate(ctx context.Context, tenantID, id uuid.UUID) error

	GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantByExternalID(ctx context.Context, externalID int64) (*models.Tenant, error)
	EnsureTenant(ctx context.Context, externalID int64, defaultOffsets []int) (*models.Tenant, error)
	UpdateTenantSettings(ctx context.Context, t *models.Tenant) error

	GetChannelByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	EnsureChannel(ctx context.Context, tenantID uuid.UUID, externalID int64) (*models.Channel, error)
	UpdateChannelSettings(ctx context.Context, c *models.Channel) error

	UpsertUserByExternalID(ctx context.Context, externalID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	InsertAPIKey(ctx context.Context, k *models.APIKey) error
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	schedule.Store
}

// Router wires the Command API's HTTP surface to the Store, the
// broker (for post-commit event publication), and the chat client
// (for @mention resolution via tenant member search).
type Router struct {
	mux   *http.ServeMux
	store Store
	bkr   *broker.Broker
	chat  chat.Client
	log   *logging.Logger
}

func NewRouter(store Store, bkr *broker.Broker, chatClient chat.Client, log *logging.Logger, jwt *auth.JWTManager, limiter *RateLimiter) http.Handler {
	r := &Router{mux: http.NewServeMux(), store: store, bkr: bkr, chat: chatClient, log: log}

	authMW := NewAuthMiddleware(jwt, store)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMW.Middleware(limiter.Middleware(h))
	}

	r.mux.HandleFunc("/healthz", r.healthz)
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.Handle("/v1/sessions", protect(r.sessionsCollection))
	r.mux.Handle("/v1/sessions/", protect(r.sessionsItem))
	r.mux.Handle("/v1/templates", protect(r.templatesCollection))
	r.mux.Handle("/v1/templates/", protect(r.templatesItem))
	r.mux.Handle("/v1/tenant", protect(r.tenantSettings))
	r.mux.Handle("/v1/channels/", protect(r.channelSettings))

	return RequestIDMiddleware(TracingMiddleware(r.mux))
}

func (r *Router) healthz(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
