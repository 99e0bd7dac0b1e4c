package dashboard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/tableup/scheduler/internal/api/auth"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

// Store is the subset of internal/db.Database the dashboard's upgrade
// handler needs: resolving the caller's tenant external id to the
// tenant's internal id, which is how Hub keys its client registry (the
// same id the event consumer resolves events' sessions against).
type Store interface {
	GetTenantByExternalID(ctx context.Context, externalID int64) (*models.Tenant, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades authenticated HTTP requests to dashboard websocket
// connections bound to the caller's tenant.
type Server struct {
	hub   *Hub
	jwt   *auth.JWTManager
	store Store
	log   *logging.Logger
}

func NewServer(hub *Hub, jwt *auth.JWTManager, store Store, log *logging.Logger) *Server {
	return &Server{hub: hub, jwt: jwt, store: store, log: log}
}

// ServeWS validates the bearer token, checks the requested
// tenant_external_id is among the token's bound tenants, resolves it
// to the tenant's internal id, and starts the client's pumps. Unlike
// the Command API's AuthMiddleware, this accepts only bearer sessions
// — automation API keys have no use for a live push feed.
func (s *Server) ServeWS(w http.ResponseWriter, req *http.Request) {
	tokenString, err := auth.ExtractTokenFromHeader(req.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.jwt.ValidateToken(tokenString)
	if err != nil || len(claims.TenantExternalIDs) == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	externalID, err := strconv.ParseInt(req.URL.Query().Get("tenant_external_id"), 10, 64)
	if err != nil || !containsInt64(claims.TenantExternalIDs, externalID) {
		http.Error(w, "missing or unauthorized tenant_external_id", http.StatusBadRequest)
		return
	}

	tenant, err := s.store.GetTenantByExternalID(req.Context(), externalID)
	if err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Error(req.Context(), "dashboard: upgrade failed")
		return
	}

	newClient(s.hub, conn, tenant.ID, s.log).Start()
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
