package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tableup/scheduler/internal/api/auth"
	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/binder"
	"github.com/tableup/scheduler/internal/contextkey"
	"github.com/tableup/scheduler/internal/models"
)

// RequestIDMiddleware generates a unique request id and attaches it to
// the context and response headers.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := uuid.New()
		ctx := context.WithValue(req.Context(), contextkey.KeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID.String())
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// TracingMiddleware instruments every request with an OpenTelemetry span.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("tableup-api")
	propagator := propagation.TraceContext{}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, req.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.URL.Path),
		)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// principalStore is the subset of internal/db.Database AuthMiddleware
// needs to resolve a credential into a bound tenant set.
type principalStore interface {
	GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
}

// AuthMiddleware accepts either a dashboard bearer JWT or an automation
// API key ("X-API-Key: <uuid>.<secret>"), and binds the resolved tenant
// set on the request context via internal/binder before calling next.
type AuthMiddleware struct {
	jwt   *auth.JWTManager
	store principalStore
}

func NewAuthMiddleware(jwt *auth.JWTManager, store principalStore) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, store: store}
}

func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, err := m.authenticate(req)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(req *http.Request) (context.Context, error) {
	if key := req.Header.Get("X-API-Key"); key != "" {
		return m.authenticateAPIKey(req.Context(), key)
	}
	if h := req.Header.Get("Authorization"); h != "" {
		return m.authenticateBearer(req.Context(), h)
	}
	return nil, apperr.Unauthorized("missing credentials")
}

func (m *AuthMiddleware) authenticateBearer(ctx context.Context, header string) (context.Context, error) {
	token, err := auth.ExtractTokenFromHeader(header)
	if err != nil {
		return nil, apperr.Unauthorized("malformed authorization header")
	}
	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired session")
	}
	ctx = context.WithValue(ctx, contextkey.KeyUserID, claims.UserID)
	return binder.Bind(ctx, claims.TenantExternalIDs), nil
}

func (m *AuthMiddleware) authenticateAPIKey(ctx context.Context, header string) (context.Context, error) {
	parts := strings.SplitN(header, ".", 2)
	if len(parts) != 2 {
		return nil, apperr.Unauthorized("malformed api key")
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, apperr.Unauthorized("malformed api key")
	}
	row, err := m.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, apperr.Unauthorized("unknown api key")
	}
	if row.RevokedAt != nil || !auth.VerifySecret(row.SecretHash, auth.KeyPrefix+parts[1]) {
		return nil, apperr.Unauthorized("invalid api key")
	}
	tenant, err := m.store.GetTenantByID(ctx, row.TenantID)
	if err != nil {
		return nil, apperr.Unauthorized("tenant not found for api key")
	}
	return binder.Bind(ctx, []int64{tenant.ExternalID}), nil
}

// RateLimiter is a Redis-backed token bucket per bound tenant, adapted
// from the teacher's internal/middleware.RateLimiter (per-user bucket,
// HMGet/HMSet-tracked) generalized to the API's per-tenant principal.
type RateLimiter struct {
	redisClient *redis.Client
	capacity    int64
	rate        float64
	mu          sync.Mutex
}

func NewRateLimiter(redisClient *redis.Client, capacity int64, perSecond float64) *RateLimiter {
	return &RateLimiter{redisClient: redisClient, capacity: capacity, rate: perSecond}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ids, ok := binder.Bound(req.Context())
		if !ok || len(ids) == 0 {
			writeError(w, apperr.Unauthorized("no bound principal for rate limiting"))
			return
		}
		key := strconv.FormatInt(ids[0], 10)
		if !rl.allow(req.Context(), key) {
			writeError(w, apperr.Invalid("rate limit exceeded").WithDetails(map[string]any{"retry_after_seconds": 1}))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (rl *RateLimiter) allow(ctx context.Context, principal string) bool {
	key := fmt.Sprintf("api_rate_limit:%s", principal)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	val, err := rl.redisClient.HMGet(ctx, key, "tokens", "last_refill").Result()
	if err != nil {
		return true // fail open on cache unavailability
	}

	currentTokens := rl.capacity
	lastRefill := time.Now()
	if val[0] != nil && val[1] != nil {
		if t, err := strconv.ParseFloat(val[0].(string), 64); err == nil {
			currentTokens = int64(t)
		}
		if t, err := time.Parse(time.RFC3339Nano, val[1].(string)); err == nil {
			lastRefill = t
		}
	}

	now := time.Now()
	tokensToAdd := int64(now.Sub(lastRefill).Seconds() * rl.rate)
	currentTokens = int64(math.Min(float64(rl.capacity), float64(currentTokens+tokensToAdd)))

	if currentTokens < 1 {
		return false
	}
	currentTokens--
	rl.redisClient.HMSet(ctx, key, "tokens", currentTokens, "last_refill", now.Format(time.RFC3339Nano))
	rl.redisClient.Expire(ctx, key, time.Hour)
	return true
}
