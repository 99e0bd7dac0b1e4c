// Package cache wraps Redis for the three ephemeral, non-authoritative
// roles spec.md §4 assigns it: the chat-refresh trailing-edge throttle
// (§4.F), reminder dedup (§4.F), and short-lived lookups (tenant
// membership, display names) that are safe to recompute on a miss.
//
// Grounded on the teacher's internal/cache.Cache: same otel-instrumented
// redis.Client wrapper shape, generalized from presence keys to the
// keyspaces this domain needs.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var redisLatency metric.Float64Histogram

const (
	throttleTTL     = time.Second
	reminderDedupTTL = 7 * 24 * time.Hour
	membershipTTL   = 5 * time.Minute
	displayNameTTL  = 5 * time.Minute
)

type Cache struct {
	client *redis.Client
}

func New(dsn string) (*Cache, error) {
	meter := otel.Meter("tableup-cache")
	var err error
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, span := otel.Tracer("tableup-cache").Start(context.Background(), "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis ping failed")
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := otel.Tracer("tableup-cache").Start(ctx, "redis."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", op)))
		if err != nil && err != redis.Nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		span.End()
	}
}

// ClaimRefreshWindow implements the trailing-edge refresh throttle
// (spec.md §4.F): the first caller in any throttleTTL window claims the
// slot and must perform the refresh immediately; later callers within
// the same window get false back and must instead guarantee one more
// refresh fires after the window closes.
func (c *Cache) ClaimRefreshWindow(ctx context.Context, sessionID uuid.UUID) (claimed bool, err error) {
	ctx, done := c.instrument(ctx, "claim_refresh_window", attribute.String("session.id", sessionID.String()))
	defer func() { done(err) }()

	key := fmt.Sprintf("chat_refresh_throttle:%s", sessionID)
	ok, err := c.client.SetNX(ctx, key, "1", throttleTTL).Result()
	return ok, err
}

// MarkTrailingRefreshPending records that an announcement change
// arrived while a throttle window was already claimed, so the daemon
// handling that window's expiry knows to refresh once more.
func (c *Cache) MarkTrailingRefreshPending(ctx context.Context, sessionID uuid.UUID) error {
	ctx, done := c.instrument(ctx, "mark_trailing_refresh_pending", attribute.String("session.id", sessionID.String()))
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("chat_refresh_trailing:%s", sessionID)
	err = c.client.Set(ctx, key, "1", throttleTTL+time.Second).Err()
	return err
}

// TakeTrailingRefreshPending consumes the trailing-refresh flag,
// returning whether one was pending.
func (c *Cache) TakeTrailingRefreshPending(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	ctx, done := c.instrument(ctx, "take_trailing_refresh_pending", attribute.String("session.id", sessionID.String()))
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("chat_refresh_trailing:%s", sessionID)
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimReminderDedup returns false if this (session, user, offset)
// reminder was already sent within the last 7 days — spec.md §4.F's
// dedup guard against duplicate DM delivery on redelivered messages.
func (c *Cache) ClaimReminderDedup(ctx context.Context, sessionID, userID uuid.UUID, offsetMinutes int) (claimed bool, err error) {
	ctx, done := c.instrument(ctx, "claim_reminder_dedup", attribute.String("session.id", sessionID.String()))
	defer func() { done(err) }()

	key := fmt.Sprintf("reminder_sent:%s:%s:%d", sessionID, userID, offsetMinutes)
	ok, err := c.client.SetNX(ctx, key, "1", reminderDedupTTL).Result()
	return ok, err
}

// CacheUserTenants and GetUserTenants cache the set of tenant external
// ids a user is known to belong to, avoiding a chat-platform-gateway
// round trip on every interaction.
func (c *Cache) CacheUserTenants(ctx context.Context, userID uuid.UUID, tenantExternalIDs []int64) error {
	ctx, done := c.instrument(ctx, "cache_user_tenants")
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("user_tenants:%s", userID)
	err = c.client.Set(ctx, key, encodeInt64s(tenantExternalIDs), membershipTTL).Err()
	return err
}

func (c *Cache) GetUserTenants(ctx context.Context, userID uuid.UUID) ([]int64, bool, error) {
	ctx, done := c.instrument(ctx, "get_user_tenants")
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("user_tenants:%s", userID)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		err = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeInt64s(val), true, nil
}

func (c *Cache) CacheDisplayName(ctx context.Context, tenantID, userID uuid.UUID, name string) error {
	ctx, done := c.instrument(ctx, "cache_display_name")
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("display_name:%s:%s", tenantID, userID)
	err = c.client.Set(ctx, key, name, displayNameTTL).Err()
	return err
}

func (c *Cache) GetDisplayName(ctx context.Context, tenantID, userID uuid.UUID) (string, bool, error) {
	ctx, done := c.instrument(ctx, "get_display_name")
	var err error
	defer func() { done(err) }()

	key := fmt.Sprintf("display_name:%s:%s", tenantID, userID)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		err = nil
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func encodeInt64s(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func decodeInt64s(s string) []int64 {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
