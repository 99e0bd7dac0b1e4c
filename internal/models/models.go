// Package models holds the entity types from spec.md §3 and the event
// payload shapes from §6. Plain structs, no ORM tags — the teacher
// models its rows the same way (internal/models) and this repo keeps
// that shape, generalized to tabletop sessions instead of chat rooms.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a Session (§3).
type SessionStatus string

const (
	StatusScheduled  SessionStatus = "SCHEDULED"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusCancelled  SessionStatus = "CANCELLED"
)

// PositionType distinguishes host-curated seats from self-service joins.
type PositionType string

const (
	PositionPrePopulated PositionType = "PRE_POPULATED"
	PositionSelfAdded    PositionType = "SELF_ADDED"
)

// ScheduleKind is the row kind in NotificationSchedule (§3).
type ScheduleKind string

const (
	KindReminder         ScheduleKind = "REMINDER"
	KindStatusTransition ScheduleKind = "STATUS_TRANSITION"
)

// Tenant is a top-level isolation scope (a guild/server).
type Tenant struct {
	ID                uuid.UUID
	ExternalID        int64
	DefaultMaxPlayers *int
	DefaultOffsets    []int // minutes, ordered
	HostRoleIDs       []int64
	ManagerRoleIDs    []int64
	NotifyRoleIDs     []int64
}

// Channel is a chat channel within a Tenant, with optional overrides.
type Channel struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ExternalID int64
	Active     bool
	Category   *string

	OverrideMaxPlayers *int
	OverrideOffsets    []int // nil means "inherit"
}

// Template is host-authored session defaults, snapshotted at creation.
type Template struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	OrderIdx  int
	IsDefault bool

	DefaultTitle        *string
	DefaultDescription  *string
	DefaultMaxPlayers   *int
	DefaultMinPlayers   *int
	DefaultDurationMins *int
}

// Session is a scheduled play event.
type Session struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ChannelID  uuid.UUID
	HostUserID uuid.UUID

	Title       string
	Description *string
	SignupInstr *string

	ScheduledAt     time.Time // UTC, naive
	DurationMinutes int       // default 60
	Status          SessionStatus
	MinPlayers      *int
	MaxPlayers      *int
	ReminderOffsets []int // nil => inherit from channel/tenant
	NotifyRoleIDs   []int64

	AnnouncementMessageID  *int64
	AnnouncementChannelXID *int64
}

// EndsAt is the instant the session's duration elapses.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Participant is one seat (confirmed or waitlisted) on a Session.
type Participant struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	UserID          *uuid.UUID // nil => placeholder
	DisplayName     *string    // required iff UserID nil
	JoinedAt        time.Time
	PositionType    PositionType
	PreFillPosition *int
}

// NotificationSchedule is one persisted future event awaiting dispatch.
type NotificationSchedule struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	Kind            ScheduleKind
	DueAt           time.Time
	GameScheduledAt time.Time
	Payload         SchedulePayload
	DispatchedAt    *time.Time
}

// SchedulePayload is the free-form payload on a schedule row, typed per
// kind per spec.md §3.
type SchedulePayload struct {
	OffsetMinutes int           `json:"offset_minutes,omitempty"`
	TargetStatus  SessionStatus `json:"target_status,omitempty"`
}

// User is a ledger entry; display names are resolved live elsewhere.
type User struct {
	ID         uuid.UUID
	ExternalID int64
}

// Event is the envelope published on the broker (§6): {type, data, occurred_at}.
type Event struct {
	Type       string    `json:"type"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event type names (routing keys), §6.
const (
	EventGameCreated          = "game.created"
	EventGameUpdated          = "game.updated"
	EventGameDeleted          = "game.deleted"
	EventGameCancelled        = "game.cancelled"
	EventParticipantJoined    = "participant.joined"
	EventParticipantLeft      = "participant.left"
	EventParticipantRemoved   = "participant.removed"
	EventParticipantPromoted  = "participant.promoted"
	EventReminderDue          = "reminder.due"
	EventSessionStatusChanged = "session.status_changed"
)

// Event payload shapes, §6.
type ReminderDuePayload struct {
	SessionID       uuid.UUID `json:"session_id"`
	OffsetMinutes   int       `json:"offset_minutes"`
	GameScheduledAt time.Time `json:"game_scheduled_at"`
}

type StatusChangedPayload struct {
	SessionID    uuid.UUID     `json:"session_id"`
	TargetStatus SessionStatus `json:"target_status"`
}

type ParticipantJoinedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
}

type ParticipantLeftPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
}

type ParticipantRemovedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	RemovedBy uuid.UUID `json:"removed_by"`
}

type ParticipantPromotedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
}

type SessionCreatedPayload struct {
	SessionID     uuid.UUID `json:"session_id"`
	NotifyRoleIDs []int64   `json:"notify_role_ids"`
}

type SessionRefPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// APIKey is an automation credential for service-to-service callers
// (SPEC_FULL.md "Automation API keys"): argon2id-hashed, scoped to one
// tenant, never returning its secret after creation.
type APIKey struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	SecretHash string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}
