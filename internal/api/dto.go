package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/models"
)

// PrePopulatedInput is one caller-ordered seat in a create/update
// request: exactly one of Mention (resolved via tenant member search)
// or DisplayName (a bare placeholder) must be set.
type PrePopulatedInput struct {
	Mention     *string `json:"mention,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

type CreateSessionRequest struct {
	ChannelExternalID int64               `json:"channel_external_id"`
	HostExternalID    int64               `json:"host_external_id"`
	TemplateID        *uuid.UUID          `json:"template_id,omitempty"`
	Title             string              `json:"title"`
	Description       *string             `json:"description,omitempty"`
	SignupInstr       *string             `json:"signup_instr,omitempty"`
	ScheduledAt       time.Time           `json:"scheduled_at"`
	DurationMinutes   *int                `json:"duration_minutes,omitempty"`
	MinPlayers        *int                `json:"min_players,omitempty"`
	MaxPlayers        *int                `json:"max_players,omitempty"`
	ReminderOffsets   []int               `json:"reminder_offsets,omitempty"`
	NotifyRoleIDs     []int64             `json:"notify_role_ids,omitempty"`
	PrePopulated      []PrePopulatedInput `json:"prepopulated,omitempty"`
}

type UpdateSessionRequest struct {
	Title           *string             `json:"title,omitempty"`
	Description     *string             `json:"description,omitempty"`
	SignupInstr     *string             `json:"signup_instr,omitempty"`
	ScheduledAt     *time.Time          `json:"scheduled_at,omitempty"`
	DurationMinutes *int                `json:"duration_minutes,omitempty"`
	MinPlayers      *int                `json:"min_players,omitempty"`
	MaxPlayers      *int                `json:"max_players,omitempty"`
	ReminderOffsets []int               `json:"reminder_offsets,omitempty"`
	NotifyRoleIDs   []int64             `json:"notify_role_ids,omitempty"`
	Status          *models.SessionStatus `json:"status,omitempty"`
	PrePopulated    []PrePopulatedInput `json:"prepopulated,omitempty"`
}

type SessionResponse struct {
	ID              uuid.UUID            `json:"id"`
	TenantID        uuid.UUID            `json:"tenant_id"`
	ChannelID       uuid.UUID            `json:"channel_id"`
	HostUserID      uuid.UUID            `json:"host_user_id"`
	Title           string               `json:"title"`
	Description     *string              `json:"description,omitempty"`
	SignupInstr     *string              `json:"signup_instr,omitempty"`
	ScheduledAt     time.Time            `json:"scheduled_at"`
	DurationMinutes int                  `json:"duration_minutes"`
	Status          models.SessionStatus `json:"status"`
	MinPlayers      *int                 `json:"min_players,omitempty"`
	MaxPlayers      *int                 `json:"max_players,omitempty"`
	ReminderOffsets []int                `json:"reminder_offsets,omitempty"`
	NotifyRoleIDs   []int64              `json:"notify_role_ids,omitempty"`
}

func toSessionResponse(s *models.Session) SessionResponse {
	return SessionResponse{
		ID: s.ID, TenantID: s.TenantID, ChannelID: s.ChannelID, HostUserID: s.HostUserID,
		Title: s.Title, Description: s.Description, SignupInstr: s.SignupInstr,
		ScheduledAt: s.ScheduledAt, DurationMinutes: s.DurationMinutes, Status: s.Status,
		MinPlayers: s.MinPlayers, MaxPlayers: s.MaxPlayers,
		ReminderOffsets: s.ReminderOffsets, NotifyRoleIDs: s.NotifyRoleIDs,
	}
}

type CreateTemplateRequest struct {
	Name                string  `json:"name"`
	IsDefault           bool    `json:"is_default"`
	DefaultTitle        *string `json:"default_title,omitempty"`
	DefaultDescription  *string `json:"default_description,omitempty"`
	DefaultMaxPlayers   *int    `json:"default_max_players,omitempty"`
	DefaultMinPlayers   *int    `json:"default_min_players,omitempty"`
	DefaultDurationMins *int    `json:"default_duration_mins,omitempty"`
}

type UpdateTenantSettingsRequest struct {
	DefaultMaxPlayers *int    `json:"default_max_players,omitempty"`
	DefaultOffsets    []int   `json:"default_offsets,omitempty"`
	HostRoleIDs       []int64 `json:"host_role_ids,omitempty"`
	ManagerRoleIDs    []int64 `json:"manager_role_ids,omitempty"`
	NotifyRoleIDs     []int64 `json:"notify_role_ids,omitempty"`
}

type UpdateChannelSettingsRequest struct {
	Active             *bool   `json:"active,omitempty"`
	Category           *string `json:"category,omitempty"`
	OverrideMaxPlayers *int    `json:"override_max_players,omitempty"`
	OverrideOffsets    []int   `json:"override_offsets,omitempty"`
}
