// Package chat defines the chat-platform contract the Event Consumer
// and Interaction Router depend on, plus a discordgo-backed
// implementation. Gateway connection management itself (sharding,
// reconnect, intents) is explicitly out of scope per spec.md's
// non-goals — discordgo owns that; this package only adapts its
// session to the narrow surface the domain needs.
package chat

import (
	"context"
	"time"
)

// ButtonCustomID formats join/leave custom_id values per spec.md §6:
// "join_{uuid}", "leave_{uuid}".
type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

// Announcement is the rendered state of a session's chat post —
// Client implementations turn this into platform-specific message
// content plus an embed plus the Join/Leave component row.
type Announcement struct {
	Title            string
	Description      string
	ScheduledAt      time.Time
	Status           string
	HostMention      string
	RoleMentions     []string
	ConfirmedNames   []string
	WaitlistNames    []string
	ControlsDisabled bool
	SessionID        string
}

// Client is the narrow surface the domain depends on. Implementations
// must treat "interaction already acknowledged" and "forbidden" (DMs
// disabled) as non-errors per spec.md §4.I/§6.
type Client interface {
	// PostAnnouncement creates a new message in channelExternalID and
	// returns the platform message id.
	PostAnnouncement(ctx context.Context, channelExternalID int64, ann Announcement) (messageExternalID int64, err error)

	// EditAnnouncement updates an existing message in place. Returns
	// ErrMessageGone if the platform reports the message no longer
	// exists (spec.md §4.F's "message-no-longer-exists" handling).
	EditAnnouncement(ctx context.Context, channelExternalID, messageExternalID int64, ann Announcement) error

	DeleteAnnouncement(ctx context.Context, channelExternalID, messageExternalID int64) error

	// SendDM delivers a direct message to userExternalID. A "forbidden"
	// (DMs disabled) response is reported via ok=false, err=nil — a
	// permanent, non-retryable outcome per spec.md §6.
	SendDM(ctx context.Context, userExternalID int64, content string) (ok bool, err error)

	// AckDeferred acknowledges a button interaction within the
	// platform's response budget without committing to final content.
	AckDeferred(ctx context.Context, interactionToken string) error

	// SearchMembers resolves a human-readable "@mention"-style query
	// against the tenant's membership list, for the Command/Mutation
	// API's pre-populated-participant reconciliation (spec.md §4.J).
	SearchMembers(ctx context.Context, tenantExternalID int64, query string, limit int) ([]MemberCandidate, error)

	// MembersWithRole resolves every tenant member holding roleExternalID,
	// for the Event Consumer's reminder.due role-based notify fan-out
	// (spec.md §4.F/§6: "notify_role_ids resolved via set-intersection").
	MembersWithRole(ctx context.Context, tenantExternalID, roleExternalID int64) ([]int64, error)
}

// MemberCandidate is one match returned by SearchMembers.
type MemberCandidate struct {
	ExternalID  int64
	DisplayName string
}

// ErrMessageGone is returned by EditAnnouncement/DeleteAnnouncement
// when the platform reports the target message was already removed.
var ErrMessageGone = &goneError{}

type goneError struct{}

func (*goneError) Error() string { return "chat: announcement message no longer exists" }
