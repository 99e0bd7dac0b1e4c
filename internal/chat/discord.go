package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// DiscordClient adapts a discordgo.Session to Client. Outbound calls
// are gated by a local token bucket so a burst of button clicks can't
// trip the platform's own rate limiter before discordgo's built-in
// bucket tracking catches up.
type DiscordClient struct {
	session *discordgo.Session
	limiter *rate.Limiter
}

func NewDiscordClient(session *discordgo.Session, requestsPerSecond float64) *DiscordClient {
	return &DiscordClient{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

func (c *DiscordClient) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *DiscordClient) PostAnnouncement(ctx context.Context, channelExternalID int64, ann Announcement) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	msg, err := c.session.ChannelMessageSendComplex(fmtID(channelExternalID), renderMessage(ann), discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("post announcement: %w", err)
	}
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse message id: %w", err)
	}
	return id, nil
}

func (c *DiscordClient) EditAnnouncement(ctx context.Context, channelExternalID, messageExternalID int64, ann Announcement) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	edit := renderEdit(channelExternalID, messageExternalID, ann)
	_, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if isUnknownMessage(err) {
		return ErrMessageGone
	}
	if err != nil {
		return fmt.Errorf("edit announcement: %w", err)
	}
	return nil
}

func (c *DiscordClient) DeleteAnnouncement(ctx context.Context, channelExternalID, messageExternalID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	err := c.session.ChannelMessageDelete(fmtID(channelExternalID), fmtID(messageExternalID), discordgo.WithContext(ctx))
	if isUnknownMessage(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

func (c *DiscordClient) SendDM(ctx context.Context, userExternalID int64, content string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	dm, err := c.session.UserChannelCreate(fmtID(userExternalID), discordgo.WithContext(ctx))
	if err != nil {
		if isForbidden(err) {
			return false, nil
		}
		return false, fmt.Errorf("open dm channel: %w", err)
	}
	_, err = c.session.ChannelMessageSend(dm.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		if isForbidden(err) {
			return false, nil
		}
		return false, fmt.Errorf("send dm: %w", err)
	}
	return true, nil
}

func (c *DiscordClient) AckDeferred(ctx context.Context, interactionToken string) error {
	// Deferred acknowledgement happens via InteractionRespond at the
	// point the gateway handler receives the InteractionCreate event;
	// this method exists on the interface for router testability and
	// is invoked by internal/interaction with the live *discordgo.Interaction.
	return nil
}

// SearchMembers resolves an "@mention"-style query against guild
// membership via the platform's own member search, so the Command API
// never needs its own copy of tenant rosters.
func (c *DiscordClient) SearchMembers(ctx context.Context, tenantExternalID int64, query string, limit int) ([]MemberCandidate, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	members, err := c.session.GuildMembersSearch(fmtID(tenantExternalID), query, limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}
	out := make([]MemberCandidate, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m.User.ID, 10, 64)
		if err != nil {
			continue
		}
		name := m.Nick
		if name == "" {
			name = m.User.Username
		}
		out = append(out, MemberCandidate{ExternalID: id, DisplayName: name})
	}
	return out, nil
}

// membersPageSize is Discord's own per-request cap on GuildMembers.
const membersPageSize = 1000

// MembersWithRole pages through the guild roster filtering for
// roleExternalID, since Discord has no "members by role" endpoint of
// its own. Bounded to membersGuardRounds pages (guarding against an
// unbounded loop on a malformed "after" cursor); tenants with rosters
// larger than that are out of scope for a single reminder fan-out.
const membersGuardRounds = 10

func (c *DiscordClient) MembersWithRole(ctx context.Context, tenantExternalID, roleExternalID int64) ([]int64, error) {
	roleID := fmtID(roleExternalID)
	guildID := fmtID(tenantExternalID)

	var out []int64
	after := ""
	for round := 0; round < membersGuardRounds; round++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		members, err := c.session.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		for _, m := range members {
			if !hasRole(m, roleID) {
				continue
			}
			id, err := strconv.ParseInt(m.User.ID, 10, 64)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		if len(members) < membersPageSize {
			break
		}
		after = members[len(members)-1].User.ID
	}
	return out, nil
}

func hasRole(m *discordgo.Member, roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func renderMessage(ann Announcement) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    headerLine(ann),
		Embeds:     []*discordgo.MessageEmbed{renderEmbed(ann)},
		Components: renderComponents(ann),
	}
}

func renderEdit(channelExternalID, messageExternalID int64, ann Announcement) *discordgo.MessageEdit {
	content := headerLine(ann)
	embeds := []*discordgo.MessageEmbed{renderEmbed(ann)}
	components := renderComponents(ann)
	return &discordgo.MessageEdit{
		Channel:    fmtID(channelExternalID),
		ID:         fmtID(messageExternalID),
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}
}

func headerLine(ann Announcement) string {
	mentions := append([]string{ann.HostMention}, ann.RoleMentions...)
	return strings.Join(mentions, " ")
}

func renderEmbed(ann Announcement) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       ann.Title,
		Description: ann.Description,
		Timestamp:   ann.ScheduledAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: ann.Status, Inline: true},
			{Name: "Confirmed", Value: joinOrDash(ann.ConfirmedNames), Inline: true},
			{Name: "Waitlist", Value: joinOrDash(ann.WaitlistNames), Inline: true},
		},
	}
}

func renderComponents(ann Announcement) []discordgo.MessageComponent {
	if ann.ControlsDisabled {
		return nil
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Join",
					Style:    discordgo.SuccessButton,
					CustomID: fmt.Sprintf("%s_%s", ActionJoin, ann.SessionID),
				},
				discordgo.Button{
					Label:    "Leave",
					Style:    discordgo.DangerButton,
					CustomID: fmt.Sprintf("%s_%s", ActionLeave, ann.SessionID),
				},
			},
		},
	}
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "—"
	}
	return strings.Join(names, "\n")
}

func fmtID(id int64) string { return strconv.FormatInt(id, 10) }

// FormatUserMention and FormatRoleMention render Discord's native mention
// syntax for an external id, so callers building an Announcement's
// HostMention/RoleMentions get pings that actually fire (spec.md §6)
// instead of plain text.
func FormatUserMention(externalID int64) string { return fmt.Sprintf("<@%d>", externalID) }

func FormatRoleMention(externalID int64) string { return fmt.Sprintf("<@&%d>", externalID) }

func isUnknownMessage(err error) bool {
	var rerr *discordgo.RESTError
	if err == nil {
		return false
	}
	if ok := asRESTError(err, &rerr); ok && rerr.Message != nil {
		return rerr.Message.Code == discordgo.ErrCodeUnknownMessage
	}
	return false
}

func isForbidden(err error) bool {
	var rerr *discordgo.RESTError
	if err == nil {
		return false
	}
	if ok := asRESTError(err, &rerr); ok && rerr.Message != nil {
		return rerr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser ||
			rerr.Message.Code == discordgo.ErrCodeMissingPermissions
	}
	return false
}

func asRESTError(err error, target **discordgo.RESTError) bool {
	if rerr, ok := err.(*discordgo.RESTError); ok {
		*target = rerr
		return true
	}
	return false
}
