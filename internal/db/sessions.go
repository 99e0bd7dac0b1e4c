package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

// GetSessionByID reads one session in its own transaction (RLS-bound).
func (d *Database) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var s models.Session
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return scanSession(tx.QueryRow(ctx, sessionSelectSQL+` WHERE id = $1`, id), &s)
	})
	return &s, err
}

// ListSessionsByChannel lists scheduled-or-later sessions for a channel.
func (d *Database) ListSessionsByChannel(ctx context.Context, channelID uuid.UUID) ([]models.Session, error) {
	var out []models.Session
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sessionSelectSQL+` WHERE channel_id = $1 ORDER BY scheduled_at`, channelID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s models.Session
			if err := scanSessionRows(rows, &s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// GetSessionForUpdateTx row-locks a session for the duration of tx, per
// spec.md §5: "DB serializes all mutations via row-level locking on
// the session row during update transactions."
func (d *Database) GetSessionForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Session, error) {
	var s models.Session
	err := scanSession(tx.QueryRow(ctx, sessionSelectSQL+` WHERE id = $1 FOR UPDATE`, id), &s)
	return &s, err
}

func (d *Database) InsertSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (
			id, tenant_id, channel_id, host_user_id, title, description, signup_instr,
			scheduled_at, duration_minutes, status, min_players, max_players,
			reminder_offsets, notify_role_ids, announcement_message_id, announcement_channel_xid
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.TenantID, s.ChannelID, s.HostUserID, s.Title, s.Description, s.SignupInstr,
		s.ScheduledAt, s.DurationMinutes, s.Status, s.MinPlayers, s.MaxPlayers,
		s.ReminderOffsets, s.NotifyRoleIDs, s.AnnouncementMessageID, s.AnnouncementChannelXID,
	)
	return err
}

func (d *Database) UpdateSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error {
	_, err := tx.Exec(ctx, `
		UPDATE sessions SET
			title = $2, description = $3, signup_instr = $4, scheduled_at = $5,
			duration_minutes = $6, status = $7, min_players = $8, max_players = $9,
			reminder_offsets = $10, notify_role_ids = $11,
			announcement_message_id = $12, announcement_channel_xid = $13
		WHERE id = $1`,
		s.ID, s.Title, s.Description, s.SignupInstr, s.ScheduledAt,
		s.DurationMinutes, s.Status, s.MinPlayers, s.MaxPlayers,
		s.ReminderOffsets, s.NotifyRoleIDs, s.AnnouncementMessageID, s.AnnouncementChannelXID,
	)
	return err
}

// DeleteSessionTx cascades to participants and non-dispatched schedule
// rows; dispatched schedule rows remain as audit trail (spec.md §3).
func (d *Database) DeleteSessionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE session_id = $1`, id); err != nil {
		return err
	}
	if err := d.DeleteAllNonDispatched(ctx, tx, id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (d *Database) ClearAnnouncementMessageTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE sessions SET announcement_message_id = NULL WHERE id = $1`, sessionID)
	return err
}

// SetAnnouncementMessage and ClearAnnouncementMessage are the
// announcer's own-transaction entry points — the announcer is a
// trusted daemon per spec.md §4.H and never binds a tenant filter.
func (d *Database) SetAnnouncementMessage(ctx context.Context, sessionID uuid.UUID, messageExternalID int64) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE sessions SET announcement_message_id = $2 WHERE id = $1`, sessionID, messageExternalID)
		return err
	})
}

func (d *Database) ClearAnnouncementMessage(ctx context.Context, sessionID uuid.UUID) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return d.ClearAnnouncementMessageTx(ctx, tx, sessionID)
	})
}

const sessionSelectSQL = `
	SELECT id, tenant_id, channel_id, host_user_id, title, description, signup_instr,
	       scheduled_at, duration_minutes, status, min_players, max_players,
	       reminder_offsets, notify_role_ids, announcement_message_id, announcement_channel_xid
	FROM sessions`

func scanSession(row pgx.Row, s *models.Session) error {
	return row.Scan(&s.ID, &s.TenantID, &s.ChannelID, &s.HostUserID, &s.Title, &s.Description, &s.SignupInstr,
		&s.ScheduledAt, &s.DurationMinutes, &s.Status, &s.MinPlayers, &s.MaxPlayers,
		&s.ReminderOffsets, &s.NotifyRoleIDs, &s.AnnouncementMessageID, &s.AnnouncementChannelXID)
}

func scanSessionRows(rows pgx.Rows, s *models.Session) error {
	return rows.Scan(&s.ID, &s.TenantID, &s.ChannelID, &s.HostUserID, &s.Title, &s.Description, &s.SignupInstr,
		&s.ScheduledAt, &s.DurationMinutes, &s.Status, &s.MinPlayers, &s.MaxPlayers,
		&s.ReminderOffsets, &s.NotifyRoleIDs, &s.AnnouncementMessageID, &s.AnnouncementChannelXID)
}
