package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

// ListParticipantsTx feeds internal/arbiter: the ordering it returns
// doesn't matter, the arbiter re-sorts by its own total order.
func (d *Database) ListParticipantsTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, user_id, display_name, joined_at, position_type, pre_fill_position
		FROM participants WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.DisplayName,
			&p.JoinedAt, &p.PositionType, &p.PreFillPosition); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *Database) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = d.ListParticipantsTx(ctx, tx, sessionID)
		return err
	})
	return out, err
}

// InsertParticipantTx relies entirely on the UNIQUE(session_id, user_id)
// constraint to reject a duplicate join — spec.md §4.I forbids an
// application-level pre-check, since it would race with a concurrent
// click on the same button.
func (d *Database) InsertParticipantTx(ctx context.Context, tx pgx.Tx, p *models.Participant) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO participants (id, session_id, user_id, display_name, joined_at, position_type, pre_fill_position)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.SessionID, p.UserID, p.DisplayName, p.JoinedAt, p.PositionType, p.PreFillPosition)
	return err
}

// DeleteParticipantByUserTx is the Leave path: no row means the caller
// wasn't signed up, which the interaction router treats as a no-op.
func (d *Database) DeleteParticipantByUserTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (d *Database) DeleteParticipantTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM participants WHERE id = $1`, id)
	return err
}

// ReconcilePrePopulatedTx replaces every PRE_POPULATED participant with
// the desired set, preserving any SELF_ADDED rows untouched. Used by
// the Command/Mutation API's pre-populated-participant reconciliation
// (spec.md §4.J).
func (d *Database) ReconcilePrePopulatedTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, desired []models.Participant) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM participants WHERE session_id = $1 AND position_type = $2`,
		sessionID, models.PositionPrePopulated); err != nil {
		return err
	}
	for i := range desired {
		p := desired[i]
		p.SessionID = sessionID
		p.PositionType = models.PositionPrePopulated
		if err := d.InsertParticipantTx(ctx, tx, &p); err != nil {
			return err
		}
	}
	return nil
}
