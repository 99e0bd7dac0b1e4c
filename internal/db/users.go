package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

// UpsertUserByExternalID finds or creates the ledger User row for an
// external (platform) id — spec.md §3: "Created on first interaction;
// never deleted."
func (d *Database) UpsertUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	var u models.User
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO users (id, external_id) VALUES ($1, $2)
			ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
			RETURNING id, external_id`,
			uuid.New(), externalID,
		)
		return row.Scan(&u.ID, &u.ExternalID)
	})
	return &u, err
}

// UpsertUserByExternalIDTx is UpsertUserByExternalID run against an
// already-open transaction, for callers that must upsert the user as
// part of a larger bound transaction (spec.md §4.I's join algorithm).
func (d *Database) UpsertUserByExternalIDTx(ctx context.Context, tx pgx.Tx, externalID int64) (*models.User, error) {
	var u models.User
	row := tx.QueryRow(ctx, `
		INSERT INTO users (id, external_id) VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, external_id`,
		uuid.New(), externalID,
	)
	err := row.Scan(&u.ID, &u.ExternalID)
	return &u, err
}

func (d *Database) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT id, external_id FROM users WHERE id = $1`, id).
			Scan(&u.ID, &u.ExternalID)
	})
	return &u, err
}
