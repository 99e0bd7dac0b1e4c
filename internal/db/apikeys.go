package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

// InsertAPIKey persists a new automation credential. Callers hash the
// secret (internal/api/auth.GenerateAPIKey) before calling this — the
// plaintext never reaches the Store.
func (d *Database) InsertAPIKey(ctx context.Context, k *models.APIKey) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO api_keys (id, tenant_id, name, secret_hash)
			VALUES ($1,$2,$3,$4)`, k.ID, k.TenantID, k.Name, k.SecretHash)
		return err
	})
}

// GetAPIKeyByID reads an API key including revoked ones, so callers can
// distinguish "unknown key" from "revoked key" for error reporting.
func (d *Database) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var k models.APIKey
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, tenant_id, name, secret_hash, created_at, revoked_at
			FROM api_keys WHERE id = $1`, id,
		).Scan(&k.ID, &k.TenantID, &k.Name, &k.SecretHash, &k.CreatedAt, &k.RevokedAt)
	})
	return &k, err
}

func (d *Database) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
		return err
	})
}
