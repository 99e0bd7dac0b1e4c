package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

func (d *Database) GetTemplateByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	var t models.Template
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return scanTemplate(tx.QueryRow(ctx, `
			SELECT id, tenant_id, name, order_idx, is_default,
			       default_title, default_description, default_max_players,
			       default_min_players, default_duration_mins
			FROM templates WHERE id = $1`, id), &t)
	})
	return &t, err
}

func (d *Database) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]models.Template, error) {
	var out []models.Template
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, name, order_idx, is_default,
			       default_title, default_description, default_max_players,
			       default_min_players, default_duration_mins
			FROM templates WHERE tenant_id = $1 ORDER BY order_idx`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t models.Template
			if err := scanTemplateRows(rows, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// InsertTemplate creates a host-authored template. Ordering is
// caller-assigned; callers append at the end of ListTemplates.
func (d *Database) InsertTemplate(ctx context.Context, t *models.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO templates (
				id, tenant_id, name, order_idx, is_default,
				default_title, default_description, default_max_players,
				default_min_players, default_duration_mins
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			t.ID, t.TenantID, t.Name, t.OrderIdx, t.IsDefault,
			t.DefaultTitle, t.DefaultDescription, t.DefaultMaxPlayers,
			t.DefaultMinPlayers, t.DefaultDurationMins)
		return err
	})
}

func (d *Database) UpdateTemplate(ctx context.Context, t *models.Template) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE templates SET
				name = $2, order_idx = $3,
				default_title = $4, default_description = $5, default_max_players = $6,
				default_min_players = $7, default_duration_mins = $8
			WHERE id = $1`,
			t.ID, t.Name, t.OrderIdx,
			t.DefaultTitle, t.DefaultDescription, t.DefaultMaxPlayers,
			t.DefaultMinPlayers, t.DefaultDurationMins)
		return err
	})
}

func (d *Database) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
		return err
	})
}

// SetDefaultTemplate clears is_default on every other template in the
// tenant then sets it on id, enforcing "at most one is_default=true per
// tenant" (spec.md §3) inside a single transaction.
func (d *Database) SetDefaultTemplate(ctx context.Context, tenantID, id uuid.UUID) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE templates SET is_default = false WHERE tenant_id = $1`, tenantID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE templates SET is_default = true WHERE id = $1`, id)
		return err
	})
}

func scanTemplate(row pgx.Row, t *models.Template) error {
	return row.Scan(&t.ID, &t.TenantID, &t.Name, &t.OrderIdx, &t.IsDefault,
		&t.DefaultTitle, &t.DefaultDescription, &t.DefaultMaxPlayers,
		&t.DefaultMinPlayers, &t.DefaultDurationMins)
}

func scanTemplateRows(rows pgx.Rows, t *models.Template) error {
	return rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.OrderIdx, &t.IsDefault,
		&t.DefaultTitle, &t.DefaultDescription, &t.DefaultMaxPlayers,
		&t.DefaultMinPlayers, &t.DefaultDurationMins)
}
