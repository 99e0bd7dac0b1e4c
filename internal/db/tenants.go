package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableup/scheduler/internal/models"
)

func (d *Database) GetTenantByExternalID(ctx context.Context, externalID int64) (*models.Tenant, error) {
	var t models.Tenant
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, external_id, default_max_players, default_offsets,
			       host_role_ids, manager_role_ids, notify_role_ids
			FROM tenants WHERE external_id = $1`, externalID,
		).Scan(&t.ID, &t.ExternalID, &t.DefaultMaxPlayers, &t.DefaultOffsets,
			&t.HostRoleIDs, &t.ManagerRoleIDs, &t.NotifyRoleIDs)
	})
	return &t, err
}

func (d *Database) GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, external_id, default_max_players, default_offsets,
			       host_role_ids, manager_role_ids, notify_role_ids
			FROM tenants WHERE id = $1`, id,
		).Scan(&t.ID, &t.ExternalID, &t.DefaultMaxPlayers, &t.DefaultOffsets,
			&t.HostRoleIDs, &t.ManagerRoleIDs, &t.NotifyRoleIDs)
	})
	return &t, err
}

// EnsureTenant finds or creates a Tenant for a chat-platform guild,
// per spec.md §3: "Created on first reference."
func (d *Database) EnsureTenant(ctx context.Context, externalID int64, defaultOffsets []int) (*models.Tenant, error) {
	var t models.Tenant
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO tenants (id, external_id, default_offsets)
			VALUES ($1, $2, $3)
			ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
			RETURNING id, external_id, default_max_players, default_offsets,
			          host_role_ids, manager_role_ids, notify_role_ids`,
			uuid.New(), externalID, defaultOffsets,
		).Scan(&t.ID, &t.ExternalID, &t.DefaultMaxPlayers, &t.DefaultOffsets,
			&t.HostRoleIDs, &t.ManagerRoleIDs, &t.NotifyRoleIDs)
	})
	return &t, err
}

// UpdateTenantSettings persists the admin-configurable defaults on a
// Tenant (spec.md §4.J tenant settings mutation).
func (d *Database) UpdateTenantSettings(ctx context.Context, t *models.Tenant) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE tenants SET
				default_max_players = $2, default_offsets = $3,
				host_role_ids = $4, manager_role_ids = $5, notify_role_ids = $6
			WHERE id = $1`,
			t.ID, t.DefaultMaxPlayers, t.DefaultOffsets,
			t.HostRoleIDs, t.ManagerRoleIDs, t.NotifyRoleIDs)
		return err
	})
}

func (d *Database) GetChannelByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var c models.Channel
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, tenant_id, external_id, active, category,
			       override_max_players, override_offsets
			FROM channels WHERE id = $1`, id,
		).Scan(&c.ID, &c.TenantID, &c.ExternalID, &c.Active, &c.Category,
			&c.OverrideMaxPlayers, &c.OverrideOffsets)
	})
	return &c, err
}

func (d *Database) EnsureChannel(ctx context.Context, tenantID uuid.UUID, externalID int64) (*models.Channel, error) {
	var c models.Channel
	err := d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO channels (id, tenant_id, external_id, active)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
			RETURNING id, tenant_id, external_id, active, category,
			          override_max_players, override_offsets`,
			uuid.New(), tenantID, externalID,
		).Scan(&c.ID, &c.TenantID, &c.ExternalID, &c.Active, &c.Category,
			&c.OverrideMaxPlayers, &c.OverrideOffsets)
	})
	return &c, err
}

// UpdateChannelSettings persists admin-configurable overrides on a
// Channel (spec.md §4.J channel settings mutation).
func (d *Database) UpdateChannelSettings(ctx context.Context, c *models.Channel) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE channels SET
				active = $2, category = $3,
				override_max_players = $4, override_offsets = $5
			WHERE id = $1`,
			c.ID, c.Active, c.Category, c.OverrideMaxPlayers, c.OverrideOffsets)
		return err
	})
}
