package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"traindesk/internal/domain/auth"
	"traindesk/internal/domain/retention"
	"traindesk/internal/platform/config"
)

func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	orgID, err := ensureOrganisation(ctx, pool, cfg.SeedOrgName)
	if err != nil {
		return err
	}

	if err := ensurePermissions(ctx, pool); err != nil {
		return err
	}

	roleIDs, err := ensureRoles(ctx, pool, orgID)
	if err != nil {
		return err
	}

	if err := ensureRolePermissions(ctx, pool, roleIDs); err != nil {
		return err
	}

	if err := ensureAdminUser(ctx, pool, orgID, roleIDs[auth.RoleDPO], cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		return err
	}

	return ensureDefaultPolicies(ctx, pool, orgID)
}

func ensureOrganisation(ctx context.Context, pool *pgxpool.Pool, name string) (string, error) {
	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM organisations WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}

	err = pool.QueryRow(ctx, "INSERT INTO organisations (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func ensurePermissions(ctx context.Context, pool *pgxpool.Pool) error {
	for _, perm := range auth.DefaultPermissions {
		_, err := pool.Exec(ctx, "INSERT INTO permissions (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", perm)
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureRoles(ctx context.Context, pool *pgxpool.Pool, orgID string) (map[string]string, error) {
	roleIDs := map[string]string{}
	for roleName := range auth.RolePermissions {
		var id string
		err := pool.QueryRow(ctx, "SELECT id FROM roles WHERE org_id = $1 AND name = $2", orgID, roleName).Scan(&id)
		if err == nil {
			roleIDs[roleName] = id
			continue
		}

		err = pool.QueryRow(ctx, "INSERT INTO roles (org_id, name) VALUES ($1, $2) RETURNING id", orgID, roleName).Scan(&id)
		if err != nil {
			return nil, err
		}
		roleIDs[roleName] = id
	}
	return roleIDs, nil
}

func ensureRolePermissions(ctx context.Context, pool *pgxpool.Pool, roleIDs map[string]string) error {
	permMap := map[string]string{}
	rows, err := pool.Query(ctx, "SELECT id, key FROM permissions")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return err
		}
		permMap[key] = id
	}

	for roleName, perms := range auth.RolePermissions {
		roleID := roleIDs[roleName]
		for _, permKey := range perms {
			permID, ok := permMap[permKey]
			if !ok {
				return errors.New("permission not found: " + permKey)
			}
			_, err := pool.Exec(ctx, "INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", roleID, permID)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, orgID, roleID, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM users WHERE org_id = $1 AND email = $2", orgID, email).Scan(&id)
	if err == nil {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	err = pool.QueryRow(ctx, "INSERT INTO users (org_id, email, password_hash, role_id) VALUES ($1, $2, $3, $4) RETURNING id", orgID, email, hash, roleID).Scan(&id)
	if err != nil {
		return err
	}
	return nil
}

type defaultPolicy struct {
	dataType      string
	retentionDays int
	graceDays     int
	eraseMethod   string
	manualReview  bool
}

// UK training-provider defaults: six years for contractual records, shorter
// windows for operational data. Organisations tune these after onboarding.
var defaultPolicies = []defaultPolicy{
	{retention.DataTypeProfile, 2190, 30, retention.EraseCryptoErase, true},
	{retention.DataTypeAuthentication, 365, 7, retention.EraseSimpleDelete, false},
	{retention.DataTypeProgress, 2190, 30, retention.EraseOverwriteSingle, false},
	{retention.DataTypeCommunications, 730, 14, retention.EraseOverwriteMultiple, false},
	{retention.DataTypeAuditLogs, 2555, 30, retention.EraseSimpleDelete, true},
	{retention.DataTypeBilling, 2190, 30, retention.EraseOverwriteMultiple, true},
	{retention.DataTypeSupportTickets, 1095, 14, retention.EraseSimpleDelete, false},
}

func ensureDefaultPolicies(ctx context.Context, pool *pgxpool.Pool, orgID string) error {
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(1) FROM retention_policies WHERE org_id = $1", orgID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, p := range defaultPolicies {
		_, err := pool.Exec(ctx, `
      INSERT INTO retention_policies
        (org_id, data_type, retention_days, grace_days, deletion_method, erase_method, trigger_type, legal_basis, priority, enabled, automatic_deletion, requires_manual_review)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `, orgID, p.dataType, p.retentionDays, p.graceDays, retention.DeletionMethodSoft, p.eraseMethod,
			retention.TriggerTimeBased, "UK GDPR Art. 5(1)(e)", 0, true, true, p.manualReview)
		if err != nil {
			return err
		}
	}
	return nil
}
