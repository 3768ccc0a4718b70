package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"legalflow/internal/directory"
	"legalflow/internal/division"
	"legalflow/internal/rbac"
)

// The users and division_approval_groups tables are filled by the directory
// sync job and legalctl; the workflow only reads them.

const userColumns = `nik, name, role, job_title, division, directorate, COALESCE(supervisor_nik, ''), is_active`

func scanUser(row interface{ Scan(...any) error }) (directory.User, error) {
	var item directory.User
	var role string
	if err := row.Scan(&item.NIK, &item.Name, &role, &item.JobTitle, &item.Division, &item.Directorate,
		&item.SupervisorNIK, &item.IsActive); err != nil {
		return directory.User{}, err
	}
	item.Role = rbac.Normalize(role)
	return item, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, nik string) (*directory.User, error) {
	item, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE nik=$1`, nik))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListActiveByRoles(ctx context.Context, roles []rbac.Role, div string) ([]directory.User, error) {
	values := make([]string, 0, len(roles))
	for _, role := range roles {
		values = append(values, string(role))
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active AND role = ANY($1)`
	args := []any{values}
	if div != "" {
		query += ` AND division_code=$2`
		args = append(args, division.NormalizeCode(div))
	}
	query += ` ORDER BY nik ASC`
	return s.queryUsers(ctx, query, args...)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]directory.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY nik ASC`)
}

func (s *PostgresStore) queryUsers(ctx context.Context, query string, args ...any) ([]directory.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]directory.User, 0)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u directory.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (nik, name, role, job_title, division, division_code, directorate, supervisor_nik, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (nik) DO UPDATE
		SET name=EXCLUDED.name, role=EXCLUDED.role, job_title=EXCLUDED.job_title, division=EXCLUDED.division,
			division_code=EXCLUDED.division_code, directorate=EXCLUDED.directorate,
			supervisor_nik=EXCLUDED.supervisor_nik, is_active=EXCLUDED.is_active, updated_at=NOW()
	`, u.NIK, u.Name, string(rbac.Normalize(string(u.Role))), u.JobTitle, u.Division, division.NormalizeCode(u.Division),
		u.Directorate, nullIfEmpty(u.SupervisorNIK), u.IsActive)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SetUserRole is used by the role backfill. It returns false for an unknown
// NIK.
func (s *PostgresStore) SetUserRole(ctx context.Context, nik string, role rbac.Role) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE nik=$1`, nik, string(role))
	if err != nil {
		return false, fmt.Errorf("set user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set user role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, divisionCode string) (*division.Group, error) {
	var g division.Group
	err := s.db.QueryRowContext(ctx, `
		SELECT division_code, division_name, COALESCE(manager_nik, ''), COALESCE(senior_manager_nik, ''),
			COALESCE(general_manager_nik, ''), directorate, synced_at
		FROM division_approval_groups
		WHERE division_code=$1
	`, division.NormalizeCode(divisionCode)).Scan(&g.DivisionCode, &g.DivisionName, &g.ManagerNIK, &g.SeniorManagerNIK,
		&g.GeneralManagerNIK, &g.Directorate, &g.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get division group: %w", err)
	}
	return &g, nil
}

// ReplaceDivisionGroups upserts every group in one transaction. Divisions
// missing from groups are left untouched unless prune is set.
func (s *PostgresStore) ReplaceDivisionGroups(ctx context.Context, groups []division.Group, prune bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin division sync: %w", err)
	}
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		codes = append(codes, g.DivisionCode)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO division_approval_groups (division_code, division_name, manager_nik, senior_manager_nik, general_manager_nik, directorate, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (division_code) DO UPDATE
			SET division_name=EXCLUDED.division_name, manager_nik=EXCLUDED.manager_nik,
				senior_manager_nik=EXCLUDED.senior_manager_nik, general_manager_nik=EXCLUDED.general_manager_nik,
				directorate=EXCLUDED.directorate, synced_at=EXCLUDED.synced_at
		`, g.DivisionCode, g.DivisionName, nullIfEmpty(g.ManagerNIK), nullIfEmpty(g.SeniorManagerNIK),
			nullIfEmpty(g.GeneralManagerNIK), g.Directorate, g.SyncedAt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert division group %s: %w", g.DivisionCode, err)
		}
	}
	if prune {
		if _, err := tx.ExecContext(ctx, `DELETE FROM division_approval_groups WHERE NOT (division_code = ANY($1))`, codes); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prune division groups: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit division sync: %w", err)
	}
	return nil
}
