package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpilot/stockpilot/internal/platform/db"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const userColumns = `id, tenant_id, name, email, password_hash, role, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateTenantWithOwner inserts the tenant and its owner atomically.
func (r *PGRepository) CreateTenantWithOwner(ctx context.Context, tenantName string, owner *User) (*Tenant, *User, error) {
	var tenant Tenant
	var created *User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO tenants (name, created_at) VALUES ($1, NOW()) RETURNING id, name, created_at`, tenantName)
		if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt); err != nil {
			return fmt.Errorf("auth: insert tenant: %w", err)
		}
		row = tx.QueryRow(ctx, `INSERT INTO users (tenant_id, name, email, password_hash, role, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING `+userColumns,
			tenant.ID, owner.Name, owner.Email, owner.PasswordHash, owner.Role, owner.IsActive)
		var err error
		created, err = scanUser(row)
		if err != nil {
			return mapUniqueEmail(err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &tenant, created, nil
}

// CreateUser inserts a user into an existing tenant.
func (r *PGRepository) CreateUser(ctx context.Context, user *User) (*User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (tenant_id, name, email, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING `+userColumns,
		user.TenantID, user.Name, user.Email, user.PasswordHash, user.Role, user.IsActive)
	created, err := scanUser(row)
	if err != nil {
		return nil, mapUniqueEmail(err)
	}
	return created, nil
}

// FindByEmail fetches a user by email across tenants. Emails are unique
// globally so a login does not need a tenant hint.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user within a tenant.
func (r *PGRepository) FindByID(ctx context.Context, tenantID, userID int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, userID)
	return scanUser(row)
}

// ListByTenant returns all users of a tenant ordered by creation.
func (r *PGRepository) ListByTenant(ctx context.Context, tenantID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetActive toggles the is_active flag for a user in a tenant.
func (r *PGRepository) SetActive(ctx context.Context, tenantID, userID int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`, tenantID, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func mapUniqueEmail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}
