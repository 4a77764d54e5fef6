package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/bugreport-api/internal/models"
)

const userColumns = `id, user_name, email, first_name, last_name, role, created_at, updated_at`

// UserRepository provides read access to the identity directory and role updates.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByIDs returns the users that exist among ids, ordered by user name.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id::text = ANY($1) ORDER BY user_name`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// ListByRole returns users holding role, optionally excluding one id.
func (r *UserRepository) ListByRole(ctx context.Context, role models.UserRole, excludeID string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND id::text <> $2 ORDER BY last_name, first_name, user_name`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, role, excludeID); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return users, nil
}

// ListIDsByRole returns only the ids of users holding role.
func (r *UserRepository) ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	const query = `SELECT id FROM users WHERE role = $1 ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, role); err != nil {
		return nil, fmt.Errorf("list user ids by role: %w", err)
	}
	return ids, nil
}

// UpdateRole replaces the single role of a user.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole, at time.Time) error {
	const query = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	id, ok := canonicalID(id)
	if !ok {
		return sql.ErrNoRows
	}
	res, err := r.db.ExecContext(ctx, query, id, role, at)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check user role rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
