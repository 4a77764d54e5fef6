package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bugreport-api/internal/models"
)

// StatusRepository reads and seeds the status catalog.
type StatusRepository struct {
	db *sqlx.DB
}

// NewStatusRepository constructs the repository.
func NewStatusRepository(db *sqlx.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// List returns every status ordered by name.
func (r *StatusRepository) List(ctx context.Context) ([]models.Status, error) {
	const query = `SELECT id, name, normalized_name FROM statuses ORDER BY name`
	var statuses []models.Status
	if err := r.db.SelectContext(ctx, &statuses, query); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return statuses, nil
}

// GetByID fetches one status.
func (r *StatusRepository) GetByID(ctx context.Context, id string) (*models.Status, error) {
	const query = `SELECT id, name, normalized_name FROM statuses WHERE id = $1`
	id, ok := canonicalID(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	var status models.Status
	if err := r.db.GetContext(ctx, &status, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &status, nil
}

// GetByNormalizedName fetches a status by its normalized key.
func (r *StatusRepository) GetByNormalizedName(ctx context.Context, normalized string) (*models.Status, error) {
	const query = `SELECT id, name, normalized_name FROM statuses WHERE normalized_name = $1`
	var status models.Status
	if err := r.db.GetContext(ctx, &status, query, normalized); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get status by name: %w", err)
	}
	return &status, nil
}

// Seed inserts statuses whose normalized name is not present yet and returns how many were added.
func (r *StatusRepository) Seed(ctx context.Context, statuses []models.Status) (inserted int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status seed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO statuses (id, name, normalized_name) VALUES (:id, :name, :normalized_name)
ON CONFLICT (normalized_name) DO NOTHING`
	for i := range statuses {
		res, execErr := tx.NamedExecContext(ctx, query, &statuses[i])
		if execErr != nil {
			err = fmt.Errorf("seed status %s: %w", statuses[i].NormalizedName, execErr)
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status seed: %w", err)
	}
	return inserted, nil
}
