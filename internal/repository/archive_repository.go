package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/bugreport-api/internal/models"
)

// StaleReport is a report whose last activity precedes the sweep cutoff.
type StaleReport struct {
	ID           string    `db:"id"`
	ReporterID   string    `db:"reporter_id"`
	LastActivity time.Time `db:"last_activity"`
}

// ArchiveRepository reads sweep candidates and writes archive marks.
type ArchiveRepository struct {
	db *sqlx.DB
}

// NewArchiveRepository constructs the repository.
func NewArchiveRepository(db *sqlx.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// ListStale returns reports whose newest change log, or creation time when
// there is none, is strictly before cutoff.
func (r *ArchiveRepository) ListStale(ctx context.Context, cutoff time.Time) ([]StaleReport, error) {
	const query = `SELECT r.id, r.reporter_id, COALESCE(cl.last_ts, r.created_at) AS last_activity
FROM reports r
LEFT JOIN (
    SELECT report_id, MAX(timestamp) AS last_ts FROM change_logs GROUP BY report_id
) cl ON cl.report_id = r.id
WHERE COALESCE(cl.last_ts, r.created_at) < $1
ORDER BY r.id`
	var items []StaleReport
	if err := r.db.SelectContext(ctx, &items, query, cutoff); err != nil {
		return nil, fmt.Errorf("list stale reports: %w", err)
	}
	return items, nil
}

// AssigneesByReport returns assignee ids grouped by report for the given reports.
func (r *ArchiveRepository) AssigneesByReport(ctx context.Context, reportIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(reportIDs))
	if len(reportIDs) == 0 {
		return result, nil
	}
	const query = `SELECT report_id, user_id FROM report_assignees WHERE report_id::text = ANY($1) ORDER BY report_id, user_id`
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(reportIDs))
	if err != nil {
		return nil, fmt.Errorf("list assignees for sweep: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reportID, userID string
		if err := rows.Scan(&reportID, &userID); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		result[reportID] = append(result[reportID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignees: %w", err)
	}
	return result, nil
}

// InsertMarks writes every mark in one transaction, skipping pairs that already
// exist, and returns the number of marks actually created.
func (r *ArchiveRepository) InsertMarks(ctx context.Context, marks []models.ArchiveMark) (created int64, err error) {
	if len(marks) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO archive_marks (id, report_id, user_id, archived_at)
VALUES (:id, :report_id, :user_id, :archived_at)
ON CONFLICT (report_id, user_id) DO NOTHING`
	for i := range marks {
		res, execErr := tx.NamedExecContext(ctx, query, &marks[i])
		if execErr != nil {
			err = fmt.Errorf("insert archive mark: %w", execErr)
			return 0, err
		}
		n, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			err = fmt.Errorf("check archive mark rows: %w", rowsErr)
			return 0, err
		}
		created += n
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive transaction: %w", err)
	}
	return created, nil
}

// CountMarks returns how many archive marks exist.
func (r *ArchiveRepository) CountMarks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM archive_marks`); err != nil {
		return 0, fmt.Errorf("count archive marks: %w", err)
	}
	return n, nil
}
