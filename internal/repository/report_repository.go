package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/bugreport-api/internal/models"
)

// ErrVersionConflict is returned when a report edit presents a stale version.
var ErrVersionConflict = errors.New("report version conflict")

// ReportEdit is the full set of writes applied by one EditReport call.
type ReportEdit struct {
	ReportID          string
	ExpectedVersion   int64
	Title             string
	Description       string
	AddAssignees      []string
	RemoveAssignees   []string
	RemoveAttachments []string
	NewAttachments    []models.Attachment
	Log               *models.ChangeLog
}

// ReportRepository persists the report aggregate.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// GetByID returns the report row. sql.ErrNoRows is returned untouched.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	const query = `SELECT id, reporter_id, title, description, created_at, version FROM reports WHERE id = $1`
	id, ok := canonicalID(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// ListAssigneeIDs returns the assignee ids of a report.
func (r *ReportRepository) ListAssigneeIDs(ctx context.Context, reportID string) ([]string, error) {
	const query = `SELECT user_id FROM report_assignees WHERE report_id = $1 ORDER BY user_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, reportID); err != nil {
		return nil, fmt.Errorf("list report assignees: %w", err)
	}
	return ids, nil
}

// IsAssignee reports whether userID is assigned to the report.
func (r *ReportRepository) IsAssignee(ctx context.Context, reportID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM report_assignees WHERE report_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, reportID, userID); err != nil {
		return false, fmt.Errorf("check report assignee: %w", err)
	}
	return ok, nil
}

// ListAttachments returns attachments in upload order.
func (r *ReportRepository) ListAttachments(ctx context.Context, reportID string) ([]models.Attachment, error) {
	const query = `SELECT id, report_id, file_name, file_path, content_type, size_bytes, checksum, uploaded_at
FROM attachments WHERE report_id = $1 ORDER BY uploaded_at, id`
	var items []models.Attachment
	if err := r.db.SelectContext(ctx, &items, query, reportID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return items, nil
}

// GetAttachment returns one attachment of a report.
func (r *ReportRepository) GetAttachment(ctx context.Context, reportID, attachmentID string) (*models.Attachment, error) {
	const query = `SELECT id, report_id, file_name, file_path, content_type, size_bytes, checksum, uploaded_at
FROM attachments WHERE report_id = $1 AND id = $2`
	reportID, ok := canonicalID(reportID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	attachmentID, ok = canonicalID(attachmentID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	var item models.Attachment
	if err := r.db.GetContext(ctx, &item, query, reportID, attachmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &item, nil
}

// LatestChangeLog returns the current entry of the report's history.
func (r *ReportRepository) LatestChangeLog(ctx context.Context, reportID string) (*models.ChangeLog, error) {
	const query = `SELECT id, seq, report_id, status_id, user_id, description, timestamp
FROM change_logs WHERE report_id = $1 ORDER BY timestamp DESC, seq DESC LIMIT 1`
	var entry models.ChangeLog
	if err := r.db.GetContext(ctx, &entry, query, reportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get latest change log: %w", err)
	}
	return &entry, nil
}

// ListChangeLogs returns the audit trail newest first.
func (r *ReportRepository) ListChangeLogs(ctx context.Context, reportID string) ([]models.ChangeLogView, error) {
	const query = `SELECT c.id, c.seq, c.report_id, c.status_id, c.user_id, c.description, c.timestamp,
       s.name AS status_name,
       COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.user_name) AS author_name
FROM change_logs c
JOIN statuses s ON s.id = c.status_id
JOIN users u ON u.id = c.user_id
WHERE c.report_id = $1
ORDER BY c.timestamp DESC, c.seq DESC`
	var logs []models.ChangeLogView
	if err := r.db.SelectContext(ctx, &logs, query, reportID); err != nil {
		return nil, fmt.Errorf("list change logs: %w", err)
	}
	return logs, nil
}

// ListMessages returns the thread oldest first.
func (r *ReportRepository) ListMessages(ctx context.Context, reportID string) ([]models.MessageView, error) {
	const query = `SELECT m.id, m.report_id, m.user_id, m.text, m.timestamp,
       COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.user_name) AS author_name
FROM messages m
JOIN users u ON u.id = m.user_id
WHERE m.report_id = $1
ORDER BY m.timestamp ASC, m.id ASC`
	var msgs []models.MessageView
	if err := r.db.SelectContext(ctx, &msgs, query, reportID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// IsArchivedFor reports whether userID holds an archive mark for the report.
func (r *ReportRepository) IsArchivedFor(ctx context.Context, reportID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM archive_marks WHERE report_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, reportID, userID); err != nil {
		return false, fmt.Errorf("check archive mark: %w", err)
	}
	return ok, nil
}

// ListForViewer returns the summaries visible to viewerID. Admins see every report.
func (r *ReportRepository) ListForViewer(ctx context.Context, viewerID string, admin bool, filter models.ReportFilter) ([]models.ReportSummary, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT r.id, r.title, r.reporter_id,
       COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.user_name) AS reporter_name,
       r.created_at, r.version,
       COALESCE(cl.timestamp, r.created_at) AS last_activity,
       COALESCE(cl.status_id::text, '') AS status_id,
       COALESCE(s.name, '') AS status_name,
       (SELECT COUNT(*) FROM report_assignees ra WHERE ra.report_id = r.id) AS assignee_count,
       EXISTS (SELECT 1 FROM archive_marks am WHERE am.report_id = r.id AND am.user_id = $1) AS archived
FROM reports r
JOIN users u ON u.id = r.reporter_id
LEFT JOIN LATERAL (
    SELECT c.status_id, c.timestamp FROM change_logs c
    WHERE c.report_id = r.id
    ORDER BY c.timestamp DESC, c.seq DESC
    LIMIT 1
) cl ON TRUE
LEFT JOIN statuses s ON s.id = cl.status_id`)

	args := []interface{}{viewerID}
	conditions := make([]string, 0, 4)

	if !admin {
		conditions = append(conditions, `(r.reporter_id = $1 OR EXISTS (SELECT 1 FROM report_assignees ra WHERE ra.report_id = r.id AND ra.user_id = $1))`)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conditions = append(conditions, fmt.Sprintf(`r.title ILIKE $%d`, len(args)))
	}
	if len(filter.Statuses) > 0 {
		normalized := make([]string, 0, len(filter.Statuses))
		for _, name := range filter.Statuses {
			if n := models.NormalizeStatusName(name); n != "" {
				normalized = append(normalized, n)
			}
		}
		if len(normalized) > 0 {
			args = append(args, pq.Array(normalized))
			conditions = append(conditions, fmt.Sprintf(`s.normalized_name = ANY($%d)`, len(args)))
		}
	}
	if filter.Archived != nil {
		clause := `EXISTS (SELECT 1 FROM archive_marks am WHERE am.report_id = r.id AND am.user_id = $1)`
		if !*filter.Archived {
			clause = "NOT " + clause
		}
		conditions = append(conditions, clause)
	}

	if len(conditions) > 0 {
		builder.WriteString("\nWHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString("\nORDER BY last_activity DESC, r.created_at DESC, r.id DESC")

	var items []models.ReportSummary
	if err := r.db.SelectContext(ctx, &items, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return items, nil
}

// Create inserts the report with its assignees, attachments and first change log in one transaction.
// The store assigned version is written back to report.Version.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report, attachments []models.Attachment, first *models.ChangeLog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertReport = `INSERT INTO reports (id, reporter_id, title, description, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING version`
	if err = tx.GetContext(ctx, &report.Version, insertReport, report.ID, report.ReporterID, report.Title, report.Description, report.CreatedAt); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if err = insertAssignees(ctx, tx, report.ID, report.AssigneeIDs); err != nil {
		return err
	}
	if err = insertAttachments(ctx, tx, attachments); err != nil {
		return err
	}
	if err = insertChangeLog(ctx, tx, first); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit report transaction: %w", err)
	}
	return nil
}

// AppendChangeLog inserts one change log entry outside any version check.
func (r *ReportRepository) AppendChangeLog(ctx context.Context, entry *models.ChangeLog) error {
	return insertChangeLog(ctx, r.db, entry)
}

// AddMessage stores a message and its trail entry atomically.
func (r *ReportRepository) AddMessage(ctx context.Context, msg *models.Message, entry *models.ChangeLog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO messages (id, report_id, user_id, text, timestamp)
VALUES (:id, :report_id, :user_id, :text, :timestamp)`
	if _, err = tx.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err = insertChangeLog(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit message transaction: %w", err)
	}
	return nil
}

// ApplyEdit performs a version-checked edit. It returns the new version and the
// attachments that were removed so their blobs can be deleted after commit.
func (r *ReportRepository) ApplyEdit(ctx context.Context, edit ReportEdit) (version int64, removed []models.Attachment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin edit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const bump = `UPDATE reports SET title = $3, description = $4, version = version + 1
WHERE id = $1 AND version = $2 RETURNING version`
	if err = tx.GetContext(ctx, &version, bump, edit.ReportID, edit.ExpectedVersion, edit.Title, edit.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrVersionConflict
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("update report: %w", err)
	}

	if len(edit.RemoveAssignees) > 0 {
		const query = `DELETE FROM report_assignees WHERE report_id = $1 AND user_id::text = ANY($2)`
		if _, err = tx.ExecContext(ctx, query, edit.ReportID, pq.Array(edit.RemoveAssignees)); err != nil {
			return 0, nil, fmt.Errorf("remove assignees: %w", err)
		}
	}
	if err = insertAssignees(ctx, tx, edit.ReportID, edit.AddAssignees); err != nil {
		return 0, nil, err
	}

	if len(edit.RemoveAttachments) > 0 {
		const query = `DELETE FROM attachments WHERE report_id = $1 AND id::text = ANY($2)
RETURNING id, report_id, file_name, file_path, content_type, size_bytes, checksum, uploaded_at`
		if err = tx.SelectContext(ctx, &removed, query, edit.ReportID, pq.Array(edit.RemoveAttachments)); err != nil {
			return 0, nil, fmt.Errorf("remove attachments: %w", err)
		}
	}
	if err = insertAttachments(ctx, tx, edit.NewAttachments); err != nil {
		return 0, nil, err
	}
	if err = insertChangeLog(ctx, tx, edit.Log); err != nil {
		return 0, nil, err
	}

	if err = tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit edit transaction: %w", err)
	}
	return version, removed, nil
}

// Delete removes the report; owned rows go with it through ON DELETE CASCADE.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check report delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func insertAssignees(ctx context.Context, exec sqlx.ExtContext, reportID string, userIDs []string) error {
	const query = `INSERT INTO report_assignees (report_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, userID := range userIDs {
		if _, err := exec.ExecContext(ctx, query, reportID, userID); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return nil
}

func insertAttachments(ctx context.Context, exec sqlx.ExtContext, items []models.Attachment) error {
	const query = `INSERT INTO attachments (id, report_id, file_name, file_path, content_type, size_bytes, checksum, uploaded_at)
VALUES (:id, :report_id, :file_name, :file_path, :content_type, :size_bytes, :checksum, :uploaded_at)`
	for i := range items {
		if _, err := sqlx.NamedExecContext(ctx, exec, query, &items[i]); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

func insertChangeLog(ctx context.Context, exec sqlx.ExtContext, entry *models.ChangeLog) error {
	if entry == nil {
		return fmt.Errorf("insert change log: entry required")
	}
	const query = `INSERT INTO change_logs (id, report_id, status_id, user_id, description, timestamp)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`
	row := exec.QueryRowxContext(ctx, query, entry.ID, entry.ReportID, entry.StatusID, entry.UserID, entry.Description, entry.Timestamp)
	if err := row.Scan(&entry.Seq); err != nil {
		return fmt.Errorf("insert change log: %w", err)
	}
	return nil
}

func escapeLike(raw string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(raw)
}
