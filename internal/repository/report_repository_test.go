package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bugreport-api/internal/models"
)

var repoNow = time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestReportRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	report := &models.Report{ID: "r-1", ReporterID: "stu", Title: "Login fails", Description: "500 on submit", CreatedAt: repoNow, AssigneeIDs: []string{"ins-1", "ins-2"}}
	attachments := []models.Attachment{{ID: "a-1", ReportID: "r-1", FileName: "trace.txt", FilePath: "reports/r-1/x.txt", ContentType: "text/plain", SizeBytes: 4, Checksum: "abc", UploadedAt: repoNow}}
	first := &models.ChangeLog{ID: "l-1", ReportID: "r-1", StatusID: "s-in", UserID: "stu", Description: models.LogReportCreated, Timestamp: repoNow}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reports (id, reporter_id, title, description, created_at)`)).
		WithArgs("r-1", "stu", "Login fails", "500 on submit", repoNow).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_assignees`)).WithArgs("r-1", "ins-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_assignees`)).WithArgs("r-1", "ins-2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO attachments`)).
		WithArgs("a-1", "r-1", "trace.txt", "reports/r-1/x.txt", "text/plain", int64(4), "abc", repoNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO change_logs`)).
		WithArgs("l-1", "r-1", "s-in", "stu", models.LogReportCreated, repoNow).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(17)))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), report, attachments, first))
	assert.Equal(t, int64(1), report.Version)
	assert.Equal(t, int64(17), first.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryCreateRollsBackOnLogFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	report := &models.Report{ID: "r-1", ReporterID: "stu", Title: "t", Description: "d", CreatedAt: repoNow}
	first := &models.ChangeLog{ID: "l-1", ReportID: "r-1", StatusID: "s-in", UserID: "stu", Description: models.LogReportCreated, Timestamp: repoNow}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reports`)).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO change_logs`)).WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), report, nil, first)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert change log")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryApplyEditConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE reports SET title = $3, description = $4, version = version + 1`)).
		WithArgs("r-1", int64(3), "New title", "desc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	_, _, err := repo.ApplyEdit(context.Background(), ReportEdit{ReportID: "r-1", ExpectedVersion: 3, Title: "New title", Description: "desc"})
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryApplyEdit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	edit := ReportEdit{
		ReportID:          "r-1",
		ExpectedVersion:   3,
		Title:             "New title",
		Description:       "desc",
		AddAssignees:      []string{"ins-3"},
		RemoveAssignees:   []string{"ins-1"},
		RemoveAttachments: []string{"a-1"},
		NewAttachments:    []models.Attachment{{ID: "a-2", ReportID: "r-1", FileName: "b.png", FilePath: "reports/r-1/b.png", UploadedAt: repoNow}},
		Log:               &models.ChangeLog{ID: "l-9", ReportID: "r-1", StatusID: "s-prog", UserID: "stu", Description: models.LogReportUpdated, Timestamp: repoNow},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE reports SET`)).
		WithArgs("r-1", int64(3), "New title", "desc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM report_assignees`)).WithArgs("r-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_assignees`)).WithArgs("r-1", "ins-3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM attachments`)).
		WithArgs("r-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "report_id", "file_name", "file_path", "content_type", "size_bytes", "checksum", "uploaded_at"}).
			AddRow("a-1", "r-1", "a.png", "reports/r-1/a.png", "image/png", int64(10), "c", repoNow))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO attachments`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO change_logs`)).WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(30)))
	mock.ExpectCommit()

	version, removed, err := repo.ApplyEdit(context.Background(), edit)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	require.Len(t, removed, 1)
	assert.Equal(t, "reports/r-1/a.png", removed[0].FilePath)
	assert.Equal(t, int64(30), edit.Log.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryAddMessage(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	msg := &models.Message{ID: "m-1", ReportID: "r-1", UserID: "ins-1", Text: "Looking into it", Timestamp: repoNow}
	entry := &models.ChangeLog{ID: "l-2", ReportID: "r-1", StatusID: "s-in", UserID: "ins-1", Description: models.LogMessageAdded, Timestamp: repoNow}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO messages`)).
		WithArgs("m-1", "r-1", "ins-1", "Looking into it", repoNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO change_logs`)).WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))
	mock.ExpectCommit()

	require.NoError(t, repo.AddMessage(context.Background(), msg, entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListForViewer(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	archived := false
	rows := sqlmock.NewRows([]string{"id", "title", "reporter_id", "reporter_name", "created_at", "version", "last_activity", "status_id", "status_name", "assignee_count", "archived"}).
		AddRow("r-1", "Login fails", "stu", "Stu Dent", repoNow, int64(2), repoNow.Add(time.Hour), "s-prog", "In progress", 1, false)

	mock.ExpectQuery(`(?s)WHERE \(r\.reporter_id = \$1 OR EXISTS .*r\.title ILIKE \$2 AND s\.normalized_name = ANY\(\$3\) AND NOT EXISTS .*ORDER BY last_activity DESC, r\.created_at DESC, r\.id DESC`).
		WithArgs("stu", `%50\%%`, sqlmock.AnyArg()).
		WillReturnRows(rows)

	items, err := repo.ListForViewer(context.Background(), "stu", false, models.ReportFilter{
		Search:   "50%",
		Statuses: []string{"In progress"},
		Archived: &archived,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "In progress", items[0].StatusName)
	assert.Equal(t, repoNow.Add(time.Hour), items[0].LastActivity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListForAdminHasNoVisibilityClause(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(`(?s)LEFT JOIN statuses s ON s\.id = cl\.status_id\s+ORDER BY`).
		WithArgs("adm").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := repo.ListForViewer(context.Background(), "adm", true, models.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reports WHERE id = $1`)).WithArgs("nope").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportRepositoryLatestChangeLog(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY timestamp DESC, seq DESC LIMIT 1`)).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "report_id", "status_id", "user_id", "description", "timestamp"}).
			AddRow("l-3", int64(3), "r-1", "s-res", "ins-1", "Changed status to Resolved.", repoNow))

	entry, err := repo.LatestChangeLog(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "s-res", entry.StatusID)
}

func TestReportRepositoryMalformedIDsMatchNothing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	_, err := repo.GetByID(context.Background(), "abc")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = repo.GetAttachment(context.Background(), "7d0e3c1a-5b2f-4c8e-9a61-2f4b7c9d1e30", "a-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetByIDCanonicalisesID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	const id = "7d0e3c1a-5b2f-4c8e-9a61-2f4b7c9d1e30"
	mock.ExpectQuery(regexp.QuoteMeta(`FROM reports WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reporter_id", "title", "description", "created_at", "version"}).
			AddRow(id, "stu", "Login broken", "500 on submit", repoNow, int64(3)))

	report, err := repo.GetByID(context.Background(), "{7D0E3C1A-5B2F-4C8E-9A61-2F4B7C9D1E30}")
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
