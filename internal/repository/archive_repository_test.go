package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bugreport-api/internal/models"
)

func TestArchiveRepositoryListStale(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	cutoff := repoNow.Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE COALESCE(cl.last_ts, r.created_at) < $1`)).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reporter_id", "last_activity"}).
			AddRow("r-1", "stu", cutoff.Add(-24*time.Hour)))

	items, err := repo.ListStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "stu", items[0].ReporterID)
}

func TestArchiveRepositoryAssigneesByReport(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT report_id, user_id FROM report_assignees`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"report_id", "user_id"}).
			AddRow("r-1", "ins-1").
			AddRow("r-1", "ins-2").
			AddRow("r-2", "ins-1"))

	got, err := repo.AssigneesByReport(context.Background(), []string{"r-1", "r-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ins-1", "ins-2"}, got["r-1"])
	assert.Equal(t, []string{"ins-1"}, got["r-2"])

	empty, err := repo.AssigneesByReport(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestArchiveRepositoryInsertMarksCountsOnlyNewRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	marks := []models.ArchiveMark{
		{ID: "m-1", ReportID: "r-1", UserID: "stu", ArchivedAt: repoNow},
		{ID: "m-2", ReportID: "r-1", UserID: "ins-1", ArchivedAt: repoNow},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (report_id, user_id) DO NOTHING`)).
		WithArgs("m-1", "r-1", "stu", repoNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (report_id, user_id) DO NOTHING`)).
		WithArgs("m-2", "r-1", "ins-1", repoNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := repo.InsertMarks(context.Background(), marks)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryInsertMarksRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO archive_marks`)).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	created, err := repo.InsertMarks(context.Background(), []models.ArchiveMark{{ID: "m-1", ReportID: "r-1", UserID: "stu", ArchivedAt: repoNow}})
	require.Error(t, err)
	assert.Zero(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryInsertNoMarksSkipsTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	created, err := repo.InsertMarks(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryCountMarks(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM archive_marks`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	n, err := repo.CountMarks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
