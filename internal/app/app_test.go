package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/internal/repository"
	"github.com/noah-isme/bugreport-api/internal/service"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
	"github.com/noah-isme/bugreport-api/pkg/storage"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	cfg := &config.Config{
		Env:       config.EnvDevelopment,
		APIPrefix: "/api/v1",
		JWT:       config.JWTConfig{Secret: "test-secret", Issuer: "bugreport", Expiration: time.Hour},
		Storage: config.StorageConfig{
			Backend:         config.StorageBackendLocal,
			Dir:             t.TempDir(),
			SignedURLSecret: "signing-secret",
			SignedURLTTL:    time.Minute,
		},
	}
	a := &App{
		Config:  cfg,
		Logger:  zap.NewNop(),
		DB:      sqlx.NewDb(mockDB, "sqlmock"),
		Metrics: service.NewMetricsService(),
	}
	store, err := newBlobStore(context.Background(), cfg.Storage)
	require.NoError(t, err)
	a.wire(store)
	a.Router = a.newRouter()
	return a, mock
}

func bearer(t *testing.T, a *App, userID string, role models.UserRole) string {
	t.Helper()
	token, _, err := a.Tokens.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(a *App, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	return w
}

func TestRouterProbes(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Equal(t, http.StatusOK, serve(a, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(a, http.MethodGet, "/ready", "").Code)

	w := serve(a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestRouterRequiresToken(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Equal(t, http.StatusUnauthorized, serve(a, http.MethodGet, "/api/v1/reports", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(a, http.MethodGet, "/api/v1/reports", "Bearer nonsense").Code)
}

func TestRouterAdminRoutesRejectOtherRoles(t *testing.T) {
	a, mock := newTestApp(t)

	w := serve(a, http.MethodPost, "/api/v1/admin/sweeps", bearer(t, a, "stu", models.RoleStudent))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(a, http.MethodPost, "/api/v1/reports", bearer(t, a, "ins-1", models.RoleInstructor))
	assert.Equal(t, http.StatusForbidden, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterListsStatuses(t *testing.T) {
	a, mock := newTestApp(t)
	mock.ExpectQuery("SELECT id, name, normalized_name FROM statuses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "normalized_name"}).
			AddRow("st-1", "Incoming", "INCOMING"))

	w := serve(a, http.MethodGet, "/api/v1/statuses", bearer(t, a, "stu", models.RoleStudent))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"normalized_name":"INCOMING"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterMalformedIDs(t *testing.T) {
	a, mock := newTestApp(t)
	student := bearer(t, a, "stu", models.RoleStudent)

	w := serve(a, http.MethodGet, "/api/v1/reports/abc", student)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = serve(a, http.MethodDelete, "/api/v1/reports/abc", student)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/abc/status", strings.NewReader(`{"status_id":"RESOLVED"}`))
	req.Header.Set("Authorization", bearer(t, a, "ins-1", models.RoleInstructor))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "status_id")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewBlobStore(t *testing.T) {
	store, err := newBlobStore(context.Background(), config.StorageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalStorage{}, store)

	_, err = newBlobStore(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.ErrorContains(t, err, `unknown storage backend "ftp"`)
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	var order []string
	a := &App{Logger: zap.NewNop()}
	a.closers = []func(context.Context) error{
		func(context.Context) error { order = append(order, "db"); return nil },
		func(context.Context) error { order = append(order, "redis"); return errors.New("already closed") },
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Close(ctx)

	assert.Equal(t, []string{"redis", "db"}, order)
	assert.Nil(t, a.closers)
}

// slowArchive holds a sweep pass inside ListStale until released.
type slowArchive struct {
	entered  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (s *slowArchive) ListStale(ctx context.Context, cutoff time.Time) ([]repository.StaleReport, error) {
	close(s.entered)
	<-s.release
	return []repository.StaleReport{{ID: "r-1", ReporterID: "stu", LastActivity: cutoff.Add(-time.Hour)}}, nil
}

func (s *slowArchive) AssigneesByReport(ctx context.Context, reportIDs []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (s *slowArchive) InsertMarks(ctx context.Context, marks []models.ArchiveMark) (int64, error) {
	s.finished.Store(true)
	return int64(len(marks)), nil
}

type noAdmins struct{}

func (noAdmins) ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	return nil, nil
}

func TestRunWaitsForInFlightSweep(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Port = 0
	a.Config.Archive = config.ArchiveConfig{Enabled: true, Interval: time.Hour, Retention: time.Hour}

	archive := &slowArchive{entered: make(chan struct{}), release: make(chan struct{})}
	a.Sweeper = service.NewArchiveSweeper(archive, noAdmins{}, a.Config.Archive, clock.NewFake(time.Now()), nil, a.Metrics, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-archive.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep pass never started")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a sweep pass was in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(archive.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("Run did not return after the sweep pass finished")
	}
	assert.True(t, archive.finished.Load())
}
