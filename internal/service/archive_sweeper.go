package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/internal/repository"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
	"github.com/noah-isme/bugreport-api/pkg/tracing"
)

const (
	defaultSweepInterval  = 24 * time.Hour
	defaultSweepRetention = 30 * 24 * time.Hour
)

type archiveRepository interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]repository.StaleReport, error)
	AssigneesByReport(ctx context.Context, reportIDs []string) (map[string][]string, error)
	InsertMarks(ctx context.Context, marks []models.ArchiveMark) (int64, error)
}

type adminDirectory interface {
	ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

// SweepResult summarises one archival pass.
type SweepResult struct {
	Cutoff       time.Time `json:"cutoff"`
	StaleReports int       `json:"stale_reports"`
	MarksCreated int64     `json:"marks_created"`
}

// ArchiveSweeper marks inactive reports as archived for every participant
// and every admin. Passes are serialised and safe to repeat.
type ArchiveSweeper struct {
	repo      archiveRepository
	users     adminDirectory
	clock     clock.Clock
	ids       clock.IDGenerator
	interval  time.Duration
	retention time.Duration
	metrics   *MetricsService
	logger    *zap.Logger

	mu sync.Mutex
}

// NewArchiveSweeper constructs the sweeper.
func NewArchiveSweeper(repo archiveRepository, users adminDirectory, cfg config.ArchiveConfig, clk clock.Clock, ids clock.IDGenerator, metrics *MetricsService, logger *zap.Logger) *ArchiveSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultSweepRetention
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if ids == nil {
		ids = clock.UUIDs{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSweeper{
		repo:      repo,
		users:     users,
		clock:     clk,
		ids:       ids,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "archive_sweeper")),
	}
}

// Run sweeps immediately and then once per interval until ctx is done.
func (s *ArchiveSweeper) Run(ctx context.Context) {
	s.logger.Info("archive sweeper started", zap.Duration("interval", s.interval), zap.Duration("retention", s.retention))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("archive sweeper stopped")
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// runPass executes one sweep that survives cancellation of ctx. SweepOnce
// turns panics into errors so the loop keeps going.
func (s *ArchiveSweeper) runPass(ctx context.Context) {
	if _, err := s.SweepOnce(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("archive sweep failed", zap.Error(err))
	}
}

// SweepOnce archives every report idle since before now minus the retention
// window. Existing marks are left untouched, so repeating a pass is harmless.
func (s *ArchiveSweeper) SweepOnce(ctx context.Context) (result SweepResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracing.Tracer().Start(ctx, "archive.sweep")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("archive sweep panicked: %v", r)
			s.logger.Error("archive sweep panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		outcome := SweepResultSuccess
		if err != nil {
			outcome = SweepResultFailure
		}
		s.metrics.RecordSweep(outcome, time.Since(start), result.MarksCreated)
		span.SetAttributes(
			attribute.Int("archive.stale_reports", result.StaleReports),
			attribute.Int64("archive.marks_created", result.MarksCreated),
		)
		tracing.RecordError(span, err)
		span.End()
	}()

	now := s.clock.Now()
	result.Cutoff = now.Add(-s.retention)

	stale, err := s.repo.ListStale(ctx, result.Cutoff)
	if err != nil {
		return result, fmt.Errorf("list stale reports: %w", err)
	}
	result.StaleReports = len(stale)
	if len(stale) == 0 {
		s.logger.Debug("no stale reports", zap.Time("cutoff", result.Cutoff))
		return result, nil
	}

	reportIDs := make([]string, 0, len(stale))
	for _, r := range stale {
		reportIDs = append(reportIDs, r.ID)
	}
	assignees, err := s.repo.AssigneesByReport(ctx, reportIDs)
	if err != nil {
		return result, fmt.Errorf("load assignees: %w", err)
	}
	admins, err := s.users.ListIDsByRole(ctx, models.RoleAdmin)
	if err != nil {
		return result, fmt.Errorf("load admins: %w", err)
	}

	var marks []models.ArchiveMark
	for _, r := range stale {
		candidates := make([]string, 0, 1+len(assignees[r.ID])+len(admins))
		candidates = append(candidates, r.ReporterID)
		candidates = append(candidates, assignees[r.ID]...)
		candidates = append(candidates, admins...)
		for _, userID := range dedupe(candidates) {
			marks = append(marks, models.ArchiveMark{
				ID:         s.ids.NewID(),
				ReportID:   r.ID,
				UserID:     userID,
				ArchivedAt: now,
			})
		}
	}

	created, err := s.repo.InsertMarks(ctx, marks)
	if err != nil {
		return result, fmt.Errorf("insert archive marks: %w", err)
	}
	result.MarksCreated = created
	s.logger.Info("archive sweep finished",
		zap.Time("cutoff", result.Cutoff),
		zap.Int("stale_reports", result.StaleReports),
		zap.Int("candidates", len(marks)),
		zap.Int64("marks_created", created),
	)
	return result, nil
}
