package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
)

const statusCacheKey = "statuses:all"

type statusRepository interface {
	List(ctx context.Context) ([]models.Status, error)
	GetByID(ctx context.Context, id string) (*models.Status, error)
	GetByNormalizedName(ctx context.Context, normalized string) (*models.Status, error)
	Seed(ctx context.Context, statuses []models.Status) (int64, error)
}

// StatusService serves the fixed status catalog. The catalog never changes
// after seeding so cached copies are never invalidated.
type StatusService struct {
	repo   statusRepository
	cache  *CacheService
	ids    clock.IDGenerator
	logger *zap.Logger
}

// NewStatusService constructs the catalog service. cache may be nil.
func NewStatusService(repo statusRepository, cache *CacheService, ids clock.IDGenerator, logger *zap.Logger) *StatusService {
	if ids == nil {
		ids = clock.UUIDs{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{repo: repo, cache: cache, ids: ids, logger: logger}
}

// Seed installs the catalog idempotently and verifies INCOMING exists.
func (s *StatusService) Seed(ctx context.Context) error {
	statuses := make([]models.Status, 0, len(models.SeedStatusNames))
	for _, name := range models.SeedStatusNames {
		statuses = append(statuses, models.Status{
			ID:             s.ids.NewID(),
			Name:           name,
			NormalizedName: models.NormalizeStatusName(name),
		})
	}
	inserted, err := s.repo.Seed(ctx, statuses)
	if err != nil {
		return appErrors.Internal(err, "failed to seed statuses")
	}
	s.logger.Info("status catalog seeded", zap.Int64("inserted", inserted))

	if _, err := s.incoming(ctx); err != nil {
		return err
	}
	_ = s.cache.Invalidate(ctx, statusCacheKey)
	return nil
}

// List returns every status ordered by name.
func (s *StatusService) List(ctx context.Context) ([]models.Status, error) {
	var cached []models.Status
	if s.cache.Get(ctx, statusCacheKey, &cached) {
		return cached, nil
	}
	statuses, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list statuses")
	}
	s.cache.Set(ctx, statusCacheKey, statuses, 0)
	return statuses, nil
}

// GetByID resolves a status id. Unknown ids are NOT_FOUND.
func (s *StatusService) GetByID(ctx context.Context, id string) (*models.Status, error) {
	if statuses, ok := s.cached(ctx); ok {
		for i := range statuses {
			if statuses[i].ID == id {
				return &statuses[i], nil
			}
		}
	}
	status, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("status", id)
		}
		return nil, appErrors.Internal(err, "failed to load status")
	}
	return status, nil
}

// GetByNormalizedName resolves a status by its normalized name.
func (s *StatusService) GetByNormalizedName(ctx context.Context, name string) (*models.Status, error) {
	normalized := models.NormalizeStatusName(name)
	if statuses, ok := s.cached(ctx); ok {
		for i := range statuses {
			if statuses[i].NormalizedName == normalized {
				return &statuses[i], nil
			}
		}
	}
	status, err := s.repo.GetByNormalizedName(ctx, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("status", normalized)
		}
		return nil, appErrors.Internal(err, "failed to load status")
	}
	return status, nil
}

// Incoming returns the status new reports start in. Its absence is a configuration error.
func (s *StatusService) Incoming(ctx context.Context) (*models.Status, error) {
	return s.incoming(ctx)
}

func (s *StatusService) incoming(ctx context.Context) (*models.Status, error) {
	status, err := s.GetByNormalizedName(ctx, models.StatusIncoming)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Configuration("status INCOMING is not seeded")
		}
		return nil, err
	}
	return status, nil
}

func (s *StatusService) cached(ctx context.Context) ([]models.Status, bool) {
	var statuses []models.Status
	if !s.cache.Get(ctx, statusCacheKey, &statuses) {
		return nil, false
	}
	return statuses, true
}
