package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
)

type userRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	ListByRole(ctx context.Context, role models.UserRole, excludeID string) ([]models.User, error)
	ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole, at time.Time) error
}

// UserService exposes the user directory used by report forms and admins.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	clock     clock.Clock
	logger    *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(repo userRepository, validate *validator.Validate, clk clock.Clock, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = NewValidator()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, validator: validate, clock: clk, logger: logger}
}

// ListAssignable returns instructors other than the actor.
func (s *UserService) ListAssignable(ctx context.Context, actor *models.JWTClaims) ([]models.UserRef, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	users, err := s.repo.ListByRole(ctx, models.RoleInstructor, actor.UserID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list assignable users")
	}
	refs := make([]models.UserRef, 0, len(users))
	for _, u := range users {
		refs = append(refs, u.Ref())
	}
	return refs, nil
}

// ReplaceRoles sets the single role of every listed user. A missing user is
// reported in its result row and does not stop the others.
func (s *UserService) ReplaceRoles(ctx context.Context, actor *models.JWTClaims, req dto.ReplaceRolesRequest) ([]models.RoleChangeResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Forbidden("only admins can change roles")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	role, _ := models.ParseRole(req.Role)

	now := s.clock.Now()
	seen := make(map[string]struct{}, len(req.UserIDs))
	results := make([]models.RoleChangeResult, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		result := models.RoleChangeResult{UserID: id}
		err := s.repo.UpdateRole(ctx, id, role, now)
		switch {
		case err == nil:
			result.Role = role
			result.Updated = true
		case errors.Is(err, sql.ErrNoRows):
			result.Error = "user not found"
		default:
			s.logger.Error("failed to replace role", zap.String("user_id", id), zap.Error(err))
			result.Error = "update failed"
		}
		results = append(results, result)
	}
	s.logger.Info("roles replaced", zap.String("actor_id", actor.UserID), zap.String("role", string(role)), zap.Int("users", len(results)))
	return results, nil
}
