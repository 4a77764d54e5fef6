package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/models"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/response"
)

type userService interface {
	ListAssignable(ctx context.Context, actor *models.JWTClaims) ([]models.UserRef, error)
	ReplaceRoles(ctx context.Context, actor *models.JWTClaims, req dto.ReplaceRolesRequest) ([]models.RoleChangeResult, error)
}

// UserHandler handles user directory endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// ListAssignable godoc
// @Summary List users a report can be assigned to
// @Description Instructors and admins, excluding the caller
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/assignable [get]
func (h *UserHandler) ListAssignable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	users, err := h.service.ListAssignable(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, users, map[string]interface{}{"count": len(users)})
}

// ReplaceRoles godoc
// @Summary Replace the role of several users
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.ReplaceRolesRequest true "Users and target role"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users/roles [put]
func (h *UserHandler) ReplaceRoles(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReplaceRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid role payload"))
		return
	}
	results, err := h.service.ReplaceRoles(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	failed := 0
	for _, r := range results {
		if !r.Updated {
			failed++
		}
	}
	response.OK(c, results, map[string]interface{}{"updated": len(results) - failed, "failed": failed})
}
