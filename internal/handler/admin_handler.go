package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/service"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/response"
)

type sweeper interface {
	SweepOnce(ctx context.Context) (service.SweepResult, error)
}

// AdminHandler exposes operational endpoints for admins.
type AdminHandler struct {
	sweeper sweeper
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(sweeper sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep godoc
// @Summary Run one archival sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps [post]
func (h *AdminHandler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, appErrors.Configuration("archive sweeper not configured"))
		return
	}
	result, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		response.Error(c, appErrors.Internal(err, "archive sweep failed"))
		return
	}
	response.OK(c, dto.SweepResponse{
		Cutoff:       result.Cutoff.UTC().Format(time.RFC3339),
		StaleReports: result.StaleReports,
		MarksCreated: result.MarksCreated,
	})
}
