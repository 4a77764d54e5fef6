package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/pkg/response"
)

type statusLister interface {
	List(ctx context.Context) ([]models.Status, error)
}

// StatusHandler serves the status catalog.
type StatusHandler struct {
	service statusLister
}

// NewStatusHandler constructs the handler.
func NewStatusHandler(service statusLister) *StatusHandler {
	return &StatusHandler{service: service}
}

// List godoc
// @Summary List report statuses
// @Tags Statuses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /statuses [get]
func (h *StatusHandler) List(c *gin.Context) {
	statuses, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, statuses)
}
