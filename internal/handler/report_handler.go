package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/models"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/export"
	"github.com/noah-isme/bugreport-api/pkg/response"
)

const attachmentsField = "attachments"

type reportService interface {
	CreateReport(ctx context.Context, actor *models.JWTClaims, req dto.CreateReportRequest, uploads []dto.AttachmentUpload) (*models.Report, error)
	ChangeStatus(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.ChangeStatusRequest) (*models.ChangeLog, error)
	AddMessage(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.AddMessageRequest) (*models.Message, *models.ChangeLog, error)
	EditReport(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.EditReportRequest, uploads []dto.AttachmentUpload) (*models.Report, error)
	DeleteReport(ctx context.Context, actor *models.JWTClaims, reportID string) error
	ListReportsForUser(ctx context.Context, actor *models.JWTClaims, filter models.ReportFilter) ([]models.ReportSummary, error)
	GetReportDetails(ctx context.Context, actor *models.JWTClaims, reportID string) (*models.ReportDetails, error)
	ExportHistory(ctx context.Context, actor *models.JWTClaims, reportID, format string) ([]byte, export.Format, error)
	DownloadAttachment(ctx context.Context, actor *models.JWTClaims, reportID, attachmentID, token string) (io.ReadCloser, *models.Attachment, error)
}

// ReportHandler exposes the bug report endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// List godoc
// @Summary List reports visible to the caller
// @Tags Reports
// @Produce json
// @Param search query string false "Title substring"
// @Param status query []string false "Current status names" collectionFormat(multi)
// @Param archived query bool false "Only archived (true) or unarchived (false) reports"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.ListReportsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Validation("archived", "archived must be true or false"))
		return
	}
	query.Statuses = splitValues(query.Statuses)

	items, err := h.service.ListReportsForUser(c.Request.Context(), claims, query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items, map[string]interface{}{"count": len(items)})
}

// Create godoc
// @Summary File a new bug report
// @Tags Reports
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Title (max 125 characters)"
// @Param description formData string true "Description"
// @Param assignee_ids formData []string true "Instructor ids" collectionFormat(multi)
// @Param attachments formData file false "Attachments"
// @Success 201 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateReportRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report payload"))
		return
	}
	if ids, ok := c.GetPostFormArray("assignee_ids"); ok {
		req.AssigneeIDs = splitValues(ids)
	}
	uploads, err := formUploads(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	report, err := h.service.CreateReport(c.Request.Context(), claims, req, uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", etag(report.Version))
	response.Created(c, dto.NewReportResponse(report))
}

// Get godoc
// @Summary Get report details
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	details, err := h.service.GetReportDetails(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", etag(details.Version))
	response.OK(c, details)
}

// Update godoc
// @Summary Edit a report
// @Description The version field (or If-Match header) must carry the version last read.
// @Tags Reports
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Report ID"
// @Param version formData int false "Expected version"
// @Param If-Match header string false "Expected version"
// @Param title formData string false "New title"
// @Param description formData string false "New description"
// @Param assignee_ids formData []string false "Replacement assignee set" collectionFormat(multi)
// @Param keep_attachment_ids formData []string false "Attachments to keep" collectionFormat(multi)
// @Param attachments formData file false "New attachments"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/{id} [put]
func (h *ReportHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EditReportRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Validation("version", "version must be an integer"))
		return
	}
	if req.ExpectedVersion == 0 {
		version, ok := parseIfMatch(c.GetHeader("If-Match"))
		if !ok {
			response.Error(c, appErrors.Validation("version", "version is required"))
			return
		}
		req.ExpectedVersion = version
	}
	if ids, ok := c.GetPostFormArray("assignee_ids"); ok {
		req.AssigneeIDs = splitValues(ids)
	}
	if ids, ok := c.GetPostFormArray("keep_attachment_ids"); ok {
		req.KeepAttachmentIDs = splitValues(ids)
	}
	uploads, err := formUploads(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	report, err := h.service.EditReport(c.Request.Context(), claims, c.Param("id"), req, uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", etag(report.Version))
	response.OK(c, dto.NewReportResponse(report))
}

// Delete godoc
// @Summary Delete a report
// @Tags Reports
// @Param id path string true "Report ID"
// @Success 204
// @Router /reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.DeleteReport(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangeStatus godoc
// @Summary Change the status of a report
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param payload body dto.ChangeStatusRequest true "Target status"
// @Success 201 {object} response.Envelope
// @Router /reports/{id}/status [post]
func (h *ReportHandler) ChangeStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status payload"))
		return
	}
	entry, err := h.service.ChangeStatus(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ChangeStatusResponse{ChangeLog: *entry})
}

// AddMessage godoc
// @Summary Post a message on a report
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param payload body dto.AddMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Router /reports/{id}/messages [post]
func (h *ReportHandler) AddMessage(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid message payload"))
		return
	}
	msg, entry, err := h.service.AddMessage(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.AddMessageResponse{Message: *msg, ChangeLog: *entry})
}

// ExportHistory godoc
// @Summary Export the report history
// @Tags Reports
// @Produce text/csv,application/pdf
// @Param id path string true "Report ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /reports/{id}/history/export [get]
func (h *ReportHandler) ExportHistory(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	reportID := c.Param("id")
	body, format, err := h.service.ExportHistory(c.Request.Context(), claims, reportID, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"report-%s-history.%s\"", reportID, format))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, format.ContentType(), body)
}

// DownloadAttachment godoc
// @Summary Download an attachment via signed token
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Report ID"
// @Param attachmentId path string true "Attachment ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /reports/{id}/attachments/{attachmentId}/download [get]
func (h *ReportHandler) DownloadAttachment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Validation("token", "token is required"))
		return
	}
	rc, att, err := h.service.DownloadAttachment(c.Request.Context(), claims, c.Param("id"), c.Param("attachmentId"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close() //nolint:errcheck

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := att.SizeBytes
	if size <= 0 {
		size = -1
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, contentType, rc, nil)
}

// formUploads collects the files posted under the attachments field.
func formUploads(c *gin.Context) ([]dto.AttachmentUpload, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, appErrors.Validation(attachmentsField, "invalid multipart payload")
	}
	files := form.File[attachmentsField]
	uploads := make([]dto.AttachmentUpload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, dto.UploadFromFileHeader(fh))
	}
	return uploads, nil
}

// splitValues flattens repeated and comma separated values, dropping blanks.
// The result is never nil so "present but empty" stays distinguishable.
func splitValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func etag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

func parseIfMatch(header string) (int64, bool) {
	header = strings.TrimPrefix(strings.TrimSpace(header), "W/")
	header = strings.Trim(header, `"`)
	if header == "" {
		return 0, false
	}
	version, err := strconv.ParseInt(header, 10, 64)
	if err != nil || version <= 0 {
		return 0, false
	}
	return version, true
}
