package dto

import (
	"io"
	"mime/multipart"
	"time"

	"github.com/noah-isme/bugreport-api/internal/models"
)

// CreateReportRequest captures the POST /reports form fields.
type CreateReportRequest struct {
	Title       string   `json:"title" form:"title" validate:"required,max=125"`
	Description string   `json:"description" form:"description" validate:"required"`
	AssigneeIDs []string `json:"assignee_ids" form:"assignee_ids" validate:"required,min=1,dive,required"`
}

// EditReportRequest captures PUT /reports/:id. Nil fields are left unchanged;
// a nil KeepAttachmentIDs keeps every existing attachment.
type EditReportRequest struct {
	ExpectedVersion   int64    `json:"version" form:"version" validate:"required,min=1"`
	Title             *string  `json:"title,omitempty" form:"title" validate:"omitnil,required,max=125"`
	Description       *string  `json:"description,omitempty" form:"description" validate:"omitnil,required"`
	AssigneeIDs       []string `json:"assignee_ids,omitempty" form:"assignee_ids"`
	KeepAttachmentIDs []string `json:"keep_attachment_ids,omitempty" form:"keep_attachment_ids"`
}

// ChangeStatusRequest is the body of POST /reports/:id/status.
type ChangeStatusRequest struct {
	StatusID string `json:"status_id" validate:"required,uuid"`
}

// AddMessageRequest is the body of POST /reports/:id/messages.
type AddMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// ListReportsQuery binds GET /reports query parameters.
type ListReportsQuery struct {
	Search   string   `form:"search"`
	Statuses []string `form:"status"`
	Archived *bool    `form:"archived"`
}

// Filter converts the query into a repository filter.
func (q ListReportsQuery) Filter() models.ReportFilter {
	return models.ReportFilter{Search: q.Search, Statuses: q.Statuses, Archived: q.Archived}
}

// AttachmentUpload is one uploaded file awaiting storage.
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// UploadFromFileHeader adapts a multipart file part.
func UploadFromFileHeader(fh *multipart.FileHeader) AttachmentUpload {
	return AttachmentUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// ChangeStatusResponse wraps the appended history entry.
type ChangeStatusResponse struct {
	ChangeLog models.ChangeLog `json:"change_log"`
}

// AddMessageResponse returns the stored message with its history entry.
type AddMessageResponse struct {
	Message   models.Message   `json:"message"`
	ChangeLog models.ChangeLog `json:"change_log"`
}

// ReportResponse is returned by create and edit.
type ReportResponse struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	ReporterID  string              `json:"reporter_id"`
	AssigneeIDs []string            `json:"assignee_ids"`
	Attachments []models.Attachment `json:"attachments"`
	Version     int64               `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
}

// NewReportResponse flattens the aggregate for clients.
func NewReportResponse(r *models.Report) ReportResponse {
	resp := ReportResponse{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		ReporterID:  r.ReporterID,
		AssigneeIDs: r.AssigneeIDs,
		Attachments: r.Attachments,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	}
	if resp.AssigneeIDs == nil {
		resp.AssigneeIDs = []string{}
	}
	if resp.Attachments == nil {
		resp.Attachments = []models.Attachment{}
	}
	return resp
}
