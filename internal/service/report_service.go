package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/internal/repository"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/export"
	"github.com/noah-isme/bugreport-api/pkg/storage"
)

type reportRepository interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	ListAssigneeIDs(ctx context.Context, reportID string) ([]string, error)
	IsAssignee(ctx context.Context, reportID, userID string) (bool, error)
	ListAttachments(ctx context.Context, reportID string) ([]models.Attachment, error)
	GetAttachment(ctx context.Context, reportID, attachmentID string) (*models.Attachment, error)
	LatestChangeLog(ctx context.Context, reportID string) (*models.ChangeLog, error)
	ListChangeLogs(ctx context.Context, reportID string) ([]models.ChangeLogView, error)
	ListMessages(ctx context.Context, reportID string) ([]models.MessageView, error)
	IsArchivedFor(ctx context.Context, reportID, userID string) (bool, error)
	ListForViewer(ctx context.Context, viewerID string, admin bool, filter models.ReportFilter) ([]models.ReportSummary, error)
	Create(ctx context.Context, report *models.Report, attachments []models.Attachment, first *models.ChangeLog) error
	AppendChangeLog(ctx context.Context, entry *models.ChangeLog) error
	AddMessage(ctx context.Context, msg *models.Message, entry *models.ChangeLog) error
	ApplyEdit(ctx context.Context, edit repository.ReportEdit) (int64, []models.Attachment, error)
	Delete(ctx context.Context, id string) error
}

type statusCatalog interface {
	Incoming(ctx context.Context) (*models.Status, error)
	GetByID(ctx context.Context, id string) (*models.Status, error)
}

type blobRemover interface {
	Remove(ctx context.Context, paths ...string)
}

// BlobStore persists attachment content.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (storage.Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ReportDeps groups the collaborators of ReportService.
type ReportDeps struct {
	Reports   reportRepository
	Users     userRepository
	Statuses  statusCatalog
	Blobs     BlobStore
	Janitor   blobRemover
	Signer    *storage.SignedURLSigner
	Validator *validator.Validate
	Clock     clock.Clock
	IDs       clock.IDGenerator
	Metrics   *MetricsService
	Logger    *zap.Logger

	// MaxFileSize caps a single upload in bytes; zero disables the check.
	MaxFileSize int64
	// DownloadBasePath prefixes generated attachment links, e.g. "/api/v1".
	DownloadBasePath string
}

// ReportService implements the bug report aggregate operations.
type ReportService struct {
	reports   reportRepository
	users     userRepository
	statuses  statusCatalog
	blobs     BlobStore
	janitor   blobRemover
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	clock     clock.Clock
	ids       clock.IDGenerator
	metrics   *MetricsService
	logger    *zap.Logger

	maxFileSize int64
	basePath    string
}

// NewReportService constructs the service.
func NewReportService(deps ReportDeps) *ReportService {
	if deps.Validator == nil {
		deps.Validator = NewValidator()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.IDs == nil {
		deps.IDs = clock.UUIDs{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &ReportService{
		reports:     deps.Reports,
		users:       deps.Users,
		statuses:    deps.Statuses,
		blobs:       deps.Blobs,
		janitor:     deps.Janitor,
		signer:      deps.Signer,
		validator:   deps.Validator,
		clock:       deps.Clock,
		ids:         deps.IDs,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		maxFileSize: deps.MaxFileSize,
		basePath:    strings.TrimRight(deps.DownloadBasePath, "/"),
	}
}

// CreateReport files a new report for a student actor.
func (s *ReportService) CreateReport(ctx context.Context, actor *models.JWTClaims, req dto.CreateReportRequest, uploads []dto.AttachmentUpload) (*models.Report, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsStudent() {
		return nil, appErrors.Forbidden("only students can create reports")
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}
	assignees, err := s.resolveAssignees(ctx, req.AssigneeIDs)
	if err != nil {
		return nil, err
	}
	incoming, err := s.statuses.Incoming(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	report := &models.Report{
		ID:          s.ids.NewID(),
		ReporterID:  actor.UserID,
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   now,
		AssigneeIDs: assignees,
	}

	attachments, err := s.storeUploads(ctx, report.ID, uploads)
	if err != nil {
		return nil, err
	}

	first := &models.ChangeLog{
		ID:          s.ids.NewID(),
		ReportID:    report.ID,
		StatusID:    incoming.ID,
		UserID:      actor.UserID,
		Description: models.LogReportCreated,
		Timestamp:   now,
	}
	if err := s.reports.Create(ctx, report, attachments, first); err != nil {
		s.discard(ctx, attachments)
		return nil, appErrors.Internal(err, "failed to create report")
	}

	report.Attachments = attachments
	s.metrics.RecordChangeLog("create")
	s.logger.Info("report created",
		zap.String("report_id", report.ID),
		zap.String("reporter_id", actor.UserID),
		zap.Int("assignees", len(assignees)),
		zap.Int("attachments", len(attachments)),
	)
	return report, nil
}

// ChangeStatus appends a status transition. Only assignees and admins may do so.
func (s *ReportService) ChangeStatus(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.ChangeStatusRequest) (*models.ChangeLog, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	report, err := s.loadReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		assigned, err := s.reports.IsAssignee(ctx, report.ID, actor.UserID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check assignment")
		}
		if !assigned {
			return nil, appErrors.Forbidden("only assignees or admins can change the status")
		}
	}

	status, err := s.statuses.GetByID(ctx, req.StatusID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Validation("status_id", "unknown status")
		}
		return nil, err
	}

	entry := &models.ChangeLog{
		ID:          s.ids.NewID(),
		ReportID:    report.ID,
		StatusID:    status.ID,
		UserID:      actor.UserID,
		Description: models.StatusChangedDescription(status.Name),
		Timestamp:   s.clock.Now(),
	}
	if err := s.reports.AppendChangeLog(ctx, entry); err != nil {
		return nil, appErrors.Internal(err, "failed to change status")
	}
	s.metrics.RecordChangeLog("status")
	return entry, nil
}

// AddMessage posts a message and records it in the trail, keeping the current status.
func (s *ReportService) AddMessage(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.AddMessageRequest) (*models.Message, *models.ChangeLog, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, validationError(err)
	}
	report, err := s.loadReport(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	statusID, err := s.currentStatusID(ctx, report.ID)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	msg := &models.Message{
		ID:        s.ids.NewID(),
		ReportID:  report.ID,
		UserID:    actor.UserID,
		Text:      req.Text,
		Timestamp: now,
	}
	entry := &models.ChangeLog{
		ID:          s.ids.NewID(),
		ReportID:    report.ID,
		StatusID:    statusID,
		UserID:      actor.UserID,
		Description: models.LogMessageAdded,
		Timestamp:   now,
	}
	if err := s.reports.AddMessage(ctx, msg, entry); err != nil {
		return nil, nil, appErrors.Internal(err, "failed to add message")
	}
	s.metrics.RecordChangeLog("message")
	return msg, entry, nil
}

// EditReport applies a reporter's edit guarded by the version token. Blobs
// staged for the edit are removed again if the edit does not commit.
func (s *ReportService) EditReport(ctx context.Context, actor *models.JWTClaims, reportID string, req dto.EditReportRequest, uploads []dto.AttachmentUpload) (*models.Report, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	report, err := s.loadReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.ReporterID != actor.UserID {
		return nil, appErrors.Forbidden("only the reporter can edit this report")
	}
	if req.ExpectedVersion != report.Version {
		s.metrics.RecordEditConflict()
		return nil, appErrors.Conflict("report", report.ID)
	}

	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		req.Title = &trimmed
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		req.Description = &trimmed
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}

	current, err := s.reports.ListAssigneeIDs(ctx, report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load assignees")
	}
	finalAssignees := current
	var added, removedAssignees []string
	if req.AssigneeIDs != nil {
		requested, err := s.resolveAssignees(ctx, req.AssigneeIDs)
		if err != nil {
			return nil, err
		}
		added = difference(requested, current)
		removedAssignees = difference(current, requested)
		finalAssignees = requested
	}

	existing, err := s.reports.ListAttachments(ctx, report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attachments")
	}
	kept := existing
	var dropIDs []string
	if req.KeepAttachmentIDs != nil {
		keep := toSet(req.KeepAttachmentIDs)
		kept = kept[:0:0]
		for _, att := range existing {
			if _, ok := keep[att.ID]; ok {
				kept = append(kept, att)
				continue
			}
			dropIDs = append(dropIDs, att.ID)
		}
	}

	statusID, err := s.currentStatusID(ctx, report.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		report.Title = *req.Title
	}
	if req.Description != nil {
		report.Description = *req.Description
	}

	staged, err := s.storeUploads(ctx, report.ID, uploads)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.discard(ctx, staged)
		}
	}()

	version, removed, err := s.reports.ApplyEdit(ctx, repository.ReportEdit{
		ReportID:          report.ID,
		ExpectedVersion:   req.ExpectedVersion,
		Title:             report.Title,
		Description:       report.Description,
		AddAssignees:      added,
		RemoveAssignees:   removedAssignees,
		RemoveAttachments: dropIDs,
		NewAttachments:    staged,
		Log: &models.ChangeLog{
			ID:          s.ids.NewID(),
			ReportID:    report.ID,
			StatusID:    statusID,
			UserID:      actor.UserID,
			Description: models.LogReportUpdated,
			Timestamp:   s.clock.Now(),
		},
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.RecordEditConflict()
			return nil, appErrors.Conflict("report", report.ID)
		}
		return nil, appErrors.Internal(err, "failed to edit report")
	}
	committed = true
	s.discard(ctx, removed)

	report.Version = version
	report.AssigneeIDs = finalAssignees
	report.Attachments = append(kept, staged...)
	s.metrics.RecordChangeLog("edit")
	s.logger.Info("report edited",
		zap.String("report_id", report.ID),
		zap.Int64("version", version),
		zap.Int("attachments_added", len(staged)),
		zap.Int("attachments_removed", len(removed)),
	)
	return report, nil
}

// DeleteReport removes a report and its blobs. Only the reporter may delete.
func (s *ReportService) DeleteReport(ctx context.Context, actor *models.JWTClaims, reportID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	report, err := s.loadReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.ReporterID != actor.UserID {
		return appErrors.Forbidden("only the reporter can delete this report")
	}
	attachments, err := s.reports.ListAttachments(ctx, report.ID)
	if err != nil {
		return appErrors.Internal(err, "failed to load attachments")
	}
	s.discard(ctx, attachments)

	if err := s.reports.Delete(ctx, report.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NotFound("report", report.ID)
		}
		return appErrors.Internal(err, "failed to delete report")
	}
	s.logger.Info("report deleted", zap.String("report_id", report.ID), zap.Int("attachments", len(attachments)))
	return nil
}

// ListReportsForUser returns the reports the actor participates in, or all
// reports for admins, most recently active first.
func (s *ReportService) ListReportsForUser(ctx context.Context, actor *models.JWTClaims, filter models.ReportFilter) ([]models.ReportSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter.Search = strings.TrimSpace(filter.Search)
	statuses := make([]string, 0, len(filter.Statuses))
	for _, name := range filter.Statuses {
		if normalized := models.NormalizeStatusName(name); normalized != "" {
			statuses = append(statuses, normalized)
		}
	}
	filter.Statuses = statuses

	items, err := s.reports.ListForViewer(ctx, actor.UserID, actor.IsAdmin(), filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list reports")
	}
	if items == nil {
		items = []models.ReportSummary{}
	}
	models.SortSummaries(items)
	return items, nil
}

// GetReportDetails returns the full read model for a participant or admin.
func (s *ReportService) GetReportDetails(ctx context.Context, actor *models.JWTClaims, reportID string) (*models.ReportDetails, error) {
	report, assigneeIDs, err := s.loadVisible(ctx, actor, reportID)
	if err != nil {
		return nil, err
	}

	users, err := s.users.FindByIDs(ctx, append([]string{report.ReporterID}, assigneeIDs...))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load participants")
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	logs, err := s.reports.ListChangeLogs(ctx, report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load history")
	}
	models.SortChangeLogsDesc(logs)
	entries := make([]models.ChangeLog, 0, len(logs))
	statusNames := make(map[string]string, len(logs))
	for _, l := range logs {
		entries = append(entries, l.ChangeLog)
		statusNames[l.ID] = l.StatusName
	}
	messages, err := s.reports.ListMessages(ctx, report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load messages")
	}
	attachments, err := s.reports.ListAttachments(ctx, report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attachments")
	}
	archived, err := s.reports.IsArchivedFor(ctx, report.ID, actor.UserID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load archive state")
	}

	details := &models.ReportDetails{
		ID:           report.ID,
		Title:        report.Title,
		Description:  report.Description,
		CreatedAt:    report.CreatedAt,
		Version:      report.Version,
		Reporter:     userRef(byID, report.ReporterID),
		Assignees:    make([]models.UserRef, 0, len(assigneeIDs)),
		LastActivity: models.LastActivity(report.CreatedAt, entries),
		Archived:     archived,
		ChangeLogs:   logs,
		Messages:     messages,
		Attachments:  make([]models.AttachmentView, 0, len(attachments)),
	}
	for _, id := range assigneeIDs {
		details.Assignees = append(details.Assignees, userRef(byID, id))
	}
	if current := models.CurrentChangeLog(entries); current != nil {
		name := statusNames[current.ID]
		details.CurrentStatus = &models.Status{
			ID:             current.StatusID,
			Name:           name,
			NormalizedName: models.NormalizeStatusName(name),
		}
	}
	if details.ChangeLogs == nil {
		details.ChangeLogs = []models.ChangeLogView{}
	}
	if details.Messages == nil {
		details.Messages = []models.MessageView{}
	}
	for _, att := range attachments {
		details.Attachments = append(details.Attachments, s.attachmentView(att))
	}
	return details, nil
}

// ExportHistory renders the audit trail of a report as CSV or PDF.
func (s *ReportService) ExportHistory(ctx context.Context, actor *models.JWTClaims, reportID, format string) ([]byte, export.Format, error) {
	f, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, "", appErrors.Validation("format", err.Error())
	}
	report, _, err := s.loadVisible(ctx, actor, reportID)
	if err != nil {
		return nil, "", err
	}
	logs, err := s.reports.ListChangeLogs(ctx, report.ID)
	if err != nil {
		return nil, "", appErrors.Internal(err, "failed to load history")
	}
	models.SortChangeLogsDesc(logs)

	table := export.Table{
		Title:   fmt.Sprintf("Report history: %s", report.Title),
		Caption: []string{fmt.Sprintf("Report %s", report.ID), fmt.Sprintf("Generated %s", s.clock.Now().Format("2006-01-02 15:04 MST"))},
		Columns: []string{"Timestamp", "Status", "Author", "Description"},
		Widths:  []float64{1.2, 1, 1.2, 2.6},
		Rows:    make([][]string, 0, len(logs)),
	}
	for _, l := range logs {
		table.Rows = append(table.Rows, []string{
			l.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			l.StatusName,
			l.AuthorName,
			l.Description,
		})
	}
	body, err := export.Render(f, table)
	if err != nil {
		return nil, "", appErrors.Internal(err, "failed to render history")
	}
	return body, f, nil
}

// DownloadAttachment opens the blob behind a signed download token.
func (s *ReportService) DownloadAttachment(ctx context.Context, actor *models.JWTClaims, reportID, attachmentID, token string) (io.ReadCloser, *models.Attachment, error) {
	report, _, err := s.loadVisible(ctx, actor, reportID)
	if err != nil {
		return nil, nil, err
	}
	att, err := s.reports.GetAttachment(ctx, report.ID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.NotFound("attachment", attachmentID)
		}
		return nil, nil, appErrors.Internal(err, "failed to load attachment")
	}
	if s.signer == nil {
		return nil, nil, appErrors.Configuration("attachment signing is not configured")
	}
	subject, key, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Forbidden("download link expired")
		}
		return nil, nil, appErrors.Forbidden("invalid download link")
	}
	if subject != att.ID || key != att.FilePath {
		return nil, nil, appErrors.Forbidden("invalid download link")
	}

	rc, err := s.blobs.Open(ctx, att.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.NotFound("attachment", attachmentID)
		}
		return nil, nil, appErrors.Storage(err, "failed to open attachment")
	}
	return rc, att, nil
}

func (s *ReportService) loadReport(ctx context.Context, id string) (*models.Report, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("report", id)
		}
		return nil, appErrors.Internal(err, "failed to load report")
	}
	return report, nil
}

// loadVisible loads a report the actor may read and returns its assignees.
func (s *ReportService) loadVisible(ctx context.Context, actor *models.JWTClaims, id string) (*models.Report, []string, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	assignees, err := s.reports.ListAssigneeIDs(ctx, report.ID)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load assignees")
	}
	if actor.IsAdmin() || report.ReporterID == actor.UserID || contains(assignees, actor.UserID) {
		return report, assignees, nil
	}
	return nil, nil, appErrors.Forbidden("you are not a participant of this report")
}

// currentStatusID carries the status of the latest trail entry forward,
// falling back to INCOMING for a report without history.
func (s *ReportService) currentStatusID(ctx context.Context, reportID string) (string, error) {
	latest, err := s.reports.LatestChangeLog(ctx, reportID)
	if err == nil {
		return latest.StatusID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.Internal(err, "failed to load current status")
	}
	incoming, err := s.statuses.Incoming(ctx)
	if err != nil {
		return "", err
	}
	return incoming.ID, nil
}

// resolveAssignees keeps the ids that name existing users, in request order.
func (s *ReportService) resolveAssignees(ctx context.Context, ids []string) ([]string, error) {
	unique := dedupe(ids)
	users, err := s.users.FindByIDs(ctx, unique)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve assignees")
	}
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	resolved := make([]string, 0, len(found))
	for _, id := range unique {
		if _, ok := found[id]; ok {
			resolved = append(resolved, id)
		}
	}
	if len(resolved) == 0 {
		return nil, appErrors.Validation("assignee_ids", "at least one assignee must be an existing user")
	}
	return resolved, nil
}

func (s *ReportService) checkUploads(uploads []dto.AttachmentUpload) error {
	for _, up := range uploads {
		if strings.TrimSpace(up.FileName) == "" || up.Open == nil {
			return appErrors.Validation("attachments", "attachment file name is required")
		}
		if s.maxFileSize > 0 && up.Size > s.maxFileSize {
			return appErrors.Validation("attachments", fmt.Sprintf("%s exceeds the %d byte limit", up.FileName, s.maxFileSize))
		}
	}
	return nil
}

// storeUploads writes every upload under reports/<reportID>. On failure the
// blobs written so far are removed and a STORAGE_ERROR is returned.
func (s *ReportService) storeUploads(ctx context.Context, reportID string, uploads []dto.AttachmentUpload) ([]models.Attachment, error) {
	stored := make([]models.Attachment, 0, len(uploads))
	for _, up := range uploads {
		att, err := s.storeUpload(ctx, reportID, up)
		if err != nil {
			s.discard(ctx, stored)
			s.logger.Warn("attachment upload failed", zap.String("report_id", reportID), zap.String("file_name", up.FileName), zap.Error(err))
			return nil, appErrors.Storage(err, "failed to store attachment")
		}
		stored = append(stored, att)
	}
	return stored, nil
}

func (s *ReportService) storeUpload(ctx context.Context, reportID string, up dto.AttachmentUpload) (models.Attachment, error) {
	rc, err := up.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	id := s.ids.NewID()
	key := fmt.Sprintf("reports/%s/%s%s", reportID, id, strings.ToLower(filepath.Ext(up.FileName)))
	obj, err := s.blobs.Put(ctx, key, rc, up.ContentType)
	if err != nil {
		return models.Attachment{}, err
	}
	return models.Attachment{
		ID:          id,
		ReportID:    reportID,
		FileName:    filepath.Base(up.FileName),
		FilePath:    obj.Key,
		ContentType: obj.ContentType,
		SizeBytes:   obj.Size,
		Checksum:    obj.Checksum,
		UploadedAt:  s.clock.Now(),
	}, nil
}

// discard hands blobs to the janitor. It runs on a context that outlives a
// cancelled request so compensation still happens.
func (s *ReportService) discard(ctx context.Context, attachments []models.Attachment) {
	if len(attachments) == 0 || s.janitor == nil {
		return
	}
	paths := make([]string, 0, len(attachments))
	for _, att := range attachments {
		paths = append(paths, att.FilePath)
	}
	s.janitor.Remove(context.WithoutCancel(ctx), paths...)
}

func (s *ReportService) attachmentView(att models.Attachment) models.AttachmentView {
	view := models.AttachmentView{Attachment: att}
	if s.signer == nil {
		return view
	}
	token, expiresAt, err := s.signer.Generate(att.ID, att.FilePath)
	if err != nil {
		s.logger.Warn("failed to sign attachment link", zap.String("attachment_id", att.ID), zap.Error(err))
		return view
	}
	view.DownloadURL = fmt.Sprintf("%s/reports/%s/attachments/%s/download?token=%s",
		s.basePath, url.PathEscape(att.ReportID), url.PathEscape(att.ID), url.QueryEscape(token))
	view.ExpiresAt = expiresAt
	return view
}

func userRef(users map[string]models.User, id string) models.UserRef {
	if u, ok := users[id]; ok {
		return u.Ref()
	}
	return models.UserRef{ID: id}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// difference returns the items of a not present in b.
func difference(a, b []string) []string {
	set := toSet(b)
	var out []string
	for _, item := range a {
		if _, ok := set[item]; !ok {
			out = append(out, item)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
