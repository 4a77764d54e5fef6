package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/bugreport-api/internal/dto"
	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/internal/repository"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/storage"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type fakeReportRepo struct {
	mu          sync.Mutex
	reports     map[string]*models.Report
	assignees   map[string][]string
	attachments map[string][]models.Attachment
	logs        map[string][]models.ChangeLog
	messages    map[string][]models.Message
	archived    map[string]map[string]bool
	statusNames map[string]string

	createErr error
	editErr   error
	lastEdit  *repository.ReportEdit

	summaries  []models.ReportSummary
	lastViewer string
	lastAdmin  bool
	lastFilter models.ReportFilter
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{
		reports:     map[string]*models.Report{},
		assignees:   map[string][]string{},
		attachments: map[string][]models.Attachment{},
		logs:        map[string][]models.ChangeLog{},
		messages:    map[string][]models.Message{},
		archived:    map[string]map[string]bool{},
		statusNames: map[string]string{},
	}
}

func (f *fakeReportRepo) seed(report models.Report, assignees []string, attachments []models.Attachment, logs ...models.ChangeLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := report
	f.reports[report.ID] = &copy
	f.assignees[report.ID] = append([]string(nil), assignees...)
	f.attachments[report.ID] = append([]models.Attachment(nil), attachments...)
	f.logs[report.ID] = append([]models.ChangeLog(nil), logs...)
}

func (f *fakeReportRepo) GetByID(_ context.Context, id string) (*models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *r
	return &copy, nil
}

func (f *fakeReportRepo) ListAssigneeIDs(_ context.Context, reportID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assignees[reportID]...), nil
}

func (f *fakeReportRepo) IsAssignee(_ context.Context, reportID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.assignees[reportID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReportRepo) ListAttachments(_ context.Context, reportID string) ([]models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Attachment(nil), f.attachments[reportID]...), nil
}

func (f *fakeReportRepo) GetAttachment(_ context.Context, reportID, attachmentID string) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, att := range f.attachments[reportID] {
		if att.ID == attachmentID {
			copy := att
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeReportRepo) LatestChangeLog(_ context.Context, reportID string) (*models.ChangeLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := models.CurrentChangeLog(f.logs[reportID])
	if current == nil {
		return nil, sql.ErrNoRows
	}
	copy := *current
	return &copy, nil
}

func (f *fakeReportRepo) ListChangeLogs(_ context.Context, reportID string) ([]models.ChangeLogView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := make([]models.ChangeLogView, 0, len(f.logs[reportID]))
	for _, l := range f.logs[reportID] {
		views = append(views, models.ChangeLogView{ChangeLog: l, StatusName: f.statusNames[l.StatusID], AuthorName: l.UserID})
	}
	return views, nil
}

func (f *fakeReportRepo) ListMessages(_ context.Context, reportID string) ([]models.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := make([]models.MessageView, 0, len(f.messages[reportID]))
	for _, m := range f.messages[reportID] {
		views = append(views, models.MessageView{Message: m, AuthorName: m.UserID})
	}
	return views, nil
}

func (f *fakeReportRepo) IsArchivedFor(_ context.Context, reportID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archived[reportID][userID], nil
}

func (f *fakeReportRepo) ListForViewer(_ context.Context, viewerID string, admin bool, filter models.ReportFilter) ([]models.ReportSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastViewer, f.lastAdmin, f.lastFilter = viewerID, admin, filter
	return append([]models.ReportSummary(nil), f.summaries...), nil
}

func (f *fakeReportRepo) Create(_ context.Context, report *models.Report, attachments []models.Attachment, first *models.ChangeLog) error {
	if f.createErr != nil {
		return f.createErr
	}
	report.Version = 1
	f.seed(*report, report.AssigneeIDs, attachments, *first)
	return nil
}

func (f *fakeReportRepo) AppendChangeLog(_ context.Context, entry *models.ChangeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[entry.ReportID] = append(f.logs[entry.ReportID], *entry)
	return nil
}

func (f *fakeReportRepo) AddMessage(_ context.Context, msg *models.Message, entry *models.ChangeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ReportID] = append(f.messages[msg.ReportID], *msg)
	f.logs[entry.ReportID] = append(f.logs[entry.ReportID], *entry)
	return nil
}

func (f *fakeReportRepo) ApplyEdit(_ context.Context, edit repository.ReportEdit) (int64, []models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastEdit = &edit
	if f.editErr != nil {
		return 0, nil, f.editErr
	}
	report, ok := f.reports[edit.ReportID]
	if !ok || report.Version != edit.ExpectedVersion {
		return 0, nil, repository.ErrVersionConflict
	}
	report.Version++
	report.Title = edit.Title
	report.Description = edit.Description

	current := f.assignees[edit.ReportID]
	current = difference(current, edit.RemoveAssignees)
	current = append(current, edit.AddAssignees...)
	sort.Strings(current)
	f.assignees[edit.ReportID] = current

	drop := toSet(edit.RemoveAttachments)
	var kept, removed []models.Attachment
	for _, att := range f.attachments[edit.ReportID] {
		if _, ok := drop[att.ID]; ok {
			removed = append(removed, att)
			continue
		}
		kept = append(kept, att)
	}
	f.attachments[edit.ReportID] = append(kept, edit.NewAttachments...)
	f.logs[edit.ReportID] = append(f.logs[edit.ReportID], *edit.Log)
	return report.Version, removed, nil
}

func (f *fakeReportRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.reports, id)
	delete(f.attachments, id)
	delete(f.logs, id)
	return nil
}

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	updateErr map[string]error
}

func newFakeUserRepo(users ...models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[string]*models.User{}, updateErr: map[string]error{}}
	for i := range users {
		u := users[i]
		repo.users[u.ID] = &u
	}
	return repo
}

func (f *fakeUserRepo) FindByIDs(_ context.Context, ids []string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) ListByRole(_ context.Context, role models.UserRole, excludeID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if u.Role == role && u.ID != excludeID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	users, _ := f.ListByRole(ctx, role, "")
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (f *fakeUserRepo) UpdateRole(_ context.Context, id string, role models.UserRole, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return err
	}
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	u.UpdatedAt = at
	return nil
}

type fakeStatuses struct {
	byID map[string]models.Status
}

func newFakeStatuses(statuses ...models.Status) *fakeStatuses {
	f := &fakeStatuses{byID: map[string]models.Status{}}
	for _, s := range statuses {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeStatuses) Incoming(_ context.Context) (*models.Status, error) {
	for _, s := range f.byID {
		if s.NormalizedName == models.StatusIncoming {
			copy := s
			return &copy, nil
		}
	}
	return nil, appErrors.Configuration("status INCOMING is not seeded")
}

func (f *fakeStatuses) GetByID(_ context.Context, id string) (*models.Status, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, appErrors.NotFound("status", id)
	}
	return &s, nil
}

type memBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      int
	failOnPut int
	deleteErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (m *memBlobStore) Put(_ context.Context, key string, r io.Reader, contentType string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failOnPut > 0 && m.puts == m.failOnPut {
		return storage.Object{}, errors.New("disk full")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Object{}, err
	}
	m.objects[key] = body
	return storage.Object{Key: key, Size: int64(len(body)), Checksum: "sum-" + key, ContentType: contentType}, nil
}

func (m *memBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memBlobStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// syncJanitor deletes immediately and remembers what it was asked to remove.
type syncJanitor struct {
	mu      sync.Mutex
	store   *memBlobStore
	removed []string
}

func (j *syncJanitor) Remove(ctx context.Context, paths ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range paths {
		j.removed = append(j.removed, p)
		_ = j.store.Delete(ctx, p)
	}
}

func upload(name, body string) dto.AttachmentUpload {
	return dto.AttachmentUpload{
		FileName:    name,
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}
