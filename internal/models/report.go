package models

import (
	"fmt"
	"sort"
	"time"
)

// ChangeLog descriptions written by the aggregate operations.
const (
	LogReportCreated = "Report created"
	LogMessageAdded  = "Added a new message."
	LogReportUpdated = "Updated the report."
	logStatusChanged = "Changed status to %s."
)

// StatusChangedDescription renders the ChangeLog text for a status change.
func StatusChangedDescription(statusName string) string {
	return fmt.Sprintf(logStatusChanged, statusName)
}

// Report is the aggregate root. Version is assigned by the store.
type Report struct {
	ID          string    `db:"id" json:"id"`
	ReporterID  string    `db:"reporter_id" json:"reporter_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Version     int64     `db:"version" json:"version"`

	AssigneeIDs []string     `db:"-" json:"assignee_ids,omitempty"`
	Attachments []Attachment `db:"-" json:"attachments,omitempty"`
}

// ChangeLog is an immutable audit trail entry. Seq records insertion order.
type ChangeLog struct {
	ID          string    `db:"id" json:"id"`
	Seq         int64     `db:"seq" json:"seq"`
	ReportID    string    `db:"report_id" json:"report_id"`
	StatusID    string    `db:"status_id" json:"status_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Description string    `db:"description" json:"description"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// Message is a threaded comment on a report.
type Message struct {
	ID        string    `db:"id" json:"id"`
	ReportID  string    `db:"report_id" json:"report_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Text      string    `db:"text" json:"text"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Attachment references a blob owned by a report.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	ReportID    string    `db:"report_id" json:"report_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	FilePath    string    `db:"file_path" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	Checksum    string    `db:"checksum" json:"checksum"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// ArchiveMark records that a user's view of a report is archived.
type ArchiveMark struct {
	ID         string    `db:"id" json:"id"`
	ReportID   string    `db:"report_id" json:"report_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	ArchivedAt time.Time `db:"archived_at" json:"archived_at"`
}

// ReportFilter narrows ListReportsForUser.
type ReportFilter struct {
	Search   string
	Statuses []string
	Archived *bool
}

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	ReporterID    string    `db:"reporter_id" json:"reporter_id"`
	ReporterName  string    `db:"reporter_name" json:"reporter_name"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastActivity  time.Time `db:"last_activity" json:"last_activity"`
	StatusID      string    `db:"status_id" json:"status_id"`
	StatusName    string    `db:"status_name" json:"status_name"`
	Version       int64     `db:"version" json:"version"`
	AssigneeCount int       `db:"assignee_count" json:"assignee_count"`
	Archived      bool      `db:"archived" json:"archived"`
}

// ChangeLogView is a ChangeLog with its status and author resolved.
type ChangeLogView struct {
	ChangeLog
	StatusName string `db:"status_name" json:"status_name"`
	AuthorName string `db:"author_name" json:"author_name"`
}

// MessageView is a Message with its author resolved.
type MessageView struct {
	Message
	AuthorName string `db:"author_name" json:"author_name"`
}

// AttachmentView adds a signed download link to an attachment.
type AttachmentView struct {
	Attachment
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ReportDetails is the full read model of one report.
type ReportDetails struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	CreatedAt     time.Time        `json:"created_at"`
	Version       int64            `json:"version"`
	Reporter      UserRef          `json:"reporter"`
	Assignees     []UserRef        `json:"assignees"`
	CurrentStatus *Status          `json:"current_status,omitempty"`
	LastActivity  time.Time        `json:"last_activity"`
	Archived      bool             `json:"archived"`
	ChangeLogs    []ChangeLogView  `json:"change_logs"`
	Messages      []MessageView    `json:"messages"`
	Attachments   []AttachmentView `json:"attachments"`
}

// CurrentChangeLog returns the entry with the latest timestamp, ties broken by
// the highest Seq. It returns nil for an empty history.
func CurrentChangeLog(logs []ChangeLog) *ChangeLog {
	var current *ChangeLog
	for i := range logs {
		l := &logs[i]
		if current == nil ||
			l.Timestamp.After(current.Timestamp) ||
			(l.Timestamp.Equal(current.Timestamp) && l.Seq > current.Seq) {
			current = l
		}
	}
	return current
}

// LastActivity is the timestamp of the current ChangeLog or createdAt when there is none.
func LastActivity(createdAt time.Time, logs []ChangeLog) time.Time {
	if current := CurrentChangeLog(logs); current != nil {
		return current.Timestamp
	}
	return createdAt
}

// SortSummaries orders by last activity, then creation time, both descending, then id.
func SortSummaries(items []ReportSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// SortChangeLogsDesc orders history newest first using the CurrentChangeLog ordering.
func SortChangeLogsDesc(logs []ChangeLogView) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Seq > b.Seq
	})
}
