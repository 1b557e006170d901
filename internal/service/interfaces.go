package service

import (
	"context"
	"errors"
	"time"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/openrouter"
)

// ErrValidation marks an item that is skipped or defaulted, never retried.
var ErrValidation = errors.New("validation failed")

// MailProvider is the mail API surface the workflow uses
type MailProvider interface {
	ListMessageIDs(ctx context.Context, query string, maxResults int, pageToken string) (*MessageIDPage, error)
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
	MarkAsRead(ctx context.Context, id string) error
	SendMessage(ctx context.Context, raw []byte) error
}

type MessageIDPage struct {
	MessageIDs    []string
	NextPageToken string
}

// MailMessage is a provider message with decoded headers and bodies
type MailMessage struct {
	ID           string
	ThreadID     string
	Subject      string
	From         string
	To           string
	Date         time.Time
	InternalDate time.Time
	BodyText     string
	BodyHTML     string
	Snippet      string
	Labels       []string
}

// TaskProvider is the task API surface the sync engine uses
type TaskProvider interface {
	CreateTask(ctx context.Context, in RemoteTaskInput) (string, error)
	SetCompleted(ctx context.Context, remoteID string, completed bool) error
	ListTasks(ctx context.Context) ([]RemoteTask, error)
	DeleteTask(ctx context.Context, remoteID string) error
	// Reconnect rebuilds the underlying API client.
	Reconnect(ctx context.Context) error
}

type RemoteTaskInput struct {
	Title string
	Notes string
	Due   *time.Time
}

// Remote task statuses
const (
	RemoteStatusNeedsAction = "needsAction"
	RemoteStatusCompleted   = "completed"
)

type RemoteTask struct {
	ID        string
	Title     string
	Status    string
	Completed *time.Time
	Deleted   bool
}

// Completer is the AI completion call
type Completer interface {
	Complete(ctx context.Context, r openrouter.Request) (*openrouter.Completion, error)
}

// Reauthenticator forces a credential refresh
type Reauthenticator interface {
	ForceRefresh(ctx context.Context) error
}

// Pinger is anything with a connectivity check
type Pinger interface {
	Ping(ctx context.Context) error
}

// MessageStore is the record-store contract for messages
type MessageStore interface {
	Upsert(ctx context.Context, msg models.Message) (string, bool, error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListUnprocessed(ctx context.Context, limit int) ([]models.Message, error)
	ListProcessedSince(ctx context.Context, since time.Time) ([]models.Message, error)
	MarkProcessed(ctx context.Context, id string, res models.ProcessingResult) error
	MarkError(ctx context.Context, id string, reason string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TaskStore is the record-store contract for tasks
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	ListLinked(ctx context.Context) ([]models.Task, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, completedAt *time.Time) error
	UpdateStatusIfLinked(ctx context.Context, id, remoteID string, status models.TaskStatus, completedAt *time.Time) error
}

// SummaryStore is the record-store contract for daily summaries
type SummaryStore interface {
	Create(ctx context.Context, summary *models.DailySummary) error
	ExistsForDate(ctx context.Context, date string) (bool, error)
}

// LogStore is the append-only processing log
type LogStore interface {
	Append(ctx context.Context, entry models.ProcessingLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
