package models

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type CreationMethod string

const (
	CreationMethodAI     CreationMethod = "ai"
	CreationMethodManual CreationMethod = "manual"
)

// MinTaskConfidence is the inclusive cutoff for materializing an extracted task.
const MinTaskConfidence = 0.6

// Task is a local task record. AI tasks are linked to the remote task by
// RemoteID from the moment they are written; manual tasks may have none.
type Task struct {
	ID             string         `gorm:"column:id;primaryKey"`
	MessageID      *string        `gorm:"column:message_id;index"`
	Title          string         `gorm:"column:title"`
	Description    string         `gorm:"column:description"`
	DueDate        *time.Time     `gorm:"column:due_date"`
	Priority       string         `gorm:"column:priority"`
	Status         TaskStatus     `gorm:"column:status;index"`
	RemoteID       *string        `gorm:"column:remote_id;index"`
	Confidence     float64        `gorm:"column:confidence"`
	CreationMethod CreationMethod `gorm:"column:creation_method"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Task) TableName() string {
	return "tasks"
}

// IsHighPriority reports whether the task counts toward the high-priority total.
func (t Task) IsHighPriority() bool {
	return t.Priority == PriorityHigh || t.Priority == PriorityUrgent
}

// ExtractedTask is a task candidate produced by the analysis pipeline.
// It is never stored directly.
type ExtractedTask struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
	Confidence  float64
}

// MeetsConfidence reports whether the candidate passes the confidence gate.
func (e ExtractedTask) MeetsConfidence() bool {
	return e.Confidence >= MinTaskConfidence
}

// NormalizePriority maps free-form priority text onto the known set.
func NormalizePriority(p string) string {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	default:
		return PriorityMedium
	}
}
