package models

import "time"

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
	LogStatusWarning LogStatus = "warning"
)

// Operation names recorded in the processing log
const (
	OperationDailyProcessing = "daily_processing"
	OperationDailySummary    = "daily_summary"
	OperationEmailProcess    = "email_process"
	OperationTaskSync        = "task_sync"
	OperationTaskComplete    = "task_complete"
	OperationHealthCheck     = "health_check"
	OperationCleanup         = "cleanup"
	OperationScheduledJob    = "scheduled_job"
)

// ProcessingLog is an append-only audit entry. Written through sqlx, hence
// the db tags.
type ProcessingLog struct {
	ID         string    `db:"id"`
	Operation  string    `db:"operation"`
	Status     LogStatus `db:"status"`
	Message    string    `db:"message"`
	Details    JSONB     `db:"details"`
	DurationMS int64     `db:"duration_ms"`
	TokensUsed int       `db:"tokens_used"`
	Cost       float64   `db:"cost"`
	CreatedAt  time.Time `db:"created_at"`
}
