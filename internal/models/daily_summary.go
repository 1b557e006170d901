package models

import "time"

// SummaryDateLayout is the calendar-day key format for daily summaries.
const SummaryDateLayout = "2006-01-02"

// DailySummary is the once-per-day digest row. Its existence for a date is
// the idempotence guard of the daily workflow.
type DailySummary struct {
	ID                string     `gorm:"column:id;primaryKey"`
	SummaryDate       string     `gorm:"column:summary_date;uniqueIndex"`
	EmailsProcessed   int        `gorm:"column:emails_processed"`
	ImportantEmails   int        `gorm:"column:important_emails"`
	TasksExtracted    int        `gorm:"column:tasks_extracted"`
	HighPriorityTasks int        `gorm:"column:high_priority_tasks"`
	SummaryText       string     `gorm:"column:summary_text"`
	TopSenders        StringList `gorm:"column:top_senders;type:text"`
	ProcessingSeconds float64    `gorm:"column:processing_seconds"`
	TokensUsed        int        `gorm:"column:tokens_used"`
	Cost              float64    `gorm:"column:cost"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (DailySummary) TableName() string {
	return "daily_summaries"
}

// DateKey returns the summary key for the calendar day of t in t's location.
func DateKey(t time.Time) string {
	return t.Format(SummaryDateLayout)
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
