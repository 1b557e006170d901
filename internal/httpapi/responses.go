package httpapi

import (
	"time"

	"github.com/vipul43/inbox-agent/internal/models"
)

type taskResponse struct {
	ID             string     `json:"id"`
	MessageID      *string    `json:"message_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	RemoteID       *string    `json:"remote_id,omitempty"`
	Confidence     float64    `json:"confidence"`
	CreationMethod string     `json:"creation_method"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toTaskResponse(t models.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		MessageID:      t.MessageID,
		Title:          t.Title,
		Description:    t.Description,
		DueDate:        t.DueDate,
		Priority:       t.Priority,
		Status:         string(t.Status),
		RemoteID:       t.RemoteID,
		Confidence:     t.Confidence,
		CreationMethod: string(t.CreationMethod),
		CompletedAt:    t.CompletedAt,
		CreatedAt:      t.CreatedAt,
	}
}

type logResponse struct {
	ID         string                 `json:"id"`
	Operation  string                 `json:"operation"`
	Status     string                 `json:"status"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	TokensUsed int                    `json:"tokens_used"`
	Cost       float64                `json:"cost"`
	CreatedAt  time.Time              `json:"created_at"`
}

func toLogResponse(e models.ProcessingLog) logResponse {
	return logResponse{
		ID:         e.ID,
		Operation:  e.Operation,
		Status:     string(e.Status),
		Message:    e.Message,
		Details:    e.Details,
		DurationMS: e.DurationMS,
		TokensUsed: e.TokensUsed,
		Cost:       e.Cost,
		CreatedAt:  e.CreatedAt,
	}
}

type summaryResponse struct {
	Date              string   `json:"date"`
	EmailsProcessed   int      `json:"emails_processed"`
	ImportantEmails   int      `json:"important_emails"`
	TasksExtracted    int      `json:"tasks_extracted"`
	HighPriorityTasks int      `json:"high_priority_tasks"`
	SummaryText       string   `json:"summary_text"`
	TopSenders        []string `json:"top_senders"`
	ProcessingSeconds float64  `json:"processing_seconds"`
	TokensUsed        int      `json:"tokens_used"`
	Cost              float64  `json:"cost"`
}

func toSummaryResponse(s *models.DailySummary) summaryResponse {
	senders := []string(s.TopSenders)
	if senders == nil {
		senders = []string{}
	}
	return summaryResponse{
		Date:              s.SummaryDate,
		EmailsProcessed:   s.EmailsProcessed,
		ImportantEmails:   s.ImportantEmails,
		TasksExtracted:    s.TasksExtracted,
		HighPriorityTasks: s.HighPriorityTasks,
		SummaryText:       s.SummaryText,
		TopSenders:        senders,
		ProcessingSeconds: s.ProcessingSeconds,
		TokensUsed:        s.TokensUsed,
		Cost:              s.Cost,
	}
}
