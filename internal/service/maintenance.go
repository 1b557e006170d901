package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/models"
)

// CleanupReport counts the rows one cleanup removed
type CleanupReport struct {
	Messages int64
	Logs     int64
}

// Cleaner enforces retention on messages and processing logs. Tasks are
// never removed.
type Cleaner struct {
	messages       MessageStore
	logs           LogStore
	emailRetention time.Duration
	logRetention   time.Duration
	now            func() time.Time
	logger         *log.Logger
}

func NewCleaner(messages MessageStore, logs LogStore, emailRetentionDays, logRetentionDays int, logger *log.Logger) *Cleaner {
	return &Cleaner{
		messages:       messages,
		logs:           logs,
		emailRetention: time.Duration(emailRetentionDays) * 24 * time.Hour,
		logRetention:   time.Duration(logRetentionDays) * 24 * time.Hour,
		now:            time.Now,
		logger:         logger.WithPrefix("cleanup"),
	}
}

func (c *Cleaner) Run(ctx context.Context) (*CleanupReport, error) {
	started := c.now()
	report := &CleanupReport{}
	var errs []error

	n, err := c.messages.DeleteOlderThan(ctx, started.Add(-c.emailRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("messages: %w", err))
	}
	report.Messages = n

	n, err = c.logs.DeleteOlderThan(ctx, started.Add(-c.logRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	report.Logs = n

	if err := errors.Join(errs...); err != nil {
		return report, err
	}

	c.logger.Info("Old data removed", "messages", report.Messages, "logs", report.Logs)
	recordLog(ctx, c.logs, c.logger, models.ProcessingLog{
		Operation:  models.OperationCleanup,
		Status:     models.LogStatusSuccess,
		Message:    fmt.Sprintf("Removed %d messages and %d log entries", report.Messages, report.Logs),
		Details:    models.JSONB{"messages": report.Messages, "logs": report.Logs},
		DurationMS: c.now().Sub(started).Milliseconds(),
	})
	return report, nil
}
