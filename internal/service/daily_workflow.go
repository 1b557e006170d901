package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/inbox-agent/internal/credential"
	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/repository"
)

const (
	importantThreshold = 0.7
	topSenderCount     = 5
	defaultBatchLimit  = 200
)

type WorkflowSettings struct {
	MaxEmails  int
	HoursBack  int
	Workers    int
	MarkAsRead bool
	// BatchLimit caps how many unprocessed messages one run analyzes
	BatchLimit int
}

// WorkflowDeps are the collaborators of the coordinator
type WorkflowDeps struct {
	Fetcher   *MailFetcher
	Pipeline  *AnalysisPipeline
	Sync      *TaskSyncEngine
	Messages  MessageStore
	Tasks     TaskStore
	Summaries SummaryStore
	Logs      LogStore
	Mail      MailProvider
	Notifier  Notifier
}

// RunReport summarizes one workflow run, partial runs included
type RunReport struct {
	Date           string
	AlreadyDone    bool
	Fetched        int
	Stored         int
	Processed      int
	Deferred       int
	Errors         int
	TasksCreated   int
	TasksSkipped   int
	FailedSteps    []string
	SummaryWritten bool
	Usage          Usage
	Duration       time.Duration
}

type DailyWorkflowCoordinator struct {
	deps     WorkflowDeps
	settings WorkflowSettings
	now      func() time.Time
	logger   *log.Logger
}

func NewDailyWorkflowCoordinator(deps WorkflowDeps, settings WorkflowSettings, now func() time.Time, logger *log.Logger) *DailyWorkflowCoordinator {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if settings.BatchLimit <= 0 {
		settings.BatchLimit = defaultBatchLimit
	}
	if now == nil {
		now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(logger)
	}
	return &DailyWorkflowCoordinator{
		deps:     deps,
		settings: settings,
		now:      now,
		logger:   logger.WithPrefix("workflow"),
	}
}

// Run executes one daily workflow. It is a no-op when today's summary
// exists. Only a failed guard check or an unusable credential end the run
// early; every other step failure is recorded and the run moves on.
func (c *DailyWorkflowCoordinator) Run(ctx context.Context) (*RunReport, error) {
	start := c.now()
	report := &RunReport{Date: models.DateKey(start)}

	done, err := c.deps.Summaries.ExistsForDate(ctx, report.Date)
	if err != nil {
		return report, fmt.Errorf("failed to check today's summary: %w", err)
	}
	if done {
		report.AlreadyDone = true
		c.logger.Info("Daily processing already completed", "date", report.Date)
		return report, nil
	}

	c.logger.Info("Starting daily processing", "date", report.Date)

	// fetch
	fetched, err := c.deps.Fetcher.FetchRecent(ctx, c.settings.MaxEmails, c.settings.HoursBack)
	if err != nil {
		if errors.Is(err, credential.ErrAuthRequired) {
			return report, fmt.Errorf("failed to fetch messages: %w", err)
		}
		c.stepFailed(report, "fetch", err)
	}
	report.Fetched = len(fetched)

	// persist
	if len(fetched) > 0 {
		ids, err := c.deps.Fetcher.Persist(ctx, fetched)
		if err != nil {
			c.stepFailed(report, "persist", err)
		}
		report.Stored = len(ids)
	}

	// analyze and sync
	if err := c.analyzePending(ctx, report); err != nil {
		c.stepFailed(report, "analyze", err)
	}

	// summarize and notify
	summary, err := c.buildSummary(ctx, start)
	if err != nil {
		c.stepFailed(report, "summary", err)
	} else {
		written, err := c.saveAndNotify(ctx, summary)
		if err != nil {
			c.stepFailed(report, "summary", err)
		}
		report.SummaryWritten = written
	}

	report.Duration = c.now().Sub(start)
	c.record(ctx, report)

	c.logger.Info("Daily processing finished",
		"date", report.Date,
		"fetched", report.Fetched,
		"processed", report.Processed,
		"deferred", report.Deferred,
		"errors", report.Errors,
		"tasks", report.TasksCreated,
		"duration", report.Duration,
	)
	return report, nil
}

// WriteSummaryIfMissing writes today's summary when no run has yet
func (c *DailyWorkflowCoordinator) WriteSummaryIfMissing(ctx context.Context) (bool, error) {
	now := c.now()
	date := models.DateKey(now)

	done, err := c.deps.Summaries.ExistsForDate(ctx, date)
	if err != nil {
		return false, fmt.Errorf("failed to check today's summary: %w", err)
	}
	if done {
		c.logger.Debug("Daily summary already exists", "date", date)
		return false, nil
	}

	summary, err := c.buildSummary(ctx, now)
	if err != nil {
		return false, err
	}
	written, err := c.saveAndNotify(ctx, summary)
	if err != nil {
		return false, err
	}

	if written {
		recordLog(ctx, c.deps.Logs, c.logger, models.ProcessingLog{
			Operation:  models.OperationDailySummary,
			Status:     models.LogStatusSuccess,
			Message:    "Daily summary generated for " + date,
			Details:    models.JSONB{"emails_processed": summary.EmailsProcessed, "tasks_extracted": summary.TasksExtracted},
			TokensUsed: summary.TokensUsed,
			Cost:       summary.Cost,
		})
	}
	return written, nil
}

type messageOutcome struct {
	processed    bool
	deferred     bool
	failed       bool
	tasksCreated int
	tasksSkipped int
	usage        Usage
}

// analyzePending analyzes every unprocessed message on a bounded pool.
// Each message belongs to exactly one worker.
func (c *DailyWorkflowCoordinator) analyzePending(ctx context.Context, report *RunReport) error {
	pending, err := c.deps.Messages.ListUnprocessed(ctx, c.settings.BatchLimit)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	c.logger.Info("Analyzing messages", "count", len(pending), "workers", c.settings.Workers)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.settings.Workers)

	for _, msg := range pending {
		g.Go(func() error {
			out := c.processMessage(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.deferred:
				report.Deferred++
			case out.failed:
				report.Errors++
			case out.processed:
				report.Processed++
			}
			report.TasksCreated += out.tasksCreated
			report.TasksSkipped += out.tasksSkipped
			report.Usage = report.Usage.Add(out.usage)
			return nil
		})
	}
	return g.Wait()
}

func (c *DailyWorkflowCoordinator) processMessage(ctx context.Context, msg models.Message) messageOutcome {
	analysis := c.deps.Pipeline.Analyze(ctx, msg)
	out := messageOutcome{usage: analysis.Usage}
	if analysis.Deferred {
		out.deferred = true
		return out
	}

	if err := c.deps.Messages.MarkProcessed(ctx, msg.ID, analysis.Result(c.now().UTC())); err != nil {
		c.logger.Error("Failed to store analysis", "id", msg.ID, "error", err)
		if merr := c.deps.Messages.MarkError(ctx, msg.ID, err.Error()); merr != nil && !errors.Is(merr, repository.ErrMessageNotFound) {
			c.logger.Error("Failed to mark message as error", "id", msg.ID, "error", merr)
		}
		recordLog(ctx, c.deps.Logs, c.logger, models.ProcessingLog{
			Operation:  models.OperationEmailProcess,
			Status:     models.LogStatusError,
			Message:    "Failed to store analysis for " + msg.ProviderID + ": " + err.Error(),
			Details:    models.JSONB{"message_id": msg.ID, "provider_id": msg.ProviderID},
			TokensUsed: analysis.Usage.Tokens,
			Cost:       analysis.Usage.Cost,
		})
		out.failed = true
		return out
	}
	out.processed = true

	for _, t := range analysis.Tasks {
		if _, err := c.deps.Sync.SyncExtracted(ctx, msg.ID, t); err != nil {
			out.tasksSkipped++
			c.logger.Warn("Failed to sync task", "message_id", msg.ID, "title", t.Title, "error", err)
			recordLog(ctx, c.deps.Logs, c.logger, models.ProcessingLog{
				Operation: models.OperationTaskSync,
				Status:    models.LogStatusError,
				Message:   fmt.Sprintf("Failed to create task %q: %v", t.Title, err),
				Details:   models.JSONB{"message_id": msg.ID, "title": t.Title},
			})
			continue
		}
		out.tasksCreated++
	}

	status := models.LogStatusSuccess
	if out.tasksSkipped > 0 {
		status = models.LogStatusWarning
	}
	recordLog(ctx, c.deps.Logs, c.logger, models.ProcessingLog{
		Operation: models.OperationEmailProcess,
		Status:    status,
		Message:   fmt.Sprintf("Processed %s: %d tasks created, %d failed", msg.ProviderID, out.tasksCreated, out.tasksSkipped),
		Details: models.JSONB{
			"message_id":    msg.ID,
			"provider_id":   msg.ProviderID,
			"tasks_created": out.tasksCreated,
			"tasks_skipped": out.tasksSkipped,
		},
		TokensUsed: analysis.Usage.Tokens,
		Cost:       analysis.Usage.Cost,
	})

	if c.settings.MarkAsRead && c.deps.Mail != nil && msg.IsUnread() {
		if err := c.deps.Mail.MarkAsRead(ctx, msg.ProviderID); err != nil {
			c.logger.Warn("Failed to mark message as read", "id", msg.ID, "error", err)
		}
	}

	return out
}

// buildSummary assembles today's summary from what is already stored
func (c *DailyWorkflowCoordinator) buildSummary(ctx context.Context, start time.Time) (*models.DailySummary, error) {
	since := models.StartOfDay(start)

	msgs, err := c.deps.Messages.ListProcessedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	tasks, err := c.deps.Tasks.ListCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	digest := c.deps.Pipeline.DailyDigest(ctx, msgs, tasks)
	if digest.Kind != OutcomeOK {
		c.logger.Warn("Using fallback daily summary text", "kind", digest.Kind, "error", digest.Err)
	}

	summary := &models.DailySummary{
		SummaryDate:     models.DateKey(start),
		EmailsProcessed: len(msgs),
		TasksExtracted:  len(tasks),
		SummaryText:     digest.Value,
		TopSenders:      topSenders(msgs, topSenderCount),
		TokensUsed:      digest.Usage.Tokens,
		Cost:            digest.Usage.Cost,
	}
	for _, m := range msgs {
		if m.ImportanceScore != nil && *m.ImportanceScore > importantThreshold {
			summary.ImportantEmails++
		}
		summary.TokensUsed += m.TokensUsed
		summary.Cost += m.Cost
	}
	for _, t := range tasks {
		if t.IsHighPriority() {
			summary.HighPriorityTasks++
		}
	}
	summary.ProcessingSeconds = c.now().Sub(start).Seconds()

	return summary, nil
}

// saveAndNotify stores the summary and sends the digest. A summary that
// lost the race to another run is not an error.
func (c *DailyWorkflowCoordinator) saveAndNotify(ctx context.Context, summary *models.DailySummary) (bool, error) {
	if err := c.deps.Summaries.Create(ctx, summary); err != nil {
		if errors.Is(err, repository.ErrSummaryExists) {
			c.logger.Info("Daily summary written by another run", "date", summary.SummaryDate)
			return false, nil
		}
		return false, err
	}

	if err := c.deps.Notifier.Notify(ctx, summary); err != nil {
		c.logger.Warn("Failed to send daily summary", "date", summary.SummaryDate, "error", err)
	}
	return true, nil
}

func (c *DailyWorkflowCoordinator) stepFailed(report *RunReport, step string, err error) {
	report.FailedSteps = append(report.FailedSteps, step)
	c.logger.Error("Workflow step failed", "step", step, "error", err)
}

func (c *DailyWorkflowCoordinator) record(ctx context.Context, report *RunReport) {
	status := models.LogStatusSuccess
	message := fmt.Sprintf("Processed %d emails, created %d tasks", report.Processed, report.TasksCreated)
	if len(report.FailedSteps) > 0 || report.Errors > 0 || report.TasksSkipped > 0 {
		status = models.LogStatusWarning
		message = fmt.Sprintf("%s with %d errors, %d failed tasks; failed steps: %v",
			message, report.Errors, report.TasksSkipped, report.FailedSteps)
	}

	recordLog(ctx, c.deps.Logs, c.logger, models.ProcessingLog{
		Operation: models.OperationDailyProcessing,
		Status:    status,
		Message:   message,
		Details: models.JSONB{
			"date":            report.Date,
			"fetched":         report.Fetched,
			"stored":          report.Stored,
			"processed":       report.Processed,
			"deferred":        report.Deferred,
			"errors":          report.Errors,
			"tasks_created":   report.TasksCreated,
			"tasks_skipped":   report.TasksSkipped,
			"summary_written": report.SummaryWritten,
		},
		DurationMS: report.Duration.Milliseconds(),
		TokensUsed: report.Usage.Tokens,
		Cost:       report.Usage.Cost,
	})
}

// topSenders returns the n most frequent senders, ties broken by name
func topSenders(msgs []models.Message, n int) models.StringList {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Sender != "" {
			counts[m.Sender]++
		}
	}

	senders := make([]string, 0, len(counts))
	for s := range counts {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		if counts[senders[i]] != counts[senders[j]] {
			return counts[senders[i]] > counts[senders[j]]
		}
		return senders[i] < senders[j]
	})

	if len(senders) > n {
		senders = senders[:n]
	}
	return models.StringList(senders)
}
