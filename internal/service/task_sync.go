package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/repository"
	"github.com/vipul43/inbox-agent/internal/retry"
)

type TaskSyncEngine struct {
	provider TaskProvider
	tasks    TaskStore
	logs     LogStore
	reauth   Reauthenticator
	retry    retry.Policy
	locks    *keyedMutex
	now      func() time.Time
	logger   *log.Logger
}

// ReconcileReport counts what one reconciliation pass did
type ReconcileReport struct {
	Checked   int
	Promoted  int
	Regressed int
	Missing   int
	Failed    int
}

// NewTaskSyncEngine builds the engine. logs may be nil.
func NewTaskSyncEngine(provider TaskProvider, tasks TaskStore, logs LogStore, reauth Reauthenticator, policy retry.Policy, logger *log.Logger) *TaskSyncEngine {
	e := &TaskSyncEngine{
		provider: provider,
		tasks:    tasks,
		logs:     logs,
		reauth:   reauth,
		locks:    newKeyedMutex(),
		now:      time.Now,
		logger:   logger.WithPrefix("tasksync"),
	}
	if policy.OnReauth == nil {
		policy.OnReauth = e.reconnect
	}
	if policy.Logger == nil {
		policy.Logger = e.logger
	}
	e.retry = policy
	return e
}

// reconnect refreshes the credential and rebuilds the provider client
func (e *TaskSyncEngine) reconnect(ctx context.Context) error {
	if e.reauth != nil {
		if err := e.reauth.ForceRefresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh credential: %w", err)
		}
	}
	return e.provider.Reconnect(ctx)
}

// CreateRemote creates the remote task with retries and returns its id
func (e *TaskSyncEngine) CreateRemote(ctx context.Context, t models.ExtractedTask) (string, error) {
	in := RemoteTaskInput{
		Title: t.Title,
		Notes: taskNotes(t),
		Due:   t.DueDate,
	}

	remoteID, err := retry.Do(ctx, e.retry, func(ctx context.Context) (string, error) {
		return e.provider.CreateTask(ctx, in)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create remote task: %w", err)
	}
	if remoteID == "" {
		return "", fmt.Errorf("failed to create remote task: provider returned no id")
	}
	return remoteID, nil
}

func taskNotes(t models.ExtractedTask) string {
	var parts []string
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	parts = append(parts, "Priority: "+t.Priority)
	return strings.Join(parts, "\n\n")
}

// PersistLocal writes an AI task linked to remoteID. It refuses to write
// one without a remote id.
func (e *TaskSyncEngine) PersistLocal(ctx context.Context, t models.ExtractedTask, messageID *string, remoteID string) (*models.Task, error) {
	if remoteID == "" {
		return nil, fmt.Errorf("%w: ai task %q has no remote id", ErrValidation, t.Title)
	}

	task := &models.Task{
		MessageID:      messageID,
		Title:          t.Title,
		Description:    t.Description,
		DueDate:        t.DueDate,
		Priority:       models.NormalizePriority(t.Priority),
		Status:         models.TaskStatusPending,
		RemoteID:       &remoteID,
		Confidence:     t.Confidence,
		CreationMethod: models.CreationMethodAI,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// PersistManual stores a manually created task. It never calls the
// provider, so the task has no remote id.
func (e *TaskSyncEngine) PersistManual(ctx context.Context, t models.ExtractedTask) (*models.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	task := &models.Task{
		Title:          strings.TrimSpace(t.Title),
		Description:    t.Description,
		DueDate:        t.DueDate,
		Priority:       models.NormalizePriority(t.Priority),
		Status:         models.TaskStatusPending,
		Confidence:     1.0,
		CreationMethod: models.CreationMethodManual,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SyncExtracted creates the remote task for a candidate and then its local
// record. Nothing is stored locally when remote creation fails.
func (e *TaskSyncEngine) SyncExtracted(ctx context.Context, messageID string, t models.ExtractedTask) (*models.Task, error) {
	if !t.MeetsConfidence() {
		return nil, fmt.Errorf("%w: confidence %.2f below %.2f", ErrValidation, t.Confidence, models.MinTaskConfidence)
	}

	remoteID, err := e.CreateRemote(ctx, t)
	if err != nil {
		return nil, err
	}

	var msgRef *string
	if messageID != "" {
		msgRef = &messageID
	}

	task, err := e.PersistLocal(ctx, t, msgRef, remoteID)
	if err != nil {
		// Leave no orphan behind on the remote side.
		if derr := e.provider.DeleteTask(ctx, remoteID); derr != nil {
			e.logger.Error("Failed to remove remote task after local write failed", "remote_id", remoteID, "error", derr)
		}
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	e.logger.Info("Created task", "id", task.ID, "remote_id", remoteID, "title", task.Title)
	return task, nil
}

// CompleteLocal marks the task completed and mirrors it remotely. The local
// change stands even if the remote update fails.
func (e *TaskSyncEngine) CompleteLocal(ctx context.Context, taskID string) (*models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusCompleted {
		return task, nil
	}

	now := e.now().UTC()
	if err := e.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusCompleted, &now); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now

	if task.RemoteID != nil && *task.RemoteID != "" {
		remoteID := *task.RemoteID
		err := retry.DoErr(ctx, e.retry, func(ctx context.Context) error {
			return e.provider.SetCompleted(ctx, remoteID, true)
		})
		if err != nil {
			e.logger.Warn("Failed to mirror completion remotely", "id", task.ID, "remote_id", remoteID, "error", err)
			recordLog(ctx, e.logs, e.logger, models.ProcessingLog{
				Operation: models.OperationTaskComplete,
				Status:    models.LogStatusWarning,
				Message:   "Task completed locally but not remotely: " + task.Title,
				Details:   models.JSONB{"task_id": task.ID, "remote_id": remoteID, "error": err.Error()},
			})
		}
	}

	return task, nil
}

// Reconcile makes local status follow the remote status for every linked
// task. Tasks missing remotely are logged and left alone.
func (e *TaskSyncEngine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	started := e.now()
	linked, err := e.tasks.ListLinked(ctx)
	if err != nil {
		return nil, err
	}

	remoteTasks, err := retry.Do(ctx, e.retry, func(ctx context.Context) ([]RemoteTask, error) {
		return e.provider.ListTasks(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote tasks: %w", err)
	}

	byID := make(map[string]RemoteTask, len(remoteTasks))
	for _, rt := range remoteTasks {
		byID[rt.ID] = rt
	}

	report := &ReconcileReport{}
	for _, t := range linked {
		report.Checked++
		if err := e.reconcileOne(ctx, t.ID, byID, report); err != nil {
			report.Failed++
			e.logger.Error("Failed to reconcile task", "id", t.ID, "error", err)
		}
	}

	e.logger.Info("Reconciled tasks",
		"checked", report.Checked,
		"promoted", report.Promoted,
		"regressed", report.Regressed,
		"missing", report.Missing,
		"failed", report.Failed,
	)

	status := models.LogStatusSuccess
	if report.Failed > 0 || report.Missing > 0 {
		status = models.LogStatusWarning
	}
	recordLog(ctx, e.logs, e.logger, models.ProcessingLog{
		Operation: models.OperationTaskSync,
		Status:    status,
		Message:   fmt.Sprintf("Reconciled %d tasks", report.Checked),
		Details: models.JSONB{
			"checked":   report.Checked,
			"promoted":  report.Promoted,
			"regressed": report.Regressed,
			"missing":   report.Missing,
			"failed":    report.Failed,
		},
		DurationMS: e.now().Sub(started).Milliseconds(),
	})
	return report, nil
}

func (e *TaskSyncEngine) reconcileOne(ctx context.Context, taskID string, remote map[string]RemoteTask, report *ReconcileReport) error {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	// Re-read under the lock; a completion may have landed since listing.
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.RemoteID == nil || *task.RemoteID == "" {
		return nil
	}
	remoteID := *task.RemoteID

	rt, ok := remote[remoteID]
	if !ok || rt.Deleted {
		report.Missing++
		e.logger.Warn("Remote task missing, keeping local task", "id", task.ID, "remote_id", remoteID)
		return nil
	}

	remoteDone := rt.Status == RemoteStatusCompleted
	localDone := task.Status == models.TaskStatusCompleted

	switch {
	case remoteDone && !localDone:
		completedAt := e.now().UTC()
		if rt.Completed != nil {
			completedAt = rt.Completed.UTC()
		}
		err = e.tasks.UpdateStatusIfLinked(ctx, task.ID, remoteID, models.TaskStatusCompleted, &completedAt)
		if err == nil {
			report.Promoted++
		}
	case !remoteDone && localDone:
		err = e.tasks.UpdateStatusIfLinked(ctx, task.ID, remoteID, models.TaskStatusPending, nil)
		if err == nil {
			report.Regressed++
		}
	}

	// The link changed after the re-read; nothing of ours to update.
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil
	}
	return err
}
