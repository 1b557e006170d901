package scheduler

import (
	"context"
	"fmt"

	"github.com/vipul43/inbox-agent/internal/service"
)

// Built-in job ids
const (
	JobDailyProcessing = "daily_email_processing"
	JobSyncTasks       = "sync_google_tasks"
	JobHealthCheck     = "health_check"
	JobCleanup         = "cleanup_old_data"
	JobDailySummary    = "daily_summary"
)

// Fixed cadences of the auxiliary jobs
const (
	SyncTasksSchedule   = "@every 6h"
	HealthCheckSchedule = "@every 2h"
	CleanupSchedule     = "0 2 * * 0"
)

// Jobs are the component entry points behind the built-in definitions
type Jobs struct {
	Workflow *service.DailyWorkflowCoordinator
	Sync     *service.TaskSyncEngine
	Health   *service.HealthChecker
	Cleaner  *service.Cleaner
}

// Builtins returns the standard job set. processingSpec and summarySpec are
// daily cron specs.
func Builtins(j Jobs, processingSpec, summarySpec string) []JobDefinition {
	return []JobDefinition{
		{
			ID:       JobDailyProcessing,
			Name:     "Daily Email Processing",
			Schedule: processingSpec,
			Run: func(ctx context.Context) error {
				report, err := j.Workflow.Run(ctx)
				if err != nil {
					return err
				}
				if len(report.FailedSteps) > 0 {
					return fmt.Errorf("daily processing finished with failed steps %v", report.FailedSteps)
				}
				return nil
			},
		},
		{
			ID:       JobSyncTasks,
			Name:     "Sync Google Tasks",
			Schedule: SyncTasksSchedule,
			Run: func(ctx context.Context) error {
				_, err := j.Sync.Reconcile(ctx)
				return err
			},
		},
		{
			ID:       JobHealthCheck,
			Name:     "System Health Check",
			Schedule: HealthCheckSchedule,
			Run:      j.Health.Run,
		},
		{
			ID:       JobCleanup,
			Name:     "Cleanup Old Data",
			Schedule: CleanupSchedule,
			Run: func(ctx context.Context) error {
				_, err := j.Cleaner.Run(ctx)
				return err
			},
		},
		{
			ID:       JobDailySummary,
			Name:     "Generate Daily Summary",
			Schedule: summarySpec,
			Run: func(ctx context.Context) error {
				_, err := j.Workflow.WriteSummaryIfMissing(ctx)
				return err
			},
		},
	}
}

// RegisterAll registers every definition, stopping at the first error
func (s *Scheduler) RegisterAll(defs []JobDefinition) error {
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			return err
		}
	}
	return nil
}
