package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/inbox-agent/internal/models"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Component names reported by the health checker
const (
	ComponentStore = "database"
	ComponentAI    = "ai_provider"
	ComponentTasks = "task_provider"
	ComponentMail  = "mail_provider"
)

type ComponentHealth struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

type HealthReport struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthChecker pings every dependency. The store is critical; the
// providers only degrade the system.
type HealthChecker struct {
	store   Pinger
	ai      Pinger
	tasks   Pinger
	mail    Pinger
	logs    LogStore
	timeout time.Duration
	logger  *log.Logger
}

// NewHealthChecker builds a checker. Nil providers are left out of the report.
func NewHealthChecker(store, ai, tasks, mail Pinger, logs LogStore, logger *log.Logger) *HealthChecker {
	return &HealthChecker{
		store:   store,
		ai:      ai,
		tasks:   tasks,
		mail:    mail,
		logs:    logs,
		timeout: 15 * time.Second,
		logger:  logger.WithPrefix("health"),
	}
}

// Check runs all pings concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	targets := []struct {
		name string
		p    Pinger
	}{
		{ComponentStore, h.store},
		{ComponentAI, h.ai},
		{ComponentTasks, h.tasks},
		{ComponentMail, h.mail},
	}

	var mu sync.Mutex
	results := make(map[string]ComponentHealth)
	var g errgroup.Group
	for _, target := range targets {
		if target.p == nil {
			continue
		}
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			started := time.Now()
			err := target.p.Ping(pingCtx)
			res := ComponentHealth{Name: target.name, OK: err == nil, Latency: time.Since(started)}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			results[target.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{Status: HealthHealthy, CheckedAt: time.Now().UTC()}
	for _, target := range targets {
		res, ok := results[target.name]
		if !ok {
			continue
		}
		report.Components = append(report.Components, res)
		if res.OK {
			continue
		}
		if target.name == ComponentStore {
			report.Status = HealthUnhealthy
		} else if report.Status == HealthHealthy {
			report.Status = HealthDegraded
		}
	}
	return report
}

// Run is the scheduled health job. It records the result and reports an
// unhealthy system as an error.
func (h *HealthChecker) Run(ctx context.Context) error {
	started := time.Now()
	report := h.Check(ctx)

	details := models.JSONB{"status": string(report.Status)}
	for _, c := range report.Components {
		if c.OK {
			details[c.Name] = "ok"
		} else {
			details[c.Name] = c.Error
		}
	}

	status := models.LogStatusSuccess
	switch report.Status {
	case HealthDegraded:
		status = models.LogStatusWarning
		h.logger.Warn("System degraded", "details", details)
	case HealthUnhealthy:
		status = models.LogStatusError
		h.logger.Error("System unhealthy", "details", details)
	default:
		h.logger.Info("System healthy")
	}

	// An unreachable store cannot take the log entry anyway.
	if report.Status != HealthUnhealthy {
		recordLog(ctx, h.logs, h.logger, models.ProcessingLog{
			Operation:  models.OperationHealthCheck,
			Status:     status,
			Message:    "System health: " + string(report.Status),
			Details:    details,
			DurationMS: time.Since(started).Milliseconds(),
		})
	}

	if report.Status == HealthUnhealthy {
		return fmt.Errorf("system unhealthy: %v", details)
	}
	return nil
}
