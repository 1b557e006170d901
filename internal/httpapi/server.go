// Package httpapi exposes manual triggers, health, the audit log and task
// endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/repository"
	"github.com/vipul43/inbox-agent/internal/scheduler"
	"github.com/vipul43/inbox-agent/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Triggerer interface {
	TriggerNow(id string) (string, error)
	Jobs() []scheduler.JobStatus
}

type HealthReporter interface {
	Check(ctx context.Context) service.HealthReport
}

type LogReader interface {
	ListRecent(ctx context.Context, operation string, limit int) ([]models.ProcessingLog, error)
}

type SummaryReader interface {
	GetByDate(ctx context.Context, date string) (*models.DailySummary, error)
}

type TaskReader interface {
	List(ctx context.Context, limit int) ([]models.Task, error)
}

type TaskManager interface {
	PersistManual(ctx context.Context, t models.ExtractedTask) (*models.Task, error)
	CompleteLocal(ctx context.Context, taskID string) (*models.Task, error)
}

// Deps are the collaborators behind the routes
type Deps struct {
	Jobs      Triggerer
	Health    HealthReporter
	Logs      LogReader
	Summaries SummaryReader
	Tasks     TaskReader
	TaskSync  TaskManager
}

type Server struct {
	deps   Deps
	now    func() time.Time
	logger *log.Logger
}

// New builds the server. now decides which calendar day "today" is.
func New(deps Deps, now func() time.Time, logger *log.Logger) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{deps: deps, now: now, logger: logger.WithPrefix("http")}
}

// Handler returns the gin engine with every route mounted
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.POST("/process-emails", s.trigger(scheduler.JobDailyProcessing))
	api.POST("/sync-tasks", s.trigger(scheduler.JobSyncTasks))
	api.GET("/jobs", s.listJobs)
	api.POST("/jobs/:id/trigger", s.triggerByID)
	api.GET("/health", s.health)
	api.GET("/logs", s.listLogs)
	api.GET("/summary/today", s.todaySummary)
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.POST("/tasks/:id/complete", s.completeTask)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) trigger(jobID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.runTrigger(c, jobID)
	}
}

func (s *Server) triggerByID(c *gin.Context) {
	s.runTrigger(c, c.Param("id"))
}

func (s *Server) runTrigger(c *gin.Context, jobID string) {
	runID, err := s.deps.Jobs.TriggerNow(jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Failed to trigger job", "job", jobID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": runID, "status": "scheduled"})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.deps.Jobs.Jobs()})
}

func (s *Server) health(c *gin.Context) {
	report := s.deps.Health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == service.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) listLogs(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	entries, err := s.deps.Logs.ListRecent(c.Request.Context(), c.Query("operation"), limit)
	if err != nil {
		s.internalError(c, "Failed to list logs", err)
		return
	}

	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLogResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

func (s *Server) todaySummary(c *gin.Context) {
	date := models.DateKey(s.now())
	summary, err := s.deps.Summaries.GetByDate(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, repository.ErrSummaryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no summary for " + date})
			return
		}
		s.internalError(c, "Failed to get summary", err)
		return
	}
	c.JSON(http.StatusOK, toSummaryResponse(summary))
}

func (s *Server) listTasks(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	tasks, err := s.deps.Tasks.List(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "Failed to list tasks", err)
		return
	}

	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := models.ExtractedTask{
		Title:       req.Title,
		Description: req.Description,
		Priority:    strings.ToLower(req.Priority),
	}
	if req.DueDate != "" {
		t.DueDate = service.ParseDueDate(req.DueDate, s.now())
		if t.DueDate == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized due_date " + strconv.Quote(req.DueDate)})
			return
		}
	}

	task, err := s.deps.TaskSync.PersistManual(c.Request.Context(), t)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "Failed to create task", err)
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(*task))
}

func (s *Server) completeTask(c *gin.Context) {
	task, err := s.deps.TaskSync.CompleteLocal(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "Failed to complete task", err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(*task))
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// parseLimit reads ?limit=, writing a 400 when it is not a positive integer
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
