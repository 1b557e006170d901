package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/repository"
	"github.com/vipul43/inbox-agent/internal/scheduler"
	"github.com/vipul43/inbox-agent/internal/service"
)

type fakeJobs struct {
	triggered []string
}

func (f *fakeJobs) TriggerNow(id string) (string, error) {
	switch id {
	case scheduler.JobDailyProcessing, scheduler.JobSyncTasks, scheduler.JobHealthCheck:
		f.triggered = append(f.triggered, id)
		return "manual_" + id + "_1", nil
	}
	return "", fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, id)
}

func (f *fakeJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{ID: scheduler.JobDailyProcessing, Schedule: "0 8 * * *"}}
}

type fakeHealth struct {
	status service.HealthStatus
}

func (f *fakeHealth) Check(ctx context.Context) service.HealthReport {
	return service.HealthReport{Status: f.status}
}

type fakeLogs struct {
	gotOperation string
	gotLimit     int
}

func (f *fakeLogs) ListRecent(ctx context.Context, operation string, limit int) ([]models.ProcessingLog, error) {
	f.gotOperation = operation
	f.gotLimit = limit
	return []models.ProcessingLog{{ID: "l1", Operation: models.OperationHealthCheck, Status: models.LogStatusSuccess}}, nil
}

type fakeSummaries struct {
	byDate map[string]*models.DailySummary
}

func (f *fakeSummaries) GetByDate(ctx context.Context, date string) (*models.DailySummary, error) {
	if s, ok := f.byDate[date]; ok {
		return s, nil
	}
	return nil, repository.ErrSummaryNotFound
}

type fakeTasks struct {
	listFunc     func(ctx context.Context, limit int) ([]models.Task, error)
	persistFunc  func(ctx context.Context, t models.ExtractedTask) (*models.Task, error)
	completeFunc func(ctx context.Context, id string) (*models.Task, error)
}

func (f *fakeTasks) List(ctx context.Context, limit int) ([]models.Task, error) {
	return f.listFunc(ctx, limit)
}

func (f *fakeTasks) PersistManual(ctx context.Context, t models.ExtractedTask) (*models.Task, error) {
	return f.persistFunc(ctx, t)
}

func (f *fakeTasks) CompleteLocal(ctx context.Context, id string) (*models.Task, error) {
	return f.completeFunc(ctx, id)
}

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestServer(deps Deps) http.Handler {
	return New(deps, func() time.Time { return testNow }, log.New(io.Discard)).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestTriggerRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantJob    string
	}{
		{"process emails", "/api/process-emails", http.StatusAccepted, scheduler.JobDailyProcessing},
		{"sync tasks", "/api/sync-tasks", http.StatusAccepted, scheduler.JobSyncTasks},
		{"by id", "/api/jobs/health_check/trigger", http.StatusAccepted, scheduler.JobHealthCheck},
		{"unknown id", "/api/jobs/nope/trigger", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			w := do(t, newTestServer(Deps{Jobs: jobs}), http.MethodPost, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantJob == "" {
				return
			}
			body := decode(t, w)
			if body["job_id"] != "manual_"+tt.wantJob+"_1" {
				t.Errorf("unexpected job id %v", body["job_id"])
			}
			if len(jobs.triggered) != 1 || jobs.triggered[0] != tt.wantJob {
				t.Errorf("expected %s triggered, got %v", tt.wantJob, jobs.triggered)
			}
		})
	}
}

func TestHealthRoute(t *testing.T) {
	tests := []struct {
		status     service.HealthStatus
		wantStatus int
	}{
		{service.HealthHealthy, http.StatusOK},
		{service.HealthDegraded, http.StatusOK},
		{service.HealthUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			w := do(t, newTestServer(Deps{Health: &fakeHealth{tt.status}}), http.MethodGet, "/api/health", "")
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if decode(t, w)["status"] != string(tt.status) {
				t.Errorf("unexpected body %s", w.Body.String())
			}
		})
	}
}

func TestLogsRoute(t *testing.T) {
	logs := &fakeLogs{}
	h := newTestServer(Deps{Logs: logs})

	w := do(t, h, http.MethodGet, "/api/logs?operation=health_check&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if logs.gotOperation != "health_check" || logs.gotLimit != 5 {
		t.Errorf("unexpected query %q %d", logs.gotOperation, logs.gotLimit)
	}
	if entries := decode(t, w)["logs"].([]interface{}); len(entries) != 1 {
		t.Errorf("expected one entry, got %v", entries)
	}

	if w := do(t, h, http.MethodGet, "/api/logs?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", w.Code)
	}
}

func TestTodaySummaryRoute(t *testing.T) {
	summaries := &fakeSummaries{byDate: map[string]*models.DailySummary{}}
	h := newTestServer(Deps{Summaries: summaries})

	if w := do(t, h, http.MethodGet, "/api/summary/today", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the summary exists, got %d", w.Code)
	}

	summaries.byDate["2026-10-14"] = &models.DailySummary{SummaryDate: "2026-10-14", EmailsProcessed: 2, SummaryText: "ok"}
	w := do(t, h, http.MethodGet, "/api/summary/today", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["emails_processed"] != float64(2) || body["date"] != "2026-10-14" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestTaskRoutes(t *testing.T) {
	var persisted models.ExtractedTask
	tasks := &fakeTasks{
		listFunc: func(ctx context.Context, limit int) ([]models.Task, error) {
			return []models.Task{{ID: "t1", Title: "Pay", Status: models.TaskStatusPending}}, nil
		},
		persistFunc: func(ctx context.Context, t models.ExtractedTask) (*models.Task, error) {
			persisted = t
			if t.Title == "" {
				return nil, service.ErrValidation
			}
			return &models.Task{ID: "t2", Title: t.Title, Status: models.TaskStatusPending, CreationMethod: models.CreationMethodManual}, nil
		},
		completeFunc: func(ctx context.Context, id string) (*models.Task, error) {
			if id != "t1" {
				return nil, repository.ErrTaskNotFound
			}
			return &models.Task{ID: id, Status: models.TaskStatusCompleted}, nil
		},
	}
	h := newTestServer(Deps{Tasks: tasks, TaskSync: tasks})

	t.Run("list", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/tasks", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if got := decode(t, w)["tasks"].([]interface{}); len(got) != 1 {
			t.Errorf("expected one task, got %v", got)
		}
	})

	t.Run("create", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/tasks", `{"title": "Call bank", "priority": "HIGH", "due_date": "tomorrow"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
		}
		if persisted.Priority != "high" || persisted.DueDate == nil {
			t.Errorf("unexpected task passed on %+v", persisted)
		}
		if want := time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC); !persisted.DueDate.Equal(want) {
			t.Errorf("expected due %v, got %v", want, persisted.DueDate)
		}
		if decode(t, w)["creation_method"] != "manual" {
			t.Errorf("unexpected body %s", w.Body.String())
		}
	})

	t.Run("create rejects bad input", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"title": "x", "due_date": "someday"}`, `not json`} {
			if w := do(t, h, http.MethodPost, "/api/tasks", body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400 for %s, got %d", body, w.Code)
			}
		}
	})

	t.Run("complete", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/tasks/t1/complete", "")
		if w.Code != http.StatusOK || decode(t, w)["status"] != "completed" {
			t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
		}
		if w := do(t, h, http.MethodPost, "/api/tasks/missing/complete", ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		tasks.listFunc = func(ctx context.Context, limit int) ([]models.Task, error) {
			return nil, errors.New("disk full")
		}
		w := do(t, h, http.MethodGet, "/api/tasks", "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "disk full") {
			t.Error("expected internal errors to stay out of the response")
		}
	})
}
