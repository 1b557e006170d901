package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/models"
)

type memoryLogs struct {
	mu      sync.Mutex
	entries []models.ProcessingLog
}

func (m *memoryLogs) Append(ctx context.Context, entry models.ProcessingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryLogs) all() []models.ProcessingLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ProcessingLog(nil), m.entries...)
}

func newTestScheduler(logs LogAppender) *Scheduler {
	return New(time.UTC, logs, 0, log.New(io.Discard))
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestRegister_ReplacesSameID(t *testing.T) {
	s := newTestScheduler(nil)
	ran := make(chan string, 2)

	for _, name := range []string{"first", "second"} {
		err := s.Register(JobDefinition{ID: "job", Name: name, Schedule: "@every 1h", Run: func(ctx context.Context) error {
			ran <- name
			return nil
		}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "second" {
		t.Fatalf("expected one replaced job, got %+v", jobs)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("expected one cron entry, got %d", n)
	}

	if _, err := s.TriggerNow("job"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	select {
	case got := <-ran:
		if got != "second" {
			t.Errorf("expected the replacement to run, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestRegister_InvalidSchedule(t *testing.T) {
	s := newTestScheduler(nil)

	tests := []JobDefinition{
		{ID: "bad", Schedule: "every day", Run: func(ctx context.Context) error { return nil }},
		{ID: "", Schedule: "@every 1h", Run: func(ctx context.Context) error { return nil }},
		{ID: "nobody", Schedule: "@every 1h"},
	}
	for _, def := range tests {
		if err := s.Register(def); err == nil {
			t.Errorf("expected error for %+v", def)
		}
	}
	if len(s.Jobs()) != 0 {
		t.Error("expected nothing registered")
	}
}

func TestTriggerNow(t *testing.T) {
	s := newTestScheduler(nil)
	done := make(chan struct{})
	_ = s.Register(JobDefinition{ID: "daily_email_processing", Schedule: "0 8 * * *", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	runID, err := s.TriggerNow("daily_email_processing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(runID, "manual_daily_email_processing_") {
		t.Errorf("unexpected run id %q", runID)
	}
	waitFor(t, done)

	_, err = s.TriggerNow("nope")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestExecute_FailuresAreRecordedAndIsolated(t *testing.T) {
	logs := &memoryLogs{}
	s := newTestScheduler(logs)

	healthy := make(chan struct{}, 1)
	_ = s.Register(JobDefinition{ID: "failing", Name: "Failing", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		return errors.New("provider down")
	}})
	_ = s.Register(JobDefinition{ID: "panicking", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		panic("boom")
	}})
	_ = s.Register(JobDefinition{ID: "healthy", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		healthy <- struct{}{}
		return nil
	}})

	s.execute(s.jobs["failing"], "run-1")
	s.execute(s.jobs["panicking"], "run-2")
	s.execute(s.jobs["healthy"], "run-3")

	select {
	case <-healthy:
	default:
		t.Fatal("expected the healthy job to run after failures")
	}

	entries := logs.all()
	if len(entries) != 2 {
		t.Fatalf("expected two error entries, got %+v", entries)
	}
	for _, e := range entries {
		if e.Operation != models.OperationScheduledJob || e.Status != models.LogStatusError {
			t.Errorf("unexpected entry %+v", e)
		}
	}
	if !strings.Contains(entries[0].Message, "provider down") || entries[0].Details["run_id"] != "run-1" {
		t.Errorf("unexpected failure entry %+v", entries[0])
	}
	if !strings.Contains(entries[1].Message, "panic: boom") {
		t.Errorf("expected the panic to be recorded, got %q", entries[1].Message)
	}
	if len(s.Jobs()) != 3 {
		t.Error("expected every job to stay registered")
	}
}

func TestExecute_SkipsOverlappingRuns(t *testing.T) {
	s := newTestScheduler(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0

	_ = s.Register(JobDefinition{ID: "slow", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}})

	go s.execute(s.jobs["slow"], "first")
	waitFor(t, started)

	if !s.Jobs()[0].Running {
		t.Error("expected the job to report running")
	}
	// Returns immediately because the first run holds the guard.
	s.execute(s.jobs["slow"], "second")
	close(release)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("expected one run, got %d", runs)
	}
}

func TestStop_WaitsForManualRuns(t *testing.T) {
	s := newTestScheduler(nil)
	s.Start(context.Background())

	started := make(chan struct{})
	finished := make(chan struct{})
	_ = s.Register(JobDefinition{ID: "job", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	}})

	if _, err := s.TriggerNow("job"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	waitFor(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case <-finished:
	default:
		t.Fatal("expected Stop to wait for the in-flight run")
	}

	if _, err := s.TriggerNow("job"); err == nil {
		t.Error("expected triggers to be refused after stop")
	}
}

func TestStop_CancelsPendingTriggers(t *testing.T) {
	s := New(time.UTC, nil, time.Hour, log.New(io.Discard))
	ran := false
	_ = s.Register(JobDefinition{ID: "job", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	if _, err := s.TriggerNow("job"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ran {
		t.Error("expected the pending trigger to be cancelled")
	}
}

func TestJobContextSurvivesStartCancellation(t *testing.T) {
	s := newTestScheduler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	defer s.Stop(context.Background())

	errs := make(chan error, 1)
	_ = s.Register(JobDefinition{ID: "job", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		errs <- ctx.Err()
		return nil
	}})
	if _, err := s.TriggerNow("job"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("expected a live job context, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestBuiltins(t *testing.T) {
	defs := Builtins(Jobs{}, "0 8 * * *", "0 18 * * *")

	want := map[string]string{
		JobDailyProcessing: "0 8 * * *",
		JobSyncTasks:       "@every 6h",
		JobHealthCheck:     "@every 2h",
		JobCleanup:         "0 2 * * 0",
		JobDailySummary:    "0 18 * * *",
	}
	if len(defs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(defs))
	}

	s := newTestScheduler(nil)
	if err := s.RegisterAll(defs); err != nil {
		t.Fatalf("expected every builtin schedule to parse, got %v", err)
	}
	for _, def := range defs {
		if want[def.ID] != def.Schedule {
			t.Errorf("job %s: expected %q, got %q", def.ID, want[def.ID], def.Schedule)
		}
	}
}
