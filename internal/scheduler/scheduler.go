// Package scheduler fires registered jobs on cron and interval triggers
// and runs out-of-band manual triggers through the same guarded body.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/vipul43/inbox-agent/internal/models"
)

var ErrUnknownJob = errors.New("unknown job")

// DefaultTriggerDelay is how far in the future a manual trigger runs
const DefaultTriggerDelay = 5 * time.Second

// JobDefinition describes one scheduled job. Schedule is any robfig
// standard spec: five cron fields or a descriptor such as "@every 6h".
type JobDefinition struct {
	ID       string
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// LogAppender receives an entry for every failed job run
type LogAppender interface {
	Append(ctx context.Context, entry models.ProcessingLog) error
}

// JobStatus is a registered job as seen from outside
type JobStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next_run"`
	Running  bool      `json:"running"`
}

type job struct {
	def     JobDefinition
	entryID cron.EntryID
	// guard is shared across re-registrations of the same id so a replaced
	// definition cannot overlap a run of the old one.
	guard *sync.Mutex
	state *runState
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type Scheduler struct {
	mu           sync.Mutex
	cron         *cron.Cron
	jobs         map[string]*job
	logs         LogAppender
	triggerDelay time.Duration
	baseCtx      context.Context

	manual  sync.WaitGroup
	pending map[string]*time.Timer
	stopped bool

	now    func() time.Time
	logger *log.Logger
}

// New builds a scheduler whose cron specs are read in loc. logs may be nil.
func New(loc *time.Location, logs LogAppender, triggerDelay time.Duration, logger *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.WithPrefix("scheduler")
	adapter := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		jobs:         make(map[string]*job),
		logs:         logs,
		triggerDelay: triggerDelay,
		baseCtx:      context.Background(),
		pending:      make(map[string]*time.Timer),
		now:          time.Now,
		logger:       logger,
	}
}

// Register installs def, replacing any job with the same id
func (s *Scheduler) Register(def JobDefinition) error {
	if def.ID == "" || def.Run == nil {
		return fmt.Errorf("job definition needs an id and a body")
	}
	if def.Name == "" {
		def.Name = def.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{def: def, guard: &sync.Mutex{}, state: &runState{}}
	old, replacing := s.jobs[def.ID]
	if replacing {
		j.guard = old.guard
		j.state = old.state
	}

	entryID, err := s.cron.AddFunc(def.Schedule, func() {
		s.execute(j, "scheduled_"+def.ID+"_"+uuid.NewString())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", def.ID, err)
	}
	j.entryID = entryID

	if replacing {
		s.cron.Remove(old.entryID)
		s.logger.Info("Replaced job", "id", def.ID, "schedule", def.Schedule)
	} else {
		s.logger.Info("Registered job", "id", def.ID, "schedule", def.Schedule)
	}
	s.jobs[def.ID] = j
	return nil
}

// Start begins firing triggers. Job bodies get a context derived from ctx
// that is never cancelled, so a stop lets them finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.Jobs()))
}

// Stop prevents new runs and waits for in-flight ones until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for runID, t := range s.pending {
		if t.Stop() {
			s.manual.Done()
		}
		delete(s.pending, runID)
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	manualDone := make(chan struct{})
	go func() {
		s.manual.Wait()
		close(manualDone)
	}()

	for _, done := range []<-chan struct{}{cronDone.Done(), manualDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("scheduler stop: %w", ctx.Err())
		}
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// TriggerNow runs job id once after the trigger delay and returns the run
// id used in its log lines. The caller does not wait for the run.
func (s *Scheduler) TriggerNow(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return "", fmt.Errorf("scheduler is stopped")
	}
	j, ok := s.jobs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	runID := "manual_" + id + "_" + uuid.NewString()
	s.manual.Add(1)
	s.pending[runID] = time.AfterFunc(s.triggerDelay, func() {
		defer s.manual.Done()
		s.mu.Lock()
		delete(s.pending, runID)
		s.mu.Unlock()
		s.execute(j, runID)
	})

	s.logger.Info("Manual run scheduled", "job", id, "run_id", runID, "delay", s.triggerDelay)
	return runID, nil
}

// Jobs lists registered jobs ordered by id
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.state.mu.Lock()
		running := j.state.running
		j.state.mu.Unlock()
		out = append(out, JobStatus{
			ID:       j.def.ID,
			Name:     j.def.Name,
			Schedule: j.def.Schedule,
			Next:     s.cron.Entry(j.entryID).Next,
			Running:  running,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// execute runs one job body. A run of the same id already in flight makes
// this one a skip. Errors and panics are logged and recorded; they never
// reach the cron loop.
func (s *Scheduler) execute(j *job, runID string) {
	if !j.guard.TryLock() {
		s.logger.Warn("Job still running, skipping", "job", j.def.ID, "run_id", runID)
		return
	}
	defer j.guard.Unlock()

	j.state.mu.Lock()
	j.state.running = true
	j.state.mu.Unlock()
	defer func() {
		j.state.mu.Lock()
		j.state.running = false
		j.state.mu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	started := s.now()
	s.logger.Info("Job started", "job", j.def.ID, "run_id", runID)

	err := runGuarded(ctx, j.def.Run)
	elapsed := s.now().Sub(started)
	if err == nil {
		s.logger.Info("Job finished", "job", j.def.ID, "run_id", runID, "duration", elapsed)
		return
	}

	s.logger.Error("Job failed", "job", j.def.ID, "run_id", runID, "duration", elapsed, "error", err)
	if s.logs == nil {
		return
	}
	entry := models.ProcessingLog{
		Operation:  models.OperationScheduledJob,
		Status:     models.LogStatusError,
		Message:    fmt.Sprintf("Scheduled job %s failed: %v", j.def.Name, err),
		Details:    models.JSONB{"job_id": j.def.ID, "run_id": runID},
		DurationMS: elapsed.Milliseconds(),
	}
	if lerr := s.logs.Append(ctx, entry); lerr != nil {
		s.logger.Error("Failed to record job failure", "job", j.def.ID, "error", lerr)
	}
}

func runGuarded(ctx context.Context, run func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}

// cronLogger adapts charmbracelet/log to cron.Logger
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
