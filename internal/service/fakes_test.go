package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/database"
	"github.com/vipul43/inbox-agent/internal/openrouter"
	"github.com/vipul43/inbox-agent/internal/repository"
	"github.com/vipul43/inbox-agent/internal/retry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// noSleep keeps retry tests instant
func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}
}

type testStores struct {
	db        *database.DB
	messages  *repository.MessageRepository
	tasks     *repository.TaskRepository
	summaries *repository.SummaryRepository
	logs      *repository.ProcessingLogRepository
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	db, err := database.Connect("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return &testStores{
		db:        db,
		messages:  repository.NewMessageRepository(db.Gorm),
		tasks:     repository.NewTaskRepository(db.Gorm),
		summaries: repository.NewSummaryRepository(db.Gorm),
		logs:      repository.NewProcessingLogRepository(db.X),
	}
}

type fakeMailProvider struct {
	mu           sync.Mutex
	listFunc     func(ctx context.Context, query string, maxResults int, pageToken string) (*MessageIDPage, error)
	getFunc      func(ctx context.Context, id string) (*MailMessage, error)
	markReadFunc func(ctx context.Context, id string) error
	sendFunc     func(ctx context.Context, raw []byte) error

	queries    []string
	markedRead []string
	sent       [][]byte
}

func (f *fakeMailProvider) ListMessageIDs(ctx context.Context, query string, maxResults int, pageToken string) (*MessageIDPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.listFunc != nil {
		return f.listFunc(ctx, query, maxResults, pageToken)
	}
	return &MessageIDPage{}, nil
}

func (f *fakeMailProvider) GetMessage(ctx context.Context, id string) (*MailMessage, error) {
	if f.getFunc != nil {
		return f.getFunc(ctx, id)
	}
	return nil, fmt.Errorf("message %s not found", id)
}

func (f *fakeMailProvider) MarkAsRead(ctx context.Context, id string) error {
	f.mu.Lock()
	f.markedRead = append(f.markedRead, id)
	f.mu.Unlock()
	if f.markReadFunc != nil {
		return f.markReadFunc(ctx, id)
	}
	return nil
}

func (f *fakeMailProvider) SendMessage(ctx context.Context, raw []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, raw)
	f.mu.Unlock()
	if f.sendFunc != nil {
		return f.sendFunc(ctx, raw)
	}
	return nil
}

// fakeTaskProvider keeps remote tasks in memory
type fakeTaskProvider struct {
	mu             sync.Mutex
	createFunc     func(ctx context.Context, in RemoteTaskInput) (string, error)
	setCompleteErr error
	listErr        error

	remote     map[string]RemoteTask
	created    []RemoteTaskInput
	deleted    []string
	reconnects int
	nextID     int
}

func newFakeTaskProvider() *fakeTaskProvider {
	return &fakeTaskProvider{remote: make(map[string]RemoteTask)}
}

func (f *fakeTaskProvider) CreateTask(ctx context.Context, in RemoteTaskInput) (string, error) {
	if f.createFunc != nil {
		if id, err := f.createFunc(ctx, in); err != nil || id != "" {
			return id, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.remote[id] = RemoteTask{ID: id, Title: in.Title, Status: RemoteStatusNeedsAction}
	f.created = append(f.created, in)
	return id, nil
}

func (f *fakeTaskProvider) SetCompleted(ctx context.Context, remoteID string, completed bool) error {
	if f.setCompleteErr != nil {
		return f.setCompleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.remote[remoteID]
	if !ok {
		return fmt.Errorf("remote task %s not found", remoteID)
	}
	rt.Status = RemoteStatusNeedsAction
	if completed {
		rt.Status = RemoteStatusCompleted
	}
	f.remote[remoteID] = rt
	return nil
}

func (f *fakeTaskProvider) ListTasks(ctx context.Context) ([]RemoteTask, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RemoteTask, 0, len(f.remote))
	for _, rt := range f.remote {
		out = append(out, rt)
	}
	return out, nil
}

func (f *fakeTaskProvider) DeleteTask(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remote, remoteID)
	f.deleted = append(f.deleted, remoteID)
	return nil
}

func (f *fakeTaskProvider) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTaskProvider) setRemoteStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt := f.remote[id]
	rt.ID = id
	rt.Status = status
	f.remote[id] = rt
}

type fakeCompleter struct {
	completeFunc func(ctx context.Context, r openrouter.Request) (*openrouter.Completion, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, r openrouter.Request) (*openrouter.Completion, error) {
	if f.completeFunc != nil {
		return f.completeFunc(ctx, r)
	}
	return &openrouter.Completion{Content: "{}", TotalTokens: 1}, nil
}

type fakeReauth struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReauth) ForceRefresh(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func completion(content string, tokens int) *openrouter.Completion {
	return &openrouter.Completion{Content: content, TotalTokens: tokens}
}
