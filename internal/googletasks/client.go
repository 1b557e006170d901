package googletasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"github.com/vipul43/inbox-agent/internal/service"
)

// DueFormat is the UTC timestamp layout the Tasks API accepts for due dates
const DueFormat = "2006-01-02T15:04:05.000Z"

// FormatDue sends the local wall-clock time labeled as UTC. The API keeps
// only the date part, so converting to UTC would move dues east of UTC to
// the previous day.
func FormatDue(t time.Time) string {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return wall.Format(DueFormat)
}

// DefaultListID is the provider alias for the user's default list
const DefaultListID = "@default"

type Client struct {
	ts       oauth2.TokenSource
	opts     []option.ClientOption
	listName string
	logger   *log.Logger
	cb       *gobreaker.CircuitBreaker

	mu     sync.Mutex
	svc    *tasks.Service
	listID string
}

// NewClient builds a Tasks client working inside the list named listName.
// The list is resolved lazily on first use.
func NewClient(ctx context.Context, ts oauth2.TokenSource, listName string, logger *log.Logger, opts ...option.ClientOption) (*Client, error) {
	logger = logger.WithPrefix("tasks")
	c := &Client{
		ts:       ts,
		opts:     opts,
		listName: listName,
		logger:   logger,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google-tasks",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	svc, err := c.newService(ctx)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return c, nil
}

func (c *Client) newService(ctx context.Context) (*tasks.Service, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(c.ts)}, c.opts...)
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tasks service: %w", err)
	}
	return svc, nil
}

// Reconnect drops the current service and cached list id
func (c *Client) Reconnect(ctx context.Context) error {
	svc, err := c.newService(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.svc = svc
	c.listID = ""
	c.mu.Unlock()

	c.logger.Info("Tasks client reconnected")
	return nil
}

// service returns the current service and the resolved list id
func (c *Client) service(ctx context.Context) (*tasks.Service, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listID != "" {
		return c.svc, c.listID, nil
	}
	listID, ok := c.resolveTaskList(ctx, c.svc)
	// A fallback is used for this call only; the lookup runs again next time.
	if ok {
		c.listID = listID
	}
	return c.svc, listID, nil
}

// resolveTaskList finds the configured list, else the first list, else
// creates one. Listing failures fall back to the default alias and report
// ok=false.
func (c *Client) resolveTaskList(ctx context.Context, svc *tasks.Service) (string, bool) {
	lists, err := svc.Tasklists.List().MaxResults(100).Context(ctx).Do()
	if err != nil {
		c.logger.Warn("Failed to list task lists, using default", "error", err)
		return DefaultListID, false
	}

	for _, l := range lists.Items {
		if l.Title == c.listName {
			c.logger.Debug("Using task list", "title", l.Title, "id", l.Id)
			return l.Id, true
		}
	}

	if len(lists.Items) > 0 {
		first := lists.Items[0]
		c.logger.Info("Configured task list not found, using first list", "wanted", c.listName, "title", first.Title)
		return first.Id, true
	}

	created, err := svc.Tasklists.Insert(&tasks.TaskList{Title: c.listName}).Context(ctx).Do()
	if err != nil {
		c.logger.Warn("Failed to create task list, using default", "title", c.listName, "error", err)
		return DefaultListID, false
	}
	c.logger.Info("Created task list", "title", created.Title, "id", created.Id)
	return created.Id, true
}

// CreateTask inserts a task and returns its remote id
func (c *Client) CreateTask(ctx context.Context, in service.RemoteTaskInput) (string, error) {
	svc, listID, err := c.service(ctx)
	if err != nil {
		return "", err
	}

	task := &tasks.Task{
		Title: in.Title,
		Notes: in.Notes,
	}
	if in.Due != nil {
		task.Due = FormatDue(*in.Due)
	}

	var created *tasks.Task
	err = c.execute("create", func() error {
		var callErr error
		created, callErr = svc.Tasks.Insert(listID, task).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	c.logger.Debug("Created remote task", "id", created.Id, "title", created.Title)
	return created.Id, nil
}

// SetCompleted marks a remote task completed, or back to needsAction
func (c *Client) SetCompleted(ctx context.Context, remoteID string, completed bool) error {
	svc, listID, err := c.service(ctx)
	if err != nil {
		return err
	}

	patch := &tasks.Task{Status: service.RemoteStatusNeedsAction}
	if completed {
		now := time.Now().UTC().Format(time.RFC3339)
		patch.Status = service.RemoteStatusCompleted
		patch.Completed = &now
	} else {
		patch.NullFields = []string{"Completed"}
	}

	err = c.execute("patch", func() error {
		_, callErr := svc.Tasks.Patch(listID, remoteID, patch).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// ListTasks returns every task in the list, completed and hidden included
func (c *Client) ListTasks(ctx context.Context) ([]service.RemoteTask, error) {
	svc, listID, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	var out []service.RemoteTask
	pageToken := ""
	for {
		call := svc.Tasks.List(listID).ShowCompleted(true).ShowHidden(true).MaxResults(100).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var page *tasks.Tasks
		err := c.execute("list", func() error {
			var callErr error
			page, callErr = call.Do()
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		for _, t := range page.Items {
			out = append(out, toRemoteTask(t))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return out, nil
}

// DeleteTask removes a remote task
func (c *Client) DeleteTask(ctx context.Context, remoteID string) error {
	svc, listID, err := c.service(ctx)
	if err != nil {
		return err
	}

	err = c.execute("delete", func() error {
		return svc.Tasks.Delete(listID, remoteID).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Ping checks access by listing task lists
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	svc := c.svc
	c.mu.Unlock()

	if _, err := svc.Tasklists.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to list task lists: %w", err)
	}
	return nil
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// execute runs fn behind the circuit breaker. Client errors pass through
// as results so they do not count against the breaker.
func (c *Client) execute(operation string, fn func() error) error {
	res, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return err, nil
			}
			return nil, err
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("Circuit breaker rejected call", "operation", operation, "state", c.cb.State().String())
	}
	if err != nil {
		return err
	}
	if clientErr, ok := res.(error); ok {
		return clientErr
	}
	return nil
}

func toRemoteTask(t *tasks.Task) service.RemoteTask {
	rt := service.RemoteTask{
		ID:      t.Id,
		Title:   t.Title,
		Status:  t.Status,
		Deleted: t.Deleted,
	}
	if t.Completed != nil && *t.Completed != "" {
		if ts, err := time.Parse(time.RFC3339, *t.Completed); err == nil {
			ts = ts.UTC()
			rt.Completed = &ts
		}
	}
	return rt
}
