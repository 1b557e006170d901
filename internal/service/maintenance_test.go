package service

import (
	"context"
	"testing"
	"time"

	"github.com/vipul43/inbox-agent/internal/models"
)

func TestCleaner_RemovesExpiredRows(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{100 * 24 * time.Hour, 10 * 24 * time.Hour} {
		msg := models.Message{ProviderID: string(rune('a' + i)), ReceivedAt: now.Add(-age)}
		if _, _, err := stores.messages.Upsert(ctx, msg); err != nil {
			t.Fatalf("failed to insert message: %v", err)
		}
	}
	old := models.ProcessingLog{Operation: models.OperationHealthCheck, Status: models.LogStatusSuccess, CreatedAt: now.Add(-40 * 24 * time.Hour)}
	if err := stores.logs.Append(ctx, old); err != nil {
		t.Fatalf("failed to append log: %v", err)
	}
	if err := stores.logs.Append(ctx, models.ProcessingLog{Operation: models.OperationHealthCheck, Status: models.LogStatusSuccess}); err != nil {
		t.Fatalf("failed to append log: %v", err)
	}

	// Tasks survive retention.
	if err := stores.tasks.Create(ctx, &models.Task{Title: "keep me"}); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	c := NewCleaner(stores.messages, stores.logs, 90, 30, testLogger())
	report, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Messages != 1 || report.Logs != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	tasks, _ := stores.tasks.List(ctx, 0)
	if len(tasks) != 1 {
		t.Errorf("expected tasks to be kept, got %d", len(tasks))
	}
	entries, _ := stores.logs.ListRecent(ctx, models.OperationCleanup, 10)
	if len(entries) != 1 {
		t.Errorf("expected one cleanup entry, got %d", len(entries))
	}
}
