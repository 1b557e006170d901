package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/models"
)

// recordLog appends an audit entry. A failed append is logged, never returned.
func recordLog(ctx context.Context, store LogStore, logger *log.Logger, entry models.ProcessingLog) {
	if store == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := store.Append(ctx, entry); err != nil {
		logger.Error("Failed to write processing log", "operation", entry.Operation, "error", err)
	}
}
