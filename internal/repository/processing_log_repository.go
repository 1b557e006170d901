package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vipul43/inbox-agent/internal/models"
)

// ProcessingLogRepository is the append-only audit trail. It works on raw
// SQL through sqlx; nothing here updates a row.
type ProcessingLogRepository struct {
	db *sqlx.DB
}

func NewProcessingLogRepository(db *sqlx.DB) *ProcessingLogRepository {
	return &ProcessingLogRepository{db: db}
}

// Append inserts a log entry
func (r *ProcessingLogRepository) Append(ctx context.Context, entry models.ProcessingLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	query := `
		INSERT INTO processing_logs (
			id, operation, status, message, details, duration_ms,
			tokens_used, cost, created_at
		) VALUES (
			:id, :operation, :status, :message, :details, :duration_ms,
			:tokens_used, :cost, :created_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to append processing log: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries, optionally filtered by operation
func (r *ProcessingLogRepository) ListRecent(ctx context.Context, operation string, limit int) ([]models.ProcessingLog, error) {
	query := `
		SELECT id, operation, status, message, details, duration_ms,
		       tokens_used, cost, created_at
		FROM processing_logs
	`
	args := []interface{}{}
	if operation != "" {
		query += " WHERE operation = ?"
		args = append(args, operation)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var entries []models.ProcessingLog
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return entries, nil
}

// CountByStatusSince counts entries per status created at or after since
func (r *ProcessingLogRepository) CountByStatusSince(ctx context.Context, since time.Time) (map[models.LogStatus]int, error) {
	query := r.db.Rebind(`
		SELECT status, COUNT(*) AS count
		FROM processing_logs
		WHERE created_at >= ?
		GROUP BY status
	`)

	var rows []struct {
		Status models.LogStatus `db:"status"`
		Count  int              `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to count processing logs: %w", err)
	}

	counts := make(map[models.LogStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteOlderThan removes entries created before cutoff
func (r *ProcessingLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM processing_logs WHERE created_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old processing logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return n, nil
}
