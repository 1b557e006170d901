package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/inbox-agent/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert stores msg unless a message with the same provider id already
// exists. It returns the id of the stored row and whether it was new. An
// existing row is never modified.
func (r *MessageRepository) Upsert(ctx context.Context, msg models.Message) (string, bool, error) {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusUnprocessed
	}
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_id"}}, DoNothing: true}).
		Create(&msg)
	if result.Error != nil {
		return "", false, fmt.Errorf("failed to insert message: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return msg.ID, true, nil
	}

	existing, err := r.GetByProviderID(ctx, msg.ProviderID)
	if err != nil {
		return "", false, err
	}
	return existing.ID, false, nil
}

// GetByID retrieves a message by local id
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByProviderID retrieves a message by the mail provider's id
func (r *MessageRepository) GetByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	return r.first(ctx, "provider_id = ?", providerID)
}

func (r *MessageRepository) first(ctx context.Context, query string, arg interface{}) (*models.Message, error) {
	var msg models.Message
	result := r.db.WithContext(ctx).First(&msg, query, arg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &msg, nil
}

// ListUnprocessed returns unprocessed messages, oldest first
func (r *MessageRepository) ListUnprocessed(ctx context.Context, limit int) ([]models.Message, error) {
	var msgs []models.Message
	q := r.db.WithContext(ctx).
		Where("status = ?", models.MessageStatusUnprocessed).
		Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list unprocessed messages: %w", err)
	}
	return msgs, nil
}

// ListProcessedSince returns messages processed at or after since
func (r *MessageRepository) ListProcessedSince(ctx context.Context, since time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("status = ? AND processed_at >= ?", models.MessageStatusProcessed, since.UTC()).
		Order("importance_score DESC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list processed messages: %w", err)
	}
	return msgs, nil
}

// MarkProcessed writes the analysis and moves the message to processed.
// Only unprocessed messages transition; anything else is ErrMessageNotFound.
func (r *MessageRepository) MarkProcessed(ctx context.Context, id string, res models.ProcessingResult) error {
	processedAt := res.ProcessedAt.UTC()
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.MessageStatusUnprocessed).
		Updates(map[string]interface{}{
			"status":           models.MessageStatusProcessed,
			"summary":          res.Summary,
			"importance_score": res.ImportanceScore,
			"sentiment":        res.Sentiment,
			"has_action_items": res.HasActionItems,
			"tokens_used":      res.TokensUsed,
			"cost":             res.Cost,
			"processed_at":     processedAt,
			"last_error":       nil,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkError moves an unprocessed message to error
func (r *MessageRepository) MarkError(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.MessageStatusUnprocessed).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusError,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountByStatus returns the number of messages in each status
func (r *MessageRepository) CountByStatus(ctx context.Context) (map[models.MessageStatus]int64, error) {
	var rows []struct {
		Status models.MessageStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	counts := make(map[models.MessageStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteOlderThan removes messages received before cutoff
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&models.Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
