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

var (
	ErrSummaryExists   = errors.New("daily summary already exists")
	ErrSummaryNotFound = errors.New("daily summary not found")
)

type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Create inserts the summary for its date. The unique index on
// summary_date decides races; the loser gets ErrSummaryExists.
func (r *SummaryRepository) Create(ctx context.Context, summary *models.DailySummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}
	summary.CreatedAt = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "summary_date"}}, DoNothing: true}).
		Create(summary)
	if result.Error != nil {
		return fmt.Errorf("failed to create daily summary: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSummaryExists
	}
	return nil
}

// ExistsForDate reports whether a summary row exists for the date key
func (r *SummaryRepository) ExistsForDate(ctx context.Context, date string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DailySummary{}).
		Where("summary_date = ?", date).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check daily summary: %w", err)
	}
	return count > 0, nil
}

// GetByDate retrieves the summary for the date key
func (r *SummaryRepository) GetByDate(ctx context.Context, date string) (*models.DailySummary, error) {
	var summary models.DailySummary
	result := r.db.WithContext(ctx).First(&summary, "summary_date = ?", date)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSummaryNotFound
		}
		return nil, fmt.Errorf("failed to get daily summary: %w", result.Error)
	}
	return &summary, nil
}

// ListRecent returns the latest summaries, newest first
func (r *SummaryRepository) ListRecent(ctx context.Context, limit int) ([]models.DailySummary, error) {
	var summaries []models.DailySummary
	err := r.db.WithContext(ctx).
		Order("summary_date DESC").
		Limit(limit).
		Find(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}
	return summaries, nil
}
