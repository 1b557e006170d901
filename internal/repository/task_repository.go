package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vipul43/inbox-agent/internal/models"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a task, assigning an id and timestamps when missing
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.DueDate != nil {
		due := task.DueDate.UTC()
		task.DueDate = &due
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by id
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	result := r.db.WithContext(ctx).First(&task, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", result.Error)
	}
	return &task, nil
}

// List returns the most recently created tasks
func (r *TaskRepository) List(ctx context.Context, limit int) ([]models.Task, error) {
	var tasks []models.Task
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ListLinked returns every task that already carries a remote id
func (r *TaskRepository) ListLinked(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("remote_id IS NOT NULL AND remote_id <> ''").
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list linked tasks: %w", err)
	}
	return tasks, nil
}

// ListCreatedSince returns tasks created at or after since
func (r *TaskRepository) ListCreatedSince(ctx context.Context, since time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus sets status and completion time on a task
func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, completedAt *time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Updates(statusUpdates(status, completedAt))
	if result.Error != nil {
		return fmt.Errorf("failed to update task status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateStatusIfLinked updates a task only while it is still linked to
// remoteID, so a reconciliation pass cannot touch a task whose link changed
// after it was read.
func (r *TaskRepository) UpdateStatusIfLinked(ctx context.Context, id, remoteID string, status models.TaskStatus, completedAt *time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND remote_id = ?", id, remoteID).
		Updates(statusUpdates(status, completedAt))
	if result.Error != nil {
		return fmt.Errorf("failed to update task status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func statusUpdates(status models.TaskStatus, completedAt *time.Time) map[string]interface{} {
	var completed interface{}
	if completedAt != nil {
		completed = completedAt.UTC()
	}
	return map[string]interface{}{
		"status":       status,
		"completed_at": completed,
		"updated_at":   time.Now().UTC(),
	}
}
