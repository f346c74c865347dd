package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// TASK OPERATIONS
// ============================================

func (s *GORMStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.MaxAttempts == 0 {
		task.MaxAttempts = 3
	}
	return s.WithRetry(ctx, func(tx *gorm.DB) error {
		return tx.Create(task).Error
	})
}

func (s *GORMStore) GetTask(ctx context.Context, id uint) (*models.Task, error) {
	return getByField[models.Task](s.db, ctx, "id", id, models.ErrTaskNotFound)
}

// SaveTask persists the full task row. Tasks are only mutated by the
// orchestrator, which holds the tick lock, so a blanket save is safe here.
// The commit goes through the deadlock-retry path; with multiple workers
// on postgres the save can collide with a sibling sweep.
func (s *GORMStore) SaveTask(ctx context.Context, task *models.Task) error {
	return s.WithRetry(ctx, func(tx *gorm.DB) error {
		return tx.Save(task).Error
	})
}

// Ready returns tasks eligible for execution: pending or retry, schedule
// time reached, oldest first. On PostgreSQL the rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple workers sweep disjoint batches.
func (s *GORMStore) Ready(ctx context.Context, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	q := s.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.TaskPending, models.TaskRetry}).
		Where("next_execution_at IS NOT NULL AND next_execution_at <= ?", time.Now().UTC()).
		Order("created_at ASC").
		Limit(limit)
	if s.SupportsSkipLocked() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// AwaitingDependency returns pending tasks of any kind whose schedule time
// is unset. Their payload names the prerequisite task; the orchestrator
// promotes them once it completes. Change chains queue workflow-kind
// dependents too, so the sweep must not filter on kind or a crash between
// a prerequisite completing and its eager promotion would strand the chain.
func (s *GORMStore) AwaitingDependency(ctx context.Context, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_execution_at IS NULL", models.TaskPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.DependsOn() != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *GORMStore) SiblingsOf(ctx context.Context, requestID uint) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTasks returns tasks filtered by status (empty status means all),
// newest first, bounded by limit (0 means no bound).
func (s *GORMStore) ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// PurgeTasksBefore deletes terminal tasks older than the cut-off and
// returns the number of rows removed.
func (s *GORMStore) PurgeTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.TaskCompleted, models.TaskFailed, models.TaskCancelled}).
		Where("created_at < ?", cutoff).
		Delete(&models.Task{})
	return result.RowsAffected, result.Error
}
