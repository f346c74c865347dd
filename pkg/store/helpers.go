package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
)

// ============================================================================
// Generic GORM Helpers
// ============================================================================
//
// These helpers reduce repetitive CRUD boilerplate across store implementation
// files. They are unexported (package-internal) and operate on the raw *gorm.DB
// to avoid coupling to GORMStore. Each helper handles standard concerns like
// context propagation, preloading, not-found error conversion, and unique
// constraint detection.

// getByField retrieves a single record of type T by matching field=value.
// It applies optional GORM Preload clauses and converts gorm.ErrRecordNotFound
// to the provided notFoundErr for consistent domain error mapping.
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error, preloads ...string) (*T, error) {
	var result T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// listAll retrieves all records of type T, applying optional GORM Preload
// clauses. Returns an empty slice (not nil) on success with no records.
func listAll[T any](db *gorm.DB, ctx context.Context, preloads ...string) ([]*T, error) {
	var results []*T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// create inserts the entity, converting unique constraint violations to
// dupErr for consistent error handling.
func create[T any](db *gorm.DB, ctx context.Context, entity *T, dupErr error) error {
	if err := db.WithContext(ctx).Create(entity).Error; err != nil {
		if isUniqueConstraintError(err) {
			return dupErr
		}
		return err
	}
	return nil
}

// deleteByField deletes records of type T matching field=value.
// Returns notFoundErr if no rows were affected.
func deleteByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) error {
	var zero T
	result := db.WithContext(ctx).Where(field+" = ?", value).Delete(&zero)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFoundErr
	}
	return nil
}

// deadlockRetryAttempts bounds the commit retry loop. The delay doubles on
// every attempt starting from deadlockRetryBase.
const (
	deadlockRetryAttempts = 3
	deadlockRetryBase     = 100 * time.Millisecond
)

// WithRetry runs fn inside a transaction and retries the whole transaction
// with exponential backoff (0.1s x 2^n) when the backend reports a deadlock
// or a lock timeout. Non-deadlock errors abort immediately; after the last
// attempt the deadlock error surfaces to the caller.
func (s *GORMStore) WithRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(deadlockRetryBase),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0),
		),
		deadlockRetryAttempts-1,
	), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isDeadlockError(err) {
			logger.Warn("Transaction deadlocked, retrying", "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
