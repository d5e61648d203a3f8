package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/retry"
	"plantcare-engine/pkg/types"
)

// RetryingStore wraps a TaskStore with retry logic for transient failures
type RetryingStore struct {
	store   TaskStore
	retrier *retry.Retrier
}

// NewRetryingStore creates a new retrying task store
func NewRetryingStore(store TaskStore, config *retry.Config, opts ...retry.Option) *RetryingStore {
	if config == nil {
		config = defaultRetryConfig()
	}
	if config.RetryIf == nil {
		config.RetryIf = isRetryableStorageError
	}
	return &RetryingStore{
		store:   store,
		retrier: retry.New(config, opts...),
	}
}

// defaultRetryConfig returns the default retry configuration for storage operations
func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		MaxJitter:  50 * time.Millisecond,
		RetryIf:    isRetryableStorageError,
	}
}

// isRetryableStorageError determines if a storage error should be retried
func isRetryableStorageError(err error) bool {
	if err == nil || !retry.DefaultRetryIf(err) {
		return false
	}

	switch engineerrors.CodeOf(err) {
	case engineerrors.ErrorCodeNotFound, engineerrors.ErrorCodeValidation:
		return false
	}

	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"database is locked",
		"too many connections",
		"bad connection",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Create creates a task with retries
func (r *RetryingStore) Create(ctx context.Context, task *types.PlantTask) error {
	result := r.retrier.Do(ctx, func(ctx context.Context, _ int) error {
		return r.store.Create(ctx, task)
	})
	if result.Err != nil {
		return fmt.Errorf("failed to create task after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

// Get gets a task by id with retries
func (r *RetryingStore) Get(ctx context.Context, id string) (*types.PlantTask, error) {
	var task *types.PlantTask
	result := r.retrier.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		task, err = r.store.Get(ctx, id)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("failed to get task after %d attempts: %w", result.Attempts, result.Err)
	}
	return task, nil
}

// Query lists tasks with retries
func (r *RetryingStore) Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error) {
	var tasks []types.PlantTask
	result := r.retrier.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		tasks, err = r.store.Query(ctx, filter)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("query failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return tasks, nil
}

// Update updates a task with retries
func (r *RetryingStore) Update(ctx context.Context, id string, mutation types.TaskMutation) error {
	result := r.retrier.Do(ctx, func(ctx context.Context, _ int) error {
		return r.store.Update(ctx, id, mutation)
	})
	if result.Err != nil {
		return fmt.Errorf("failed to update task after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}
