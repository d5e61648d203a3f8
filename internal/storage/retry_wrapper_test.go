package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/retry"
	"plantcare-engine/pkg/types"
)

func newTestWrapper(store TaskStore) *RetryingStore {
	return NewRetryingStore(store, &retry.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}, retry.WithSleep(retry.NoSleep))
}

func TestRetryWrapper_SuccessfulOperations(t *testing.T) {
	mockStore := new(MockStore)
	wrapper := newTestWrapper(mockStore)
	ctx := context.Background()

	t.Run("Create success on first try", func(t *testing.T) {
		task := &types.PlantTask{ID: "t1", PlantID: "p1"}
		mockStore.On("Create", ctx, task).Return(nil).Once()

		err := wrapper.Create(ctx, task)
		assert.NoError(t, err)
		mockStore.AssertExpectations(t)
	})

	t.Run("Get success on first try", func(t *testing.T) {
		task := &types.PlantTask{ID: "t1", PlantID: "p1"}
		mockStore.On("Get", ctx, "t1").Return(task, nil).Once()

		got, err := wrapper.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "p1", got.PlantID)
		mockStore.AssertExpectations(t)
	})
}

func TestRetryWrapper_RetryLogic(t *testing.T) {
	ctx := context.Background()

	t.Run("Query succeeds after transient failure", func(t *testing.T) {
		mockStore := new(MockStore)
		wrapper := newTestWrapper(mockStore)
		filter := types.TaskFilter{PlantID: "p1"}

		mockStore.On("Query", ctx, filter).Return(nil, errors.New("dial tcp: connection refused")).Once()
		mockStore.On("Query", ctx, filter).Return([]types.PlantTask{{ID: "t1"}}, nil).Once()

		tasks, err := wrapper.Query(ctx, filter)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		mockStore.AssertExpectations(t)
	})

	t.Run("Update gives up after max retries", func(t *testing.T) {
		mockStore := new(MockStore)
		wrapper := newTestWrapper(mockStore)
		mutation := types.TaskMutation{TaskID: "t1"}

		mockStore.On("Update", ctx, "t1", mutation).Return(errors.New("database is locked")).Times(3)

		err := wrapper.Update(ctx, "t1", mutation)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		mockStore.AssertExpectations(t)
	})

	t.Run("not found is not retried", func(t *testing.T) {
		mockStore := new(MockStore)
		wrapper := newTestWrapper(mockStore)

		mockStore.On("Get", ctx, "missing").Return(nil, engineerrors.NewNotFound("task", "missing")).Once()

		_, err := wrapper.Get(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, engineerrors.ErrorCodeNotFound, engineerrors.CodeOf(err))
		mockStore.AssertExpectations(t)
	})
}

func TestIsRetryableStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"sqlite busy", errors.New("database is locked"), true},
		{"temporary", &retry.TemporaryError{Err: errors.New("x")}, true},
		{"permanent", retry.Permanent(errors.New("timeout")), false},
		{"canceled", context.Canceled, false},
		{"validation", engineerrors.NewValidationError("id", "required"), false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableStorageError(tt.err))
		})
	}
}

var _ TaskStore = (*MockStore)(nil)