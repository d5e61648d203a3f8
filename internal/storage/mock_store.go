package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"plantcare-engine/pkg/types"
)

// MockStore is a testify mock of TaskStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, task *types.PlantTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*types.PlantTask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.PlantTask), args.Error(1)
}

func (m *MockStore) Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.PlantTask), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, id string, mutation types.TaskMutation) error {
	args := m.Called(ctx, id, mutation)
	return args.Error(0)
}
