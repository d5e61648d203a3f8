// Package storage provides plant task persistence.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/pkg/types"
)

// TaskStore is the CRUD surface every backend implements
type TaskStore interface {
	Create(ctx context.Context, task *types.PlantTask) error
	Get(ctx context.Context, id string) (*types.PlantTask, error)
	Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error)
	Update(ctx context.Context, id string, mutation types.TaskMutation) error
}

// MemoryStore keeps tasks in a map; used by default and in tests
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]types.PlantTask
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]types.PlantTask),
		now:   time.Now,
	}
}

// Create stores a copy of task; ids must be unique
func (s *MemoryStore) Create(ctx context.Context, task *types.PlantTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task == nil || task.ID == "" {
		return engineerrors.NewValidationError("id", "required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return engineerrors.New(engineerrors.ErrorCodeValidation, "task "+task.ID+" already exists").
			WithDetail("id", task.ID)
	}
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

// Get returns a copy of one task
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.PlantTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, engineerrors.NewNotFound("task", id)
	}
	c := cloneTask(task)
	return &c, nil
}

// Query returns matching tasks ordered by due date, then sequence number
func (s *MemoryStore) Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]types.PlantTask, 0)
	for _, task := range s.tasks {
		task := task
		if filter.Matches(&task) {
			out = append(out, cloneTask(task))
		}
	}
	s.mu.RUnlock()

	SortTasks(out)
	return out, nil
}

// Update applies a mutation to a stored task
func (s *MemoryStore) Update(ctx context.Context, id string, mutation types.TaskMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return engineerrors.NewNotFound("task", id)
	}
	mutation.Apply(&task)
	task.UpdatedAt = s.now()
	s.tasks[id] = task
	return nil
}

// Len returns the number of stored tasks
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// SortTasks orders tasks by due date, sequence number and id
func SortTasks(tasks []types.PlantTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
		return a.ID < b.ID
	})
}

func cloneTask(t types.PlantTask) types.PlantTask {
	if t.TemplateID != nil {
		v := *t.TemplateID
		t.TemplateID = &v
	}
	if t.EnvironmentalConditions != nil {
		c := *t.EnvironmentalConditions
		t.EnvironmentalConditions = &c
	}
	if t.EscalationStartTime != nil {
		v := *t.EscalationStartTime
		t.EscalationStartTime = &v
	}
	return t
}
