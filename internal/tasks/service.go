package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/logging"
	"plantcare-engine/pkg/types"
)

// Store defines the CRUD surface the engine needs from task persistence
type Store interface {
	Create(ctx context.Context, task *types.PlantTask) error
	Get(ctx context.Context, id string) (*types.PlantTask, error)
	Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error)
	Update(ctx context.Context, id string, mutation types.TaskMutation) error
}

// StrainResolver resolves a plant's strain; implementations never fail
type StrainResolver interface {
	Resolve(ctx context.Context, plant *types.Plant) types.StrainCharacteristics
}

// Service provides task business logic. Writes to one plant's task set are serialized.
type Service struct {
	store     Store
	generator *Generator
	adjuster  *Adjuster
	detector  *TransitionDetector
	resolver  StrainResolver
	locks     *keyedMutex
	logger    logging.Logger
}

// NewService creates a new task service
func NewService(store Store, generator *Generator, detector *TransitionDetector, resolver StrainResolver, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Service{
		store:     store,
		generator: generator,
		adjuster:  NewAdjuster(),
		detector:  detector,
		resolver:  resolver,
		locks:     newKeyedMutex(),
		logger:    logger.WithComponent("task_service"),
	}
}

// GenerateForStage resolves the plant's strain, generates tasks for stage and persists them
func (s *Service) GenerateForStage(ctx context.Context, plant *types.Plant, stage types.GrowthStage) ([]types.PlantTask, error) {
	if err := validatePlant(plant); err != nil {
		return nil, err
	}
	strain := s.resolver.Resolve(ctx, plant)
	generated := s.generator.Generate(ctx, plant, stage, strain)

	unlock := s.locks.Lock(plant.ID)
	defer unlock()

	for i := range generated {
		if err := s.store.Create(ctx, &generated[i]); err != nil {
			return generated[:i], fmt.Errorf("failed to create task: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "tasks generated for stage",
		"plant_id", plant.ID, "user_id", plant.UserID, "stage", string(stage),
		"count", len(generated), "strain_confidence", string(strain.Confidence))
	return generated, nil
}

// CreateSeries generates a recurring series and persists it in sequence order
func (s *Service) CreateSeries(ctx context.Context, template SeriesTemplate, from, until time.Time) ([]types.PlantTask, error) {
	series, err := s.generator.GenerateSeries(template, from, until)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(template.PlantID)
	defer unlock()

	for i := range series {
		if err := s.store.Create(ctx, &series[i]); err != nil {
			return series[:i], fmt.Errorf("failed to create series task: %w", err)
		}
	}
	return series, nil
}

// AdjustForConditions applies environmental rules to the plant's pending tasks
// and persists the resulting mutations.
func (s *Service) AdjustForConditions(ctx context.Context, plantID string, conditions types.Conditions) ([]types.TaskMutation, error) {
	if plantID == "" {
		return nil, engineerrors.NewValidationError("plant_id", "required")
	}

	unlock := s.locks.Lock(plantID)
	defer unlock()

	pending, err := s.store.Query(ctx, types.TaskFilter{
		PlantID:  plantID,
		Statuses: []types.TaskStatus{types.TaskStatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}

	mutations := s.adjuster.Adjust(pending, conditions)
	for i, m := range mutations {
		if err := s.store.Update(ctx, m.TaskID, m); err != nil {
			return mutations[:i], fmt.Errorf("failed to update task %s: %w", m.TaskID, err)
		}
	}

	if len(mutations) > 0 {
		s.logger.InfoContext(ctx, "schedule adjusted for conditions",
			"plant_id", plantID, "pending", len(pending), "mutations", len(mutations))
	}
	return mutations, nil
}

// DetectTransition reports the plant's next stage if it is due
func (s *Service) DetectTransition(ctx context.Context, plant *types.Plant) (types.GrowthStage, bool) {
	if plant == nil {
		return "", false
	}
	return s.detector.Detect(plant, s.resolver.Resolve(ctx, plant))
}

// StageAdvance describes a detected transition and the tasks generated for it
type StageAdvance struct {
	From  types.GrowthStage `json:"from"`
	To    types.GrowthStage `json:"to"`
	Tasks []types.PlantTask `json:"tasks"`
}

// AdvanceStage detects a due transition and generates the new stage's tasks.
// Persisting the plant's new stage is left to the caller.
func (s *Service) AdvanceStage(ctx context.Context, plant *types.Plant) (*StageAdvance, error) {
	if err := validatePlant(plant); err != nil {
		return nil, err
	}
	next, ok := s.DetectTransition(ctx, plant)
	if !ok {
		return nil, nil
	}
	generated, err := s.GenerateForStage(ctx, plant, next)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "plant advanced stage",
		"plant_id", plant.ID, "from", string(plant.GrowthStage), "to", string(next))
	return &StageAdvance{From: plant.GrowthStage, To: next, Tasks: generated}, nil
}

// PendingTasks returns a plant's pending tasks
func (s *Service) PendingTasks(ctx context.Context, plantID string) ([]types.PlantTask, error) {
	return s.store.Query(ctx, types.TaskFilter{
		PlantID:  plantID,
		Statuses: []types.TaskStatus{types.TaskStatusPending},
	})
}

// SetStatus moves a task to completed, skipped or back to pending
func (s *Service) SetStatus(ctx context.Context, taskID string, status types.TaskStatus) (*types.PlantTask, error) {
	switch status {
	case types.TaskStatusPending, types.TaskStatusCompleted, types.TaskStatusSkipped:
	default:
		return nil, engineerrors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(task.PlantID)
	defer unlock()

	if err := s.store.Update(ctx, taskID, types.TaskMutation{TaskID: taskID, Status: &status}); err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	task.Status = status
	return task, nil
}

func validatePlant(plant *types.Plant) error {
	if plant == nil {
		return engineerrors.NewValidationError("plant", "required")
	}
	if plant.ID == "" {
		return engineerrors.NewValidationError("plant.id", "required")
	}
	if plant.UserID == "" {
		return engineerrors.NewValidationError("plant.user_id", "required")
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
