// Package engine exposes the plant-care scheduling core as one facade: task
// generation, environmental adjustment, stage transitions, notification
// batching and overdue escalation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plantcare-engine/internal/escalation"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/metrics"
	"plantcare-engine/internal/push"
	"plantcare-engine/internal/storage"
	"plantcare-engine/internal/tasks"
	"plantcare-engine/pkg/types"
)

// Deps are the collaborators an Engine is assembled from
type Deps struct {
	Store   storage.TaskStore
	Tasks   *tasks.Service
	Batcher *push.Batcher
	Tracker *escalation.Tracker
	Metrics *metrics.Metrics
	Logger  logging.Logger
	Now     func() time.Time
}

// Engine is the entry point used by the HTTP adapter and the CLI
type Engine struct {
	store   storage.TaskStore
	tasks   *tasks.Service
	batcher *push.Batcher
	tracker *escalation.Tracker
	metrics *metrics.Metrics
	logger  logging.Logger
	now     func() time.Time
}

// New assembles an engine; store, task service, batcher and tracker are required
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: task store is required")
	case deps.Tasks == nil:
		return nil, errors.New("engine: task service is required")
	case deps.Batcher == nil:
		return nil, errors.New("engine: notification batcher is required")
	case deps.Tracker == nil:
		return nil, errors.New("engine: escalation tracker is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		store:   deps.Store,
		tasks:   deps.Tasks,
		batcher: deps.Batcher,
		tracker: deps.Tracker,
		metrics: deps.Metrics,
		logger:  deps.Logger.WithComponent("engine"),
		now:     deps.Now,
	}, nil
}

// GenerateTasksForStage generates and stores the plant's tasks for a stage
func (e *Engine) GenerateTasksForStage(ctx context.Context, plant *types.Plant, stage types.GrowthStage) ([]types.PlantTask, error) {
	generated, err := e.tasks.GenerateForStage(ctx, plant, stage)
	e.countGenerated(generated, stage)
	return generated, err
}

// AdjustForConditions reschedules or reprioritizes the plant's pending tasks
func (e *Engine) AdjustForConditions(ctx context.Context, plantID string, conditions types.Conditions) ([]types.TaskMutation, error) {
	var taskTypes map[string]types.TaskType
	if e.metrics != nil {
		pending, err := e.tasks.PendingTasks(ctx, plantID)
		if err == nil {
			taskTypes = make(map[string]types.TaskType, len(pending))
			for _, t := range pending {
				taskTypes[t.ID] = t.TaskType
			}
		}
	}

	mutations, err := e.tasks.AdjustForConditions(ctx, plantID, conditions)
	for _, m := range mutations {
		if tt, ok := taskTypes[m.TaskID]; ok {
			e.metrics.ScheduleAdjusted(string(tt))
		}
	}
	return mutations, err
}

// DetectStageTransition reports the plant's next stage when it is due
func (e *Engine) DetectStageTransition(ctx context.Context, plant *types.Plant) (types.GrowthStage, bool) {
	return e.tasks.DetectTransition(ctx, plant)
}

// AdvanceStage detects a due transition and generates the next stage's tasks
func (e *Engine) AdvanceStage(ctx context.Context, plant *types.Plant) (*tasks.StageAdvance, error) {
	adv, err := e.tasks.AdvanceStage(ctx, plant)
	if err != nil || adv == nil {
		return adv, err
	}
	e.metrics.StageTransitioned(string(adv.From), string(adv.To))
	e.countGenerated(adv.Tasks, adv.To)
	return adv, nil
}

func (e *Engine) countGenerated(generated []types.PlantTask, stage types.GrowthStage) {
	for _, t := range generated {
		e.metrics.TaskGenerated(string(t.TaskType), string(stage))
	}
}

// EnqueueNotification queues one request with the batcher
func (e *Engine) EnqueueNotification(ctx context.Context, req types.NotificationBatchRequest) error {
	return e.batcher.Enqueue(ctx, req)
}

// NotifyTasks enqueues every pending task of the plant due within the window
// and returns how many were enqueued.
func (e *Engine) NotifyTasks(ctx context.Context, plant *types.Plant, within time.Duration) (int, error) {
	if plant == nil || plant.ID == "" {
		return 0, fmt.Errorf("notify tasks: plant id is required")
	}
	cutoff := e.now().Add(within)
	pending, err := e.store.Query(ctx, types.TaskFilter{
		PlantID:   plant.ID,
		Statuses:  []types.TaskStatus{types.TaskStatusPending},
		DueBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks to notify: %w", err)
	}

	for i := range pending {
		if err := e.batcher.Enqueue(ctx, types.RequestFromTask(&pending[i], plant.Name)); err != nil {
			return i, fmt.Errorf("failed to enqueue task %s: %w", pending[i].ID, err)
		}
	}
	e.logger.DebugContext(ctx, "plant tasks enqueued", "plant_id", plant.ID, "count", len(pending))
	return len(pending), nil
}

// CancelNotification withdraws a task's queued notification and stops its escalation
func (e *Engine) CancelNotification(ctx context.Context, taskID string) push.CancelOutcome {
	outcome, _ := e.batcher.Cancel(ctx, taskID)
	e.tracker.Forget(ctx, taskID)
	return outcome
}

// SetTaskStatus records a status change. Leaving pending cancels the task's
// outstanding notification and escalation.
func (e *Engine) SetTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (*types.PlantTask, error) {
	task, err := e.tasks.SetStatus(ctx, taskID, status)
	if err != nil {
		return nil, err
	}
	if status != types.TaskStatusPending {
		e.CancelNotification(ctx, taskID)
		e.batcher.Forget(taskID)
	}
	return task, nil
}

// PendingTasks lists a plant's pending tasks
func (e *Engine) PendingTasks(ctx context.Context, plantID string) ([]types.PlantTask, error) {
	return e.tasks.PendingTasks(ctx, plantID)
}

// CreateSeries stores a recurring task series
func (e *Engine) CreateSeries(ctx context.Context, template tasks.SeriesTemplate, from, until time.Time) ([]types.PlantTask, error) {
	return e.tasks.CreateSeries(ctx, template, from, until)
}

// RunEscalationSweep runs one overdue sweep
func (e *Engine) RunEscalationSweep(ctx context.Context) *escalation.SweepReport {
	return e.tracker.Sweep(ctx)
}

// RunEscalations sweeps on an interval until ctx is done
func (e *Engine) RunEscalations(ctx context.Context, interval time.Duration) error {
	return e.tracker.Run(ctx, interval)
}

// Escalations returns the tracked escalation states
func (e *Engine) Escalations() []types.EscalationState {
	return e.tracker.States()
}

// Flush dispatches everything the batcher holds
func (e *Engine) Flush(ctx context.Context) *push.FlushReport {
	return e.batcher.Flush(ctx)
}

// BatcherState reports the batcher's accumulation state
func (e *Engine) BatcherState() push.State {
	return e.batcher.State()
}

// Close flushes pending notifications and waits for in-flight flushes
func (e *Engine) Close(ctx context.Context) error {
	report, err := e.batcher.Close(ctx)
	if report != nil && len(report.Failed) > 0 {
		e.logger.WarnContext(ctx, "batches failed during shutdown flush", "failed", len(report.Failed))
	}
	return err
}
