package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantcare-engine/internal/activity"
	"plantcare-engine/internal/escalation"
	"plantcare-engine/internal/growth"
	"plantcare-engine/internal/metrics"
	"plantcare-engine/internal/push"
	"plantcare-engine/internal/retry"
	"plantcare-engine/internal/storage"
	"plantcare-engine/internal/strain"
	"plantcare-engine/internal/tasks"
	"plantcare-engine/pkg/types"
)

var engineNow = time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)

type fixture struct {
	engine     *Engine
	store      *storage.MemoryStore
	dispatcher *push.LogDispatcher
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return engineNow }
	tables := growth.Default()
	store := storage.NewMemoryStore()
	dispatcher := push.NewLogDispatcher(nil)
	_, m := metrics.NewRegistry()

	service := tasks.NewService(store,
		tasks.NewGenerator(tables, tasks.DefaultGeneratorConfig(), nil, tasks.WithClock(clock)),
		tasks.NewTransitionDetector(tables, clock),
		strain.NewResolver(strain.NewMemoryDirectory(nil), nil),
		nil)
	profiles := activity.NewStaticProvider()
	batcher := push.NewBatcher(dispatcher, profiles, push.Config{MaxBatchSize: 50, BatchTimeout: time.Hour}, nil,
		push.WithClock(clock),
		push.WithMetrics(m),
		push.WithRetryOptions(retry.WithSleep(retry.NoSleep)))
	tracker := escalation.NewTracker(store, dispatcher, profiles, nil,
		escalation.WithClock(clock),
		escalation.WithMetrics(m))

	e, err := New(Deps{
		Store:   store,
		Tasks:   service,
		Batcher: batcher,
		Tracker: tracker,
		Metrics: m,
		Now:     clock,
	})
	require.NoError(t, err)
	return &fixture{engine: e, store: store, dispatcher: dispatcher, metrics: m}
}

func plant(stage types.GrowthStage) *types.Plant {
	return &types.Plant{
		ID:          "plant-1",
		UserID:      "user-1",
		Name:        "Blue Dream",
		PlantedDate: engineNow.AddDate(0, 0, -20),
		GrowthStage: stage,
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Store: storage.NewMemoryStore()})
	assert.Error(t, err)
}

func TestEngine_GenerateNotifyAndFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	generated, err := f.engine.GenerateTasksForStage(ctx, plant(types.StageVegetative), types.StageVegetative)
	require.NoError(t, err)
	require.Len(t, generated, 9)
	assert.Equal(t, 9.0, testutil.ToFloat64(f.metrics.TasksGenerated.WithLabelValues("watering", "vegetative"))+
		testutil.ToFloat64(f.metrics.TasksGenerated.WithLabelValues("feeding", "vegetative"))+
		testutil.ToFloat64(f.metrics.TasksGenerated.WithLabelValues("inspection", "vegetative"))+
		testutil.ToFloat64(f.metrics.TasksGenerated.WithLabelValues("pruning", "vegetative"))+
		testutil.ToFloat64(f.metrics.TasksGenerated.WithLabelValues("training", "vegetative")))

	n, err := f.engine.NotifyTasks(ctx, plant(types.StageVegetative), 8*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, push.StateAccumulating, f.engine.BatcherState())

	report := f.engine.Flush(ctx)
	assert.Empty(t, report.Failed)
	assert.Zero(t, report.Skipped)

	seen := make(map[string]bool)
	for _, b := range report.Dispatched {
		for _, id := range b.TaskIDs() {
			assert.False(t, seen[id], "task %s dispatched twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 9)
	assert.Len(t, f.dispatcher.Scheduled(), len(report.Dispatched))
}

func TestEngine_NotifyTasksRespectsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.GenerateTasksForStage(ctx, plant(types.StageVegetative), types.StageVegetative)
	require.NoError(t, err)

	n, err := f.engine.NotifyTasks(ctx, plant(types.StageVegetative), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.engine.NotifyTasks(ctx, &types.Plant{}, time.Hour)
	assert.Error(t, err)
}

func TestEngine_SetTaskStatusCancelsNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	generated, err := f.engine.GenerateTasksForStage(ctx, plant(types.StageGermination), types.StageGermination)
	require.NoError(t, err)
	_, err = f.engine.NotifyTasks(ctx, plant(types.StageGermination), 8*24*time.Hour)
	require.NoError(t, err)

	done := generated[0].ID
	task, err := f.engine.SetTaskStatus(ctx, done, types.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)

	report := f.engine.Flush(ctx)
	for _, b := range report.Dispatched {
		assert.NotContains(t, b.TaskIDs(), done)
	}
	assert.Equal(t, push.CancelNotFound, f.engine.CancelNotification(ctx, done))

	pending, err := f.engine.PendingTasks(ctx, "plant-1")
	require.NoError(t, err)
	assert.Len(t, pending, len(generated)-1)
}

func TestEngine_SetTaskStatusForgetsDispatchedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.GenerateTasksForStage(ctx, plant(types.StageGermination), types.StageGermination)
	require.NoError(t, err)
	_, err = f.engine.NotifyTasks(ctx, plant(types.StageGermination), 8*24*time.Hour)
	require.NoError(t, err)

	report := f.engine.Flush(ctx)
	require.NotEmpty(t, report.Dispatched)
	sent := report.Dispatched[0].Notifications[0].TaskID
	assert.Equal(t, push.CancelAlreadySent, f.engine.CancelNotification(ctx, sent))

	_, err = f.engine.SetTaskStatus(ctx, sent, types.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, push.CancelNotFound, f.engine.CancelNotification(ctx, sent))
}

func TestEngine_AdjustForConditionsCountsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.GenerateTasksForStage(ctx, plant(types.StageGermination), types.StageGermination)
	require.NoError(t, err)

	humidity := 85.0
	mutations, err := f.engine.AdjustForConditions(ctx, "plant-1", types.Conditions{Humidity: &humidity, RecordedAt: engineNow})
	require.NoError(t, err)
	require.NotEmpty(t, mutations)

	byType := make(map[types.TaskType]int)
	for _, m := range mutations {
		task, err := f.store.Get(ctx, m.TaskID)
		require.NoError(t, err)
		byType[task.TaskType]++
	}
	for tt, count := range byType {
		assert.Equal(t, float64(count), testutil.ToFloat64(f.metrics.ScheduleAdjustments.WithLabelValues(string(tt))))
	}
}

func TestEngine_AdvanceStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := plant(types.StageVegetative)
	started := engineNow.AddDate(0, 0, -200)
	p.StageStartedAt = &started

	next, ok := f.engine.DetectStageTransition(ctx, p)
	require.True(t, ok)
	assert.Equal(t, types.StagePreFlower, next)

	adv, err := f.engine.AdvanceStage(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, adv)
	assert.Equal(t, types.StagePreFlower, adv.To)
	assert.NotEmpty(t, adv.Tasks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageTransitions.WithLabelValues("vegetative", "pre_flower")))

	fresh := plant(types.StageVegetative)
	now := engineNow
	fresh.StageStartedAt = &now
	adv, err = f.engine.AdvanceStage(ctx, fresh)
	require.NoError(t, err)
	assert.Nil(t, adv)
}

func TestEngine_EscalationSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &types.PlantTask{
		ID:       "overdue-1",
		PlantID:  "plant-1",
		UserID:   "user-1",
		TaskType: types.TaskFeeding,
		Title:    "Feed Blue Dream",
		DueDate:  engineNow.Add(-30 * time.Hour),
		Status:   types.TaskStatusPending,
		Priority: types.PriorityMedium,
	}))

	report := f.engine.RunEscalationSweep(ctx)
	assert.Equal(t, 1, report.Notified)
	require.Len(t, f.engine.Escalations(), 1)
	assert.Equal(t, types.EscalationUrgent, f.engine.Escalations()[0].Level)

	_, err := f.engine.SetTaskStatus(ctx, "overdue-1", types.TaskStatusSkipped)
	require.NoError(t, err)
	assert.Empty(t, f.engine.Escalations())
}

func TestEngine_CloseFlushesAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := types.NotificationBatchRequest{
		TaskID:   "t1",
		PlantID:  "plant-1",
		UserID:   "user-1",
		TaskType: types.TaskWatering,
		Title:    "Water Blue Dream",
		DueDate:  engineNow.Add(3 * time.Hour),
		Priority: types.PriorityMedium,
	}
	require.NoError(t, f.engine.EnqueueNotification(ctx, req))
	require.NoError(t, f.engine.Close(ctx))

	assert.Len(t, f.dispatcher.Scheduled(), 1)
	assert.ErrorIs(t, f.engine.EnqueueNotification(ctx, req), push.ErrBatcherClosed)
}
