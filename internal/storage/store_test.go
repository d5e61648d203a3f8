package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/pkg/types"
)

func newSQLiteStore(t *testing.T) *TaskRepository {
	t.Helper()
	repo, err := Open(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleTask(id, plantID string, due time.Time, seq int) *types.PlantTask {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &types.PlantTask{
		ID:                       id,
		PlantID:                  plantID,
		UserID:                   "user-1",
		TaskType:                 types.TaskWatering,
		Title:                    "Water Blue Dream",
		DueDate:                  due,
		Status:                   types.TaskStatusPending,
		Priority:                 types.PriorityHigh,
		EstimatedDurationMinutes: 15,
		AutoGenerated:            true,
		SequenceNumber:           seq,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

func storeBackends(t *testing.T) map[string]TaskStore {
	return map[string]TaskStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			humidity := 72.5
			task := sampleTask("t1", "p1", due, 1)
			task.EnvironmentalConditions = &types.Conditions{Humidity: &humidity, RecordedAt: due}
			templateID := "tpl-1"
			task.TemplateID = &templateID

			require.NoError(t, store.Create(ctx, task))

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "p1", got.PlantID)
			assert.Equal(t, types.TaskWatering, got.TaskType)
			assert.Equal(t, types.PriorityHigh, got.Priority)
			assert.True(t, got.DueDate.Equal(due))
			assert.True(t, got.AutoGenerated)
			require.NotNil(t, got.TemplateID)
			assert.Equal(t, "tpl-1", *got.TemplateID)
			require.NotNil(t, got.EnvironmentalConditions)
			require.NotNil(t, got.EnvironmentalConditions.Humidity)
			assert.InDelta(t, 72.5, *got.EnvironmentalConditions.Humidity, 0.001)
			assert.Nil(t, got.EscalationStartTime)
		})
	}
}

func TestTaskStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "nope")
			require.Error(t, err)
			assert.Equal(t, engineerrors.ErrorCodeNotFound, engineerrors.CodeOf(err))
		})
	}
}

func TestTaskStore_DuplicateCreateFails(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create(ctx, sampleTask("dup", "p1", due, 1)))
			assert.Error(t, store.Create(ctx, sampleTask("dup", "p1", due, 1)))
		})
	}
}

func TestTaskStore_QueryOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create(ctx, sampleTask("c", "p1", base.AddDate(0, 0, 2), 2)))
			require.NoError(t, store.Create(ctx, sampleTask("a", "p1", base, 1)))
			require.NoError(t, store.Create(ctx, sampleTask("b", "p2", base.AddDate(0, 0, 1), 1)))
			done := sampleTask("d", "p1", base.AddDate(0, 0, 3), 3)
			done.Status = types.TaskStatusCompleted
			require.NoError(t, store.Create(ctx, done))

			all, err := store.Query(ctx, types.TaskFilter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, []string{"a", "b", "c", "d"}, ids(all))

			pending, err := store.Query(ctx, types.TaskFilter{
				PlantID:  "p1",
				Statuses: []types.TaskStatus{types.TaskStatusPending},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, ids(pending))

			cutoff := base.AddDate(0, 0, 2)
			before, err := store.Query(ctx, types.TaskFilter{DueBefore: &cutoff})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(before))

			after, err := store.Query(ctx, types.TaskFilter{DueAfter: &cutoff})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d"}, ids(after))

			none, err := store.Query(ctx, types.TaskFilter{TaskTypes: []types.TaskType{types.TaskHarvest}})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestTaskStore_Update(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create(ctx, sampleTask("t1", "p1", due, 1)))

			newDue := due.Add(12 * time.Hour)
			priority := types.PriorityCritical
			status := types.TaskStatusCompleted
			escalated := due.Add(time.Hour)
			require.NoError(t, store.Update(ctx, "t1", types.TaskMutation{
				TaskID:              "t1",
				DueDate:             &newDue,
				Priority:            &priority,
				Status:              &status,
				EscalationStartTime: &escalated,
			}))

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, got.DueDate.Equal(newDue))
			assert.Equal(t, types.PriorityCritical, got.Priority)
			assert.Equal(t, types.TaskStatusCompleted, got.Status)
			require.NotNil(t, got.EscalationStartTime)
			assert.True(t, got.EscalationStartTime.Equal(escalated))
			assert.Equal(t, "Water Blue Dream", got.Title)

			err = store.Update(ctx, "missing", types.TaskMutation{Priority: &priority})
			require.Error(t, err)
			assert.Equal(t, engineerrors.ErrorCodeNotFound, engineerrors.CodeOf(err))
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, sampleTask("t1", "p1", time.Now(), 1)))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	got.Title = "changed"

	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Water Blue Dream", again.Title)
	assert.Equal(t, 1, store.Len())
}

func TestRebind(t *testing.T) {
	pg := NewTaskRepository(nil, DialectPostgres)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	lite := NewTaskRepository(nil, DialectSQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "")
	assert.Error(t, err)
}

func ids(tasks []types.PlantTask) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}
