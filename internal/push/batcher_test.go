package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"plantcare-engine/internal/activity"
	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/retry"
	"plantcare-engine/pkg/types"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Schedule(ctx context.Context, n Notification, fireIn time.Duration) (string, error) {
	args := m.Called(ctx, n, fireIn)
	return args.String(0), args.Error(1)
}

func (m *mockDispatcher) Cancel(ctx context.Context, notificationID string) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

var batcherNow = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

func newTestBatcher(d Dispatcher, cfg Config) *Batcher {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Hour
	}
	ids := 0
	b := NewBatcher(d, activity.NewStaticProvider(), cfg, logging.NewNoOpLogger(),
		WithClock(func() time.Time { return batcherNow }),
		WithRetryOptions(retry.WithSleep(retry.NoSleep)),
	)
	b.newID = func() string {
		ids++
		return fmt.Sprintf("batch-%d", ids)
	}
	return b
}

func request(taskID, plantID string, due time.Time, priority types.Priority) types.NotificationBatchRequest {
	return types.NotificationBatchRequest{
		TaskID:    taskID,
		PlantID:   plantID,
		PlantName: "Blue Dream",
		TaskType:  types.TaskWatering,
		Title:     "Water Blue Dream",
		DueDate:   due,
		Priority:  priority,
		UserID:    "user-1",
	}
}

func dueAt(hour, minute int) time.Time {
	return time.Date(2026, 6, 10, hour, minute, 0, 0, time.UTC)
}

func TestFlush_ThreeWateringsFormOneDailyBatch(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif-1", nil).Once()

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))
	require.NoError(t, b.Enqueue(ctx, request("t2", "p1", dueAt(10, 30), types.PriorityMedium)))
	require.NoError(t, b.Enqueue(ctx, request("t3", "p1", dueAt(14, 0), types.PriorityMedium)))
	assert.Equal(t, StateAccumulating, b.State())

	report := b.Flush(ctx)

	require.Len(t, report.Dispatched, 1)
	batch := report.Dispatched[0]
	assert.Equal(t, types.BatchDaily, batch.BatchType)
	assert.Equal(t, []string{"t1", "t2", "t3"}, batch.TaskIDs())
	// 10:00 less the 30 minute watering lead
	assert.Equal(t, dueAt(9, 30), batch.ScheduledTime)
	assert.Equal(t, types.PriorityMedium, batch.Priority)
	assert.Empty(t, report.Failed)
	assert.Equal(t, StateIdle, b.State())

	n := d.Calls[0].Arguments.Get(1).(Notification)
	assert.Equal(t, "Blue Dream needs care", n.Title)
	assert.Equal(t, "3 tasks due: Watering", n.Body)
	assert.Equal(t, 90*time.Minute, d.Calls[0].Arguments.Get(2).(time.Duration))
	d.AssertExpectations(t)
}

func TestFlush_DedupCoversSnapshotExactlyOnce(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 2})
	ctx := context.Background()
	reqs := []types.NotificationBatchRequest{
		request("t1", "p1", dueAt(10, 0), types.PriorityHigh),
		request("t2", "p1", dueAt(11, 0), types.PriorityLow),
		request("t3", "p2", dueAt(12, 0), types.PriorityHigh),
		request("t4", "p2", dueAt(12, 0).AddDate(0, 0, 1), types.PriorityMedium),
		request("t5", "p3", dueAt(13, 0).AddDate(0, 0, 2), types.PriorityHigh),
	}
	// queued directly so the size trigger does not split the snapshot
	b.pending = append(b.pending, reqs...)
	report := b.Flush(ctx)

	seen := make(map[string]int)
	for _, batch := range report.Dispatched {
		assert.NotEmpty(t, batch.Notifications)
		assert.LessOrEqual(t, len(batch.Notifications), 2)
		for _, n := range batch.Notifications {
			seen[n.TaskID]++
			assert.Equal(t, "user-1", batch.UserID)
		}
	}
	assert.Len(t, seen, len(reqs))
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s placed more than once", id)
	}
}

func TestFlush_ConfigurableStrategyOrder(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{
		MaxBatchSize:  20,
		StrategyOrder: []types.BatchType{types.BatchPriorityGrouped, types.BatchDaily},
	})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityHigh)))
	require.NoError(t, b.Enqueue(ctx, request("t2", "p2", dueAt(11, 0), types.PriorityLow)))

	report := b.Flush(ctx)
	require.Len(t, report.Dispatched, 2)
	assert.Equal(t, types.BatchPriorityGrouped, report.Dispatched[0].BatchType)
	assert.Equal(t, []string{"t1"}, report.Dispatched[0].TaskIDs())
	assert.Equal(t, types.BatchDaily, report.Dispatched[1].BatchType)
	assert.Equal(t, []string{"t2"}, report.Dispatched[1].TaskIDs())
}

func TestFlush_SplitsBatchesByUser(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	other := request("t2", "p9", dueAt(10, 0), types.PriorityMedium)
	other.UserID = "user-2"
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))
	require.NoError(t, b.Enqueue(ctx, other))

	report := b.Flush(ctx)
	require.Len(t, report.Dispatched, 2)
	assert.NotEqual(t, report.Dispatched[0].UserID, report.Dispatched[1].UserID)
}

func TestEnqueue_CriticalTriggersFlush(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	flushed := make(chan *FlushReport, 1)
	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	b.onFlush = func(r *FlushReport) { flushed <- r }

	require.NoError(t, b.Enqueue(context.Background(), request("t1", "p1", dueAt(12, 0), types.PriorityCritical)))

	select {
	case r := <-flushed:
		require.Len(t, r.Dispatched, 1)
		assert.Equal(t, types.PriorityCritical, r.Dispatched[0].Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("critical request did not trigger a flush")
	}
	assert.Equal(t, 0, b.Pending())
}

func TestEnqueue_SizeTriggersFlush(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	flushed := make(chan *FlushReport, 1)
	b := newTestBatcher(d, Config{MaxBatchSize: 3})
	b.onFlush = func(r *FlushReport) { flushed <- r }

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Enqueue(ctx, request(fmt.Sprintf("t%d", i), "p1", dueAt(10+i, 0), types.PriorityMedium)))
	}

	select {
	case r := <-flushed:
		require.Len(t, r.Dispatched, 1)
		assert.Len(t, r.Dispatched[0].Notifications, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("full queue did not trigger a flush")
	}
}

func TestEnqueue_TimeoutTriggersFlush(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	flushed := make(chan *FlushReport, 1)
	b := newTestBatcher(d, Config{MaxBatchSize: 20, BatchTimeout: 20 * time.Millisecond})
	b.onFlush = func(r *FlushReport) { flushed <- r }

	require.NoError(t, b.Enqueue(context.Background(), request("t1", "p1", dueAt(12, 0), types.PriorityMedium)))

	select {
	case r := <-flushed:
		assert.Len(t, r.Dispatched, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("batch timeout did not trigger a flush")
	}
}

func TestEnqueue_ReplacesPendingRequestForSameTask(t *testing.T) {
	b := newTestBatcher(&mockDispatcher{}, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(11, 0), types.PriorityMedium)))
	assert.Equal(t, 1, b.Pending())
}

func TestEnqueue_Validation(t *testing.T) {
	b := newTestBatcher(&mockDispatcher{}, Config{})
	ctx := context.Background()

	err := b.Enqueue(ctx, types.NotificationBatchRequest{UserID: "u"})
	assert.Equal(t, engineerrors.ErrorCodeValidation, engineerrors.CodeOf(err))

	err = b.Enqueue(ctx, types.NotificationBatchRequest{TaskID: "t"})
	assert.Equal(t, engineerrors.ErrorCodeValidation, engineerrors.CodeOf(err))
}

func TestFlush_RetriesThenReportsFailure(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("gateway timeout"))

	b := newTestBatcher(d, Config{
		MaxBatchSize: 20,
		Retry:        &retry.Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 15 * time.Second},
	})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))

	report := b.Flush(ctx)
	assert.Empty(t, report.Dispatched)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, []string{"t1"}, report.Failed[0].TaskIDs)
	require.Len(t, report.Failed[0].Errors, 4)
	for _, err := range report.Failed[0].Errors {
		assert.Equal(t, engineerrors.ErrorCodeDispatchFailure, engineerrors.CodeOf(err))
	}
	d.AssertNumberOfCalls(t, "Schedule", 4)

	outcome, _ := b.Cancel(ctx, "t1")
	assert.Equal(t, CancelNotFound, outcome)
}

func TestFlush_PermanentErrorStopsRetrying(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).
		Return("", PermanentError(errors.New("device token revoked")))

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))

	report := b.Flush(ctx)
	require.Len(t, report.Failed, 1)
	assert.Len(t, report.Failed[0].Errors, 1)
	d.AssertNumberOfCalls(t, "Schedule", 1)
}

func TestFlush_OneFailingBatchDoesNotAbortOthers(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.UserID == "user-2"
	}), mock.Anything).Return("", PermanentError(errors.New("rejected")))
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	other := request("t2", "p2", dueAt(10, 0), types.PriorityMedium)
	other.UserID = "user-2"
	require.NoError(t, b.Enqueue(ctx, other))
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))

	report := b.Flush(ctx)
	assert.Len(t, report.Dispatched, 1)
	assert.Len(t, report.Failed, 1)
}

func TestFlush_SkipsStaleBatch(t *testing.T) {
	d := &mockDispatcher{}
	b := newTestBatcher(d, Config{MaxBatchSize: 20, MaxStaleness: 24 * time.Hour})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", batcherNow.Add(-72*time.Hour), types.PriorityMedium)))
	require.NoError(t, b.Enqueue(ctx, types.NotificationBatchRequest{TaskID: "t2", UserID: "user-2", Priority: types.PriorityLow}))

	report := b.Flush(ctx)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, report.Dispatched)
	assert.Empty(t, report.Failed)
	d.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlush_StaleMemberDoesNotSinkItsBatch(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, time.Duration(0)).Return("notif-7", nil).Once()

	// no quiet hours, so fire times are due less the 30 minute watering lead
	profiles := activity.NewStaticProvider(types.ActivityProfile{UserID: "user-1"})
	now := time.Date(2026, 6, 11, 1, 0, 0, 0, time.UTC)
	b := NewBatcher(d, profiles, Config{MaxBatchSize: 20, BatchTimeout: time.Hour, MaxStaleness: 24 * time.Hour},
		logging.NewNoOpLogger(),
		WithClock(func() time.Time { return now }),
		WithRetryOptions(retry.WithSleep(retry.NoSleep)))
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("stale", "p1", dueAt(0, 40), types.PriorityHigh)))
	require.NoError(t, b.Enqueue(ctx, request("fresh", "p1", dueAt(23, 50), types.PriorityMedium)))

	report := b.Flush(ctx)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"stale"}, report.SkippedTasks)
	assert.Equal(t, 1, report.Conflicts)
	require.Len(t, report.Dispatched, 1)
	batch := report.Dispatched[0]
	assert.Equal(t, []string{"fresh"}, batch.TaskIDs())
	assert.Equal(t, dueAt(23, 20), batch.ScheduledTime)
	assert.Equal(t, types.PriorityMedium, batch.Priority)
	d.AssertExpectations(t)

	outcome, id := b.Cancel(ctx, "fresh")
	assert.Equal(t, CancelAlreadySent, outcome)
	assert.Equal(t, "notif-7", id)
	outcome, _ = b.Cancel(ctx, "stale")
	assert.Equal(t, CancelNotFound, outcome)
}

func TestFlush_PrunesExpiredDispatchRecords(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	now := batcherNow
	b := newTestBatcher(d, Config{MaxBatchSize: 20, SentRetention: 48 * time.Hour})
	b.now = func() time.Time { return now }
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Enqueue(ctx, request(fmt.Sprintf("t%d", i), "p1", dueAt(10, i), types.PriorityMedium)))
	}
	b.Flush(ctx)
	assert.Equal(t, 10, b.Sent())

	b.Forget("t0")
	assert.Equal(t, 9, b.Sent())

	now = now.Add(49 * time.Hour)
	b.Flush(ctx)
	assert.Zero(t, b.Sent())
	outcome, _ := b.Cancel(ctx, "t1")
	assert.Equal(t, CancelNotFound, outcome)
}

func TestFlush_ClampsPastScheduledTime(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, time.Duration(0)).Return("notif", nil).Once()

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", batcherNow.Add(-2*time.Hour), types.PriorityMedium)))

	report := b.Flush(ctx)
	assert.Equal(t, 1, report.Conflicts)
	assert.Len(t, report.Dispatched, 1)
	d.AssertExpectations(t)
}

func TestFlush_DefersIntoProfileWindow(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	// 23:30 due less 30 minutes lands in quiet hours and moves to 07:00 next day
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(23, 30), types.PriorityMedium)))

	report := b.Flush(ctx)
	require.Len(t, report.Dispatched, 1)
	assert.Equal(t, time.Date(2026, 6, 11, 7, 0, 0, 0, time.UTC), report.Dispatched[0].ScheduledTime)
}

func TestCancel_Pending(t *testing.T) {
	d := &mockDispatcher{}
	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))

	outcome, _ := b.Cancel(ctx, "t1")
	assert.Equal(t, CancelRemovedPending, outcome)
	assert.Equal(t, StateIdle, b.State())

	report := b.Flush(ctx)
	assert.Empty(t, report.Dispatched)
	d.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancel_InFlightBeforeDispatch(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	reqs := []types.NotificationBatchRequest{
		request("t1", "p1", dueAt(10, 0), types.PriorityMedium),
		request("t2", "p1", dueAt(11, 0), types.PriorityMedium),
	}
	batches := b.plan(ctx, reqs)
	require.Len(t, batches, 1)

	outcome, _ := b.Cancel(ctx, "t1")
	assert.Equal(t, CancelRemovedInFlight, outcome)

	report := &FlushReport{}
	b.dispatch(ctx, batches[0], report)
	require.Len(t, report.Dispatched, 1)
	assert.Equal(t, []string{"t2"}, report.Dispatched[0].TaskIDs())
	assert.Equal(t, dueAt(10, 30), report.Dispatched[0].ScheduledTime)
}

func TestCancel_AfterDispatchIsAlreadySent(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif-42", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))
	b.Flush(ctx)

	outcome, id := b.Cancel(ctx, "t1")
	assert.Equal(t, CancelAlreadySent, outcome)
	assert.Equal(t, "notif-42", id)

	outcome, _ = b.Cancel(ctx, "missing")
	assert.Equal(t, CancelNotFound, outcome)
}

func TestClose_FlushesRemainderAndRejectsEnqueue(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 20})
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, request("t1", "p1", dueAt(10, 0), types.PriorityMedium)))

	report, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Dispatched, 1)

	assert.ErrorIs(t, b.Enqueue(ctx, request("t2", "p1", dueAt(10, 0), types.PriorityMedium)), ErrBatcherClosed)

	report, err = b.Close(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Dispatched)
}

func TestBatcher_ConcurrentEnqueueLosesNothing(t *testing.T) {
	d := &mockDispatcher{}
	var mu sync.Mutex
	dispatched := make(map[string]int)
	d.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		n := args.Get(1).(Notification)
		mu.Lock()
		for _, id := range n.TaskIDs {
			dispatched[id]++
		}
		mu.Unlock()
	}).Return("notif", nil)

	b := newTestBatcher(d, Config{MaxBatchSize: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := request(fmt.Sprintf("t%d", i), fmt.Sprintf("p%d", i%4), dueAt(10, i%60), types.PriorityMedium)
			assert.NoError(t, b.Enqueue(ctx, r))
		}(i)
	}
	wg.Wait()

	_, err := b.Close(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dispatched, 40)
	for id, count := range dispatched {
		assert.Equal(t, 1, count, "task %s", id)
	}
}
