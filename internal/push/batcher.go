package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plantcare-engine/internal/activity"
	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/metrics"
	"plantcare-engine/internal/retry"
	"plantcare-engine/pkg/types"
)

// State is the batcher's accumulation state
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateFlushing     State = "flushing"
)

// ErrBatcherClosed is returned by Enqueue after Close
var ErrBatcherClosed = errors.New("notification batcher closed")

// Config configures the notification batcher
type Config struct {
	MaxBatchSize  int               `json:"max_batch_size"`
	BatchTimeout  time.Duration     `json:"batch_timeout"`
	StrategyOrder []types.BatchType `json:"strategy_order"`
	MaxStaleness  time.Duration     `json:"max_staleness"`
	SentRetention time.Duration     `json:"sent_retention"`
	Retry         *retry.Config     `json:"-"`
}

// DefaultConfig returns default batcher configuration
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  20,
		BatchTimeout:  5 * time.Second,
		StrategyOrder: []types.BatchType{types.BatchDaily, types.BatchPlantGrouped, types.BatchPriorityGrouped},
		MaxStaleness:  24 * time.Hour,
		SentRetention: 48 * time.Hour,
		Retry:         retry.DefaultConfig(),
	}
}

// BatchFailure reports a batch that could not be dispatched
type BatchFailure struct {
	BatchID string   `json:"batch_id"`
	TaskIDs []string `json:"task_ids"`
	Errors  []error  `json:"-"`
}

// FlushReport summarizes one flush. Skipped counts requests dropped for
// lacking a valid fire time; SkippedTasks names them.
type FlushReport struct {
	Dispatched   []types.NotificationBatch `json:"dispatched"`
	Failed       []BatchFailure            `json:"failed"`
	Skipped      int                       `json:"skipped"`
	SkippedTasks []string                  `json:"skipped_tasks,omitempty"`
	Conflicts    int                       `json:"conflicts"`
}

// CancelOutcome says where a cancelled request was found
type CancelOutcome string

const (
	CancelRemovedPending  CancelOutcome = "removed_pending"
	CancelRemovedInFlight CancelOutcome = "removed_in_flight"
	CancelAlreadySent     CancelOutcome = "already_sent"
	CancelNotFound        CancelOutcome = "not_found"
)

// Option customizes a Batcher
type Option func(*Batcher)

// WithClock sets the batcher's clock
func WithClock(now func() time.Time) Option {
	return func(b *Batcher) { b.now = now }
}

// WithRetryOptions passes options to the dispatch retrier
func WithRetryOptions(opts ...retry.Option) Option {
	return func(b *Batcher) { b.retryOpts = append(b.retryOpts, opts...) }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) { b.metrics = m }
}

// WithFlushHook is called with the report of every automatic flush
func WithFlushHook(hook func(*FlushReport)) Option {
	return func(b *Batcher) { b.onFlush = hook }
}

type sentRecord struct {
	notificationID string
	at             time.Time
}

type inflightBatch struct {
	batch       types.NotificationBatch
	notify      map[string]time.Time // task id -> adjusted fire time
	dispatching bool
}

// Batcher groups notification requests into batches and dispatches them.
// Enqueue triggers a flush when the pending queue reaches MaxBatchSize, when a
// critical request arrives, or when the batch timeout elapses.
type Batcher struct {
	dispatcher Dispatcher
	profiles   activity.Provider
	config     Config
	retrier    *retry.Retrier
	retryOpts  []retry.Option
	logger     logging.Logger
	metrics    *metrics.Metrics
	onFlush    func(*FlushReport)
	now        func() time.Time
	newID      func() string

	mu       sync.Mutex
	pending  []types.NotificationBatchRequest
	inflight map[string]*inflightBatch // batch id
	taskRefs map[string]string         // task id -> in-flight batch id
	sent     map[string]sentRecord        // task id, pruned after SentRetention
	timer    *time.Timer
	flushing int
	closed   bool
	wg       sync.WaitGroup
}

// NewBatcher creates a notification batcher
func NewBatcher(dispatcher Dispatcher, profiles activity.Provider, config Config, logger logging.Logger, opts ...Option) *Batcher {
	def := DefaultConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = def.MaxBatchSize
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = def.BatchTimeout
	}
	if len(config.StrategyOrder) == 0 {
		config.StrategyOrder = def.StrategyOrder
	}
	if config.MaxStaleness <= 0 {
		config.MaxStaleness = def.MaxStaleness
	}
	if config.SentRetention <= 0 {
		config.SentRetention = def.SentRetention
	}
	if config.Retry == nil {
		config.Retry = def.Retry
	}
	if profiles == nil {
		profiles = activity.NewStaticProvider()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	b := &Batcher{
		dispatcher: dispatcher,
		profiles:   profiles,
		config:     config,
		logger:     logger.WithComponent("notification_batcher"),
		now:        time.Now,
		newID:      uuid.NewString,
		inflight:   make(map[string]*inflightBatch),
		taskRefs:   make(map[string]string),
		sent:       make(map[string]sentRecord),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.retrier = retry.New(config.Retry, b.retryOpts...)
	return b
}

// State reports the current accumulation state
func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.flushing > 0:
		return StateFlushing
	case len(b.pending) > 0:
		return StateAccumulating
	default:
		return StateIdle
	}
}

// Pending returns the number of queued requests
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Enqueue adds a request. A request for a task already pending replaces it.
func (b *Batcher) Enqueue(ctx context.Context, req types.NotificationBatchRequest) error {
	if req.TaskID == "" {
		return engineerrors.NewValidationError("task_id", "required")
	}
	if req.UserID == "" {
		return engineerrors.NewValidationError("user_id", "required")
	}
	if !req.Priority.IsValid() {
		req.Priority = types.PriorityMedium
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}

	replaced := false
	for i := range b.pending {
		if b.pending[i].TaskID == req.TaskID {
			b.pending[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		b.pending = append(b.pending, req)
	}
	delete(b.sent, req.TaskID)
	pending := len(b.pending)

	trigger := ""
	switch {
	case req.Priority == types.PriorityCritical:
		trigger = "critical"
	case pending >= b.config.MaxBatchSize:
		trigger = "size"
	}
	if trigger != "" {
		b.stopTimerLocked()
		b.wg.Add(1)
		go b.autoFlush(trigger)
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.config.BatchTimeout, b.onTimeout)
	}
	b.mu.Unlock()

	b.metrics.Enqueued(string(req.Priority), pending)
	b.logger.DebugContext(ctx, "notification enqueued",
		"task_id", req.TaskID, "user_id", req.UserID, "priority", string(req.Priority),
		"pending", pending, "trigger", trigger)
	return nil
}

func (b *Batcher) onTimeout() {
	b.mu.Lock()
	b.timer = nil
	if b.closed || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	b.autoFlush("timeout")
}

func (b *Batcher) autoFlush(trigger string) {
	defer b.wg.Done()
	report := b.Flush(context.Background())
	b.logger.Info("automatic flush finished",
		"trigger", trigger, "dispatched", len(report.Dispatched), "failed", len(report.Failed),
		"skipped", report.Skipped, "conflicts", report.Conflicts)
	if b.onFlush != nil {
		b.onFlush(report)
	}
}

// stopTimerLocked cancels the accumulation timer; caller holds mu
func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Flush groups everything pending into batches and dispatches them now
func (b *Batcher) Flush(ctx context.Context) *FlushReport {
	report := &FlushReport{}

	b.mu.Lock()
	snapshot := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.flushing++
	b.pruneSentLocked(b.now())
	b.mu.Unlock()
	b.metrics.SetPending(0)

	defer func() {
		b.mu.Lock()
		b.flushing--
		b.mu.Unlock()
	}()

	if len(snapshot) == 0 {
		return report
	}

	batches := b.plan(ctx, snapshot)
	for _, ib := range batches {
		b.dispatch(ctx, ib, report)
	}

	b.logger.InfoContext(ctx, "flush complete",
		"requests", len(snapshot), "batches", len(batches),
		"dispatched", len(report.Dispatched), "failed", len(report.Failed),
		"skipped", report.Skipped, "conflicts", report.Conflicts)
	return report
}

// plan times each request, groups, dedups and registers the batches as in flight
func (b *Batcher) plan(ctx context.Context, snapshot []types.NotificationBatchRequest) []*inflightBatch {
	profiles := make(map[string]*types.ActivityProfile)
	timed := make([]timedRequest, 0, len(snapshot))
	for _, req := range snapshot {
		profile, ok := profiles[req.UserID]
		if !ok {
			var err error
			profile, err = b.profiles.Get(ctx, req.UserID)
			if err != nil || profile == nil {
				b.logger.WarnContext(ctx, "activity profile unavailable, using defaults",
					"user_id", req.UserID, "error", err)
				profile = activity.DefaultProfile(req.UserID)
			}
			profiles[req.UserID] = profile
		}

		tr := timedRequest{NotificationBatchRequest: req, loc: profile.Location()}
		if !req.DueDate.IsZero() {
			tr.NotifyAt = activity.NotifyAt(profile, req.TaskType, req.Priority, req.DueDate)
		}
		timed = append(timed, tr)
	}

	candidates := dedup(buildCandidates(timed, b.config.StrategyOrder, b.config.MaxBatchSize))

	out := make([]*inflightBatch, 0, len(candidates))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range candidates {
		ib := &inflightBatch{
			batch:  finalize(b.newID(), c),
			notify: make(map[string]time.Time, len(c.members)),
		}
		for _, m := range c.members {
			ib.notify[m.TaskID] = m.NotifyAt
			b.taskRefs[m.TaskID] = ib.batch.ID
		}
		b.inflight[ib.batch.ID] = ib
		out = append(out, ib)
	}
	return out
}

// dispatch sends one in-flight batch, honouring cancellations made since planning.
// Members without a fire time or staler than MaxStaleness are dropped; the rest
// are scheduled from their own earliest fire time.
func (b *Batcher) dispatch(ctx context.Context, ib *inflightBatch, report *FlushReport) {
	now := b.now()

	b.mu.Lock()
	batch := ib.batch
	batch.Notifications = nil
	batch.Priority = types.PriorityLow
	var invalid []string
	for _, n := range ib.batch.Notifications {
		at := ib.notify[n.TaskID]
		if at.IsZero() || now.Sub(at) > b.config.MaxStaleness {
			invalid = append(invalid, n.TaskID)
			continue
		}
		batch.Notifications = append(batch.Notifications, n)
		batch.Priority = types.MaxPriority(batch.Priority, n.Priority)
	}
	batch.ScheduledTime = earliestOf(ib, batch.Notifications)
	ib.batch.Notifications = batch.Notifications
	ib.dispatching = true
	b.mu.Unlock()

	if len(invalid) > 0 {
		err := engineerrors.NewInvalidWindow(batch.ID, "no valid scheduled time")
		b.logger.WarnContext(ctx, "skipping notifications", "batch_id", batch.ID, "user_id", batch.UserID,
			"task_ids", invalid, "error", err)
		report.Skipped += len(invalid)
		report.SkippedTasks = append(report.SkippedTasks, invalid...)
		for range invalid {
			b.metrics.BatchSkipped("invalid_window")
		}
	}
	if len(batch.Notifications) == 0 {
		b.release(ib, "")
		return
	}
	if batch.ScheduledTime.Before(now) {
		b.logger.DebugContext(ctx, "scheduled time already passed, firing immediately",
			"batch_id", batch.ID, "scheduled_time", batch.ScheduledTime)
		report.Conflicts++
		b.metrics.SchedulingConflict()
	}

	content := BuildContent(&batch)
	n := Notification{
		UserID:    batch.UserID,
		Title:     content.Title,
		Body:      content.Body,
		Priority:  batch.Priority,
		TaskIDs:   batch.TaskIDs(),
		CreatedAt: now,
		Data: map[string]string{
			"batch_id":   batch.ID,
			"batch_type": string(batch.BatchType),
		},
	}

	var notificationID string
	result := b.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		batch.RetryCount = attempt
		fireIn := batch.ScheduledTime.Sub(b.now())
		if fireIn < 0 {
			fireIn = 0
		}
		id, err := b.dispatcher.Schedule(ctx, n, fireIn)
		if err != nil {
			b.logger.WarnContext(ctx, "dispatch attempt failed",
				"batch_id", batch.ID, "attempt", attempt, "error", err)
			return engineerrors.NewDispatchFailure(batch.ID, attempt, err)
		}
		notificationID = id
		return nil
	})

	if result.Err != nil {
		b.logger.ErrorContext(ctx, "batch dispatch failed",
			"batch_id", batch.ID, "user_id", batch.UserID, "attempts", result.Attempts, "error", result.Err)
		report.Failed = append(report.Failed, BatchFailure{
			BatchID: batch.ID,
			TaskIDs: batch.TaskIDs(),
			Errors:  result.Errors,
		})
		b.metrics.BatchFailed(string(batch.BatchType), result.Attempts-1)
		b.release(ib, "")
		return
	}

	report.Dispatched = append(report.Dispatched, batch)
	b.metrics.BatchDispatched(string(batch.BatchType), len(batch.Notifications), result.Attempts-1)
	b.release(ib, notificationID)
}

// release drops a batch from the in-flight set, recording sent tasks when notificationID is set
func (b *Batcher) release(ib *inflightBatch, notificationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, ib.batch.ID)
	for taskID := range ib.notify {
		if b.taskRefs[taskID] == ib.batch.ID {
			delete(b.taskRefs, taskID)
		}
	}
	if notificationID == "" {
		return
	}
	at := b.now()
	for _, n := range ib.batch.Notifications {
		b.sent[n.TaskID] = sentRecord{notificationID: notificationID, at: at}
	}
}

// pruneSentLocked forgets dispatched tasks older than SentRetention; caller holds mu
func (b *Batcher) pruneSentLocked(now time.Time) {
	for taskID, rec := range b.sent {
		if now.Sub(rec.at) > b.config.SentRetention {
			delete(b.sent, taskID)
		}
	}
}

// Forget drops the dispatch record of a task that no longer needs reminding
func (b *Batcher) Forget(taskID string) {
	b.mu.Lock()
	delete(b.sent, taskID)
	b.mu.Unlock()
}

// Sent returns the number of dispatched tasks still remembered
func (b *Batcher) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func earliestOf(ib *inflightBatch, members []types.NotificationBatchRequest) time.Time {
	var earliest time.Time
	for i, m := range members {
		at := ib.notify[m.TaskID]
		if i == 0 || at.Before(earliest) {
			earliest = at
		}
	}
	return earliest
}

// Cancel removes a task's request from the pending queue or from an in-flight
// batch that has not been dispatched yet. Once dispatch has started it reports
// CancelAlreadySent, with the notification id when delivery succeeded.
func (b *Batcher) Cancel(ctx context.Context, taskID string) (CancelOutcome, string) {
	b.mu.Lock()
	outcome, notificationID := b.cancelLocked(taskID)
	pending := len(b.pending)
	b.mu.Unlock()

	b.metrics.SetPending(pending)
	b.metrics.Cancelled(string(outcome))
	b.logger.DebugContext(ctx, "notification cancel", "task_id", taskID, "outcome", string(outcome))
	return outcome, notificationID
}

func (b *Batcher) cancelLocked(taskID string) (CancelOutcome, string) {
	for i := range b.pending {
		if b.pending[i].TaskID == taskID {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			if len(b.pending) == 0 {
				b.stopTimerLocked()
			}
			return CancelRemovedPending, ""
		}
	}

	if batchID, ok := b.taskRefs[taskID]; ok {
		if ib, ok := b.inflight[batchID]; ok {
			if ib.dispatching {
				return CancelAlreadySent, ""
			}
			members := ib.batch.Notifications[:0:0]
			for _, n := range ib.batch.Notifications {
				if n.TaskID != taskID {
					members = append(members, n)
				}
			}
			ib.batch.Notifications = members
			delete(ib.notify, taskID)
		}
		delete(b.taskRefs, taskID)
		return CancelRemovedInFlight, ""
	}

	if rec, ok := b.sent[taskID]; ok {
		return CancelAlreadySent, rec.notificationID
	}
	return CancelNotFound, ""
}

// Close stops the timer, flushes what is pending and waits for automatic flushes
func (b *Batcher) Close(ctx context.Context) (*FlushReport, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &FlushReport{}, nil
	}
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()

	report := b.Flush(ctx)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return report, nil
	case <-ctx.Done():
		return report, fmt.Errorf("waiting for in-flight flushes: %w", ctx.Err())
	}
}
