// Package escalation re-notifies users about overdue tasks with increasing urgency
package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"plantcare-engine/internal/activity"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/metrics"
	"plantcare-engine/internal/push"
	"plantcare-engine/pkg/types"
)

// TaskSource lists tasks; storage.TaskStore satisfies it
type TaskSource interface {
	Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error)
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Notified int     `json:"notified"`
	Errors   []error `json:"-"`
	Dropped  int     `json:"dropped"`
	Tracked  int     `json:"tracked"`
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithClock sets the tracker's clock
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

type entry struct {
	state          types.EscalationState
	userID         string
	notificationID string
	fireAt         time.Time
}

// Tracker holds the in-memory escalation state of overdue tasks. State is
// recomputable from the tasks themselves, so nothing is persisted.
type Tracker struct {
	tasks      TaskSource
	dispatcher push.Dispatcher
	profiles   activity.Provider
	logger     logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	sweepMu sync.Mutex
	mu      sync.Mutex
	entries map[string]*entry // task id
}

// NewTracker creates an escalation tracker
func NewTracker(tasks TaskSource, dispatcher push.Dispatcher, profiles activity.Provider, logger logging.Logger, opts ...Option) *Tracker {
	if profiles == nil {
		profiles = activity.NewStaticProvider()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	t := &Tracker{
		tasks:      tasks,
		dispatcher: dispatcher,
		profiles:   profiles,
		logger:     logger.WithComponent("escalation_tracker"),
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sweep checks every pending overdue task, sends the escalations that are due
// and drops entries for tasks that are no longer overdue. Failures are
// collected in the report; a failed escalation is retried on the next sweep.
func (t *Tracker) Sweep(ctx context.Context) *SweepReport {
	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	started := time.Now()
	now := t.now()
	report := &SweepReport{}

	overdue, err := t.tasks.Query(ctx, types.TaskFilter{
		Statuses:  []types.TaskStatus{types.TaskStatusPending},
		DueBefore: &now,
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("failed to list overdue tasks: %w", err))
		t.logger.ErrorContext(ctx, "escalation sweep aborted", "error", err)
		return report
	}

	live := make(map[string]bool, len(overdue))
	for i := range overdue {
		task := &overdue[i]
		hours := now.Sub(task.OverdueOrigin()).Hours()
		if hours < 0 {
			continue
		}
		live[task.ID] = true

		e, due := t.observe(task, hours, now)
		if !due {
			continue
		}
		if err := t.escalate(ctx, task, e, now); err != nil {
			report.Errors = append(report.Errors, err)
			t.metrics.EscalationFailed()
			continue
		}
		report.Notified++
	}

	report.Dropped = t.dropExcept(ctx, live, now)

	t.mu.Lock()
	report.Tracked = len(t.entries)
	t.mu.Unlock()

	t.metrics.SweepFinished(time.Since(started).Seconds(), report.Tracked)
	t.logger.InfoContext(ctx, "escalation sweep finished",
		"overdue", len(overdue), "notified", report.Notified, "dropped", report.Dropped,
		"errors", len(report.Errors), "tracked", report.Tracked)
	return report
}

// observe creates or updates a task's entry and reports whether a check is due.
// The level never regresses while the task stays tracked.
func (t *Tracker) observe(task *types.PlantTask, hours float64, now time.Time) (entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[task.ID]
	if !ok {
		e = &entry{state: types.EscalationState{TaskID: task.ID}, userID: task.UserID}
		t.entries[task.ID] = e
	}
	level := LevelFor(hours)
	if level.Rank() > e.state.Level.Rank() {
		e.state.Level = level
	}
	e.state.HoursOverdue = hours
	return *e, !now.Before(e.state.NextCheckTime)
}

func (t *Tracker) escalate(ctx context.Context, task *types.PlantTask, e entry, now time.Time) error {
	level := e.state.Level

	var fireIn time.Duration
	if level != types.EscalationCritical {
		profile, err := t.profiles.Get(ctx, task.UserID)
		if err != nil || profile == nil {
			profile = activity.DefaultProfile(task.UserID)
		}
		fireIn = activity.DeferPastQuietHours(profile, now).Sub(now)
	}

	n := push.Notification{
		UserID:    task.UserID,
		Title:     fmt.Sprintf("%s %s", Glyph(level), task.Title),
		Body:      fmt.Sprintf("%s is %s overdue", task.Title, formatOverdue(e.state.HoursOverdue)),
		Priority:  types.MaxPriority(task.Priority, levelPriority(level)),
		TaskIDs:   []string{task.ID},
		CreatedAt: now,
		Data: map[string]string{
			"task_id":       task.ID,
			"plant_id":      task.PlantID,
			"level":         string(level),
			"hours_overdue": fmt.Sprintf("%.1f", e.state.HoursOverdue),
		},
	}

	id, err := t.dispatcher.Schedule(ctx, n, fireIn)
	if err != nil {
		t.logger.WarnContext(ctx, "escalation dispatch failed",
			"task_id", task.ID, "level", string(level), "error", err)
		return fmt.Errorf("failed to escalate task %s: %w", task.ID, err)
	}

	t.mu.Lock()
	if cur, ok := t.entries[task.ID]; ok {
		cur.state.HasEscalated = true
		cur.state.NextCheckTime = now.Add(NextCheckInterval(cur.state.Level))
		cur.notificationID = id
		cur.fireAt = now.Add(fireIn)
	}
	t.mu.Unlock()

	t.metrics.EscalationSent(string(level))
	t.logger.InfoContext(ctx, "task escalated",
		"task_id", task.ID, "user_id", task.UserID, "level", string(level),
		"hours_overdue", e.state.HoursOverdue, "fire_in", fireIn.String())
	return nil
}

// dropExcept removes entries for tasks not in live and returns how many were dropped
func (t *Tracker) dropExcept(ctx context.Context, live map[string]bool, now time.Time) int {
	t.mu.Lock()
	var dropped []*entry
	for id, e := range t.entries {
		if !live[id] {
			dropped = append(dropped, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range dropped {
		t.withdraw(ctx, e, now)
	}
	return len(dropped)
}

// withdraw cancels an escalation notification still waiting out quiet hours
func (t *Tracker) withdraw(ctx context.Context, e *entry, now time.Time) {
	if e.notificationID == "" || !e.fireAt.After(now) {
		return
	}
	if err := t.dispatcher.Cancel(ctx, e.notificationID); err != nil {
		t.logger.WarnContext(ctx, "failed to withdraw deferred escalation",
			"task_id", e.state.TaskID, "notification_id", e.notificationID, "error", err)
	}
}

// Forget drops a task's escalation entry, e.g. when it was completed
func (t *Tracker) Forget(ctx context.Context, taskID string) bool {
	t.mu.Lock()
	e, ok := t.entries[taskID]
	delete(t.entries, taskID)
	t.mu.Unlock()
	if ok {
		t.withdraw(ctx, e, t.now())
	}
	return ok
}

// States returns a snapshot of tracked escalations ordered by task id
func (t *Tracker) States() []types.EscalationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.EscalationState, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Run sweeps every interval until ctx is done
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.InfoContext(ctx, "escalation sweeps started", "interval", interval.String())
	for {
		t.Sweep(ctx)
		select {
		case <-ctx.Done():
			t.logger.Info("escalation sweeps stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
