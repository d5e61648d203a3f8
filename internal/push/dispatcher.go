// Package push batches task notifications and hands them to a Dispatcher
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plantcare-engine/internal/circuitbreaker"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/retry"
	"plantcare-engine/pkg/types"
)

// Notification is one combined message handed to the Dispatcher
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  types.Priority    `json:"priority"`
	Data      map[string]string `json:"data,omitempty"`
	TaskIDs   []string          `json:"task_ids"`
	CreatedAt time.Time         `json:"created_at"`
}

// Dispatcher delivers notifications; delivery itself is outside the engine
type Dispatcher interface {
	// Schedule queues n to fire after fireIn and returns the notification id
	Schedule(ctx context.Context, n Notification, fireIn time.Duration) (string, error)
	// Cancel withdraws a scheduled notification
	Cancel(ctx context.Context, notificationID string) error
}

// ScheduledNotification is a notification recorded by LogDispatcher
type ScheduledNotification struct {
	Notification Notification
	FireIn       time.Duration
}

// LogDispatcher logs notifications instead of delivering them. Used for dry
// runs and as the default when no outbox is configured.
type LogDispatcher struct {
	logger logging.Logger

	mu        sync.Mutex
	scheduled map[string]ScheduledNotification
}

// NewLogDispatcher creates a logging dispatcher
func NewLogDispatcher(logger logging.Logger) *LogDispatcher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &LogDispatcher{
		logger:    logger.WithComponent("log_dispatcher"),
		scheduled: make(map[string]ScheduledNotification),
	}
}

// Schedule implements Dispatcher
func (d *LogDispatcher) Schedule(ctx context.Context, n Notification, fireIn time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	d.mu.Lock()
	d.scheduled[n.ID] = ScheduledNotification{Notification: n, FireIn: fireIn}
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "notification scheduled",
		"notification_id", n.ID, "user_id", n.UserID, "title", n.Title,
		"priority", string(n.Priority), "tasks", len(n.TaskIDs), "fire_in", fireIn.String())
	return n.ID, nil
}

// Cancel implements Dispatcher
func (d *LogDispatcher) Cancel(ctx context.Context, notificationID string) error {
	d.mu.Lock()
	_, ok := d.scheduled[notificationID]
	delete(d.scheduled, notificationID)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("notification %s not scheduled", notificationID)
	}
	d.logger.InfoContext(ctx, "notification cancelled", "notification_id", notificationID)
	return nil
}

// Scheduled returns the notifications currently held
func (d *LogDispatcher) Scheduled() []ScheduledNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ScheduledNotification, 0, len(d.scheduled))
	for _, s := range d.scheduled {
		out = append(out, s)
	}
	return out
}

// GuardedDispatcher wraps a Dispatcher with a circuit breaker. While the
// circuit is open calls fail fast with a retryable error.
type GuardedDispatcher struct {
	next    Dispatcher
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedDispatcher wraps next; a nil config uses circuitbreaker.DefaultConfig
func NewGuardedDispatcher(next Dispatcher, config *circuitbreaker.Config) *GuardedDispatcher {
	return &GuardedDispatcher{next: next, breaker: circuitbreaker.New(config)}
}

// Schedule implements Dispatcher
func (g *GuardedDispatcher) Schedule(ctx context.Context, n Notification, fireIn time.Duration) (string, error) {
	var id string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = g.next.Schedule(ctx, n, fireIn)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Cancel implements Dispatcher; cancellations bypass the breaker
func (g *GuardedDispatcher) Cancel(ctx context.Context, notificationID string) error {
	return g.next.Cancel(ctx, notificationID)
}

// State exposes the breaker state for health reporting
func (g *GuardedDispatcher) State() circuitbreaker.State {
	return g.breaker.State()
}

// PermanentError marks a dispatcher error that must not be retried
func PermanentError(err error) error {
	return retry.Permanent(err)
}
