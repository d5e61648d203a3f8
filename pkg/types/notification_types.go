package types

import (
	"fmt"
	"sync"
	"time"
)

// NotificationBatchRequest is the immutable unit enqueued into the batcher
type NotificationBatchRequest struct {
	TaskID    string    `json:"task_id"`
	PlantID   string    `json:"plant_id"`
	PlantName string    `json:"plant_name"`
	TaskType  TaskType  `json:"task_type"`
	Title     string    `json:"title"`
	DueDate   time.Time `json:"due_date"`
	Priority  Priority  `json:"priority"`
	UserID    string    `json:"user_id"`
}

// RequestFromTask builds a batch request for a task of the named plant
func RequestFromTask(task *PlantTask, plantName string) NotificationBatchRequest {
	return NotificationBatchRequest{
		TaskID:    task.ID,
		PlantID:   task.PlantID,
		PlantName: plantName,
		TaskType:  task.TaskType,
		Title:     task.Title,
		DueDate:   task.DueDate,
		Priority:  task.Priority,
		UserID:    task.UserID,
	}
}

// BatchType names the grouping strategy that produced a batch
type BatchType string

const (
	BatchDaily           BatchType = "daily"
	BatchPlantGrouped    BatchType = "plant-grouped"
	BatchPriorityGrouped BatchType = "priority-grouped"
)

// ParseBatchType parses a strategy name
func ParseBatchType(s string) (BatchType, error) {
	switch BatchType(s) {
	case BatchDaily, BatchPlantGrouped, BatchPriorityGrouped:
		return BatchType(s), nil
	default:
		return "", fmt.Errorf("unknown batch type %q", s)
	}
}

// NotificationBatch is a group of requests delivered as one notification
type NotificationBatch struct {
	ID            string                     `json:"id"`
	Notifications []NotificationBatchRequest `json:"notifications"`
	ScheduledTime time.Time                  `json:"scheduled_time"`
	Priority      Priority                   `json:"priority"`
	UserID        string                     `json:"user_id"`
	BatchType     BatchType                  `json:"batch_type"`
	RetryCount    int                        `json:"retry_count"`
}

// TaskIDs returns the task ids of the batch members in order
func (b *NotificationBatch) TaskIDs() []string {
	ids := make([]string, 0, len(b.Notifications))
	for _, n := range b.Notifications {
		ids = append(ids, n.TaskID)
	}
	return ids
}

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int `json:"hour" yaml:"hour"`
	Minute int `json:"minute" yaml:"minute"`
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day out of range: %q", s)
	}
	return t, nil
}

// Minutes returns minutes since midnight
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at this time of day on the date of ref, in ref's location
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ActivityProfile describes when a user wants to be notified
type ActivityProfile struct {
	UserID          string      `json:"user_id"`
	PreferredTimes  []TimeOfDay `json:"preferred_times"`
	QuietHoursStart TimeOfDay   `json:"quiet_hours_start"`
	QuietHoursEnd   TimeOfDay   `json:"quiet_hours_end"`
	MostActiveHours []int       `json:"most_active_hours"`
	TimeZone        string      `json:"time_zone,omitempty"`
}

// locations caches loaded zones by name; unknown names are not cached
var locations sync.Map

// Location resolves the profile's time zone, defaulting to UTC
func (p *ActivityProfile) Location() *time.Location {
	if p == nil || p.TimeZone == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(p.TimeZone); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	actual, _ := locations.LoadOrStore(p.TimeZone, loc)
	return actual.(*time.Location)
}

// EscalationLevel is the urgency tier of an overdue task
type EscalationLevel string

const (
	EscalationGentle   EscalationLevel = "gentle"
	EscalationStandard EscalationLevel = "standard"
	EscalationUrgent   EscalationLevel = "urgent"
	EscalationCritical EscalationLevel = "critical"
)

// Rank returns the ordering position of the level
func (l EscalationLevel) Rank() int {
	switch l {
	case EscalationGentle:
		return 0
	case EscalationStandard:
		return 1
	case EscalationUrgent:
		return 2
	case EscalationCritical:
		return 3
	default:
		return -1
	}
}

// EscalationState tracks one overdue task
type EscalationState struct {
	TaskID        string          `json:"task_id"`
	HoursOverdue  float64         `json:"hours_overdue"`
	Level         EscalationLevel `json:"level"`
	NextCheckTime time.Time       `json:"next_check_time"`
	HasEscalated  bool            `json:"has_escalated"`
}
