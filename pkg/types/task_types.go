package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskType represents a kind of care work
type TaskType string

const (
	TaskWatering    TaskType = "watering"
	TaskFeeding     TaskType = "feeding"
	TaskInspection  TaskType = "inspection"
	TaskPruning     TaskType = "pruning"
	TaskTraining    TaskType = "training"
	TaskDefoliation TaskType = "defoliation"
	TaskFlushing    TaskType = "flushing"
	TaskHarvest     TaskType = "harvest"
	TaskTransplant  TaskType = "transplant"
)

// AllTaskTypes is the closed set of task types
var AllTaskTypes = []TaskType{
	TaskWatering,
	TaskFeeding,
	TaskInspection,
	TaskPruning,
	TaskTraining,
	TaskDefoliation,
	TaskFlushing,
	TaskHarvest,
	TaskTransplant,
}

// IsValid checks if the task type is part of the closed set
func (t TaskType) IsValid() bool {
	for _, known := range AllTaskTypes {
		if known == t {
			return true
		}
	}
	return false
}

// ParseTaskType parses a task type name
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// PlantTask is the mutable unit of care work
type PlantTask struct {
	ID                       string      `json:"id"`
	PlantID                  string      `json:"plant_id"`
	UserID                   string      `json:"user_id"`
	TaskType                 TaskType    `json:"task_type"`
	Title                    string      `json:"title"`
	Description              string      `json:"description"`
	DueDate                  time.Time   `json:"due_date"`
	Status                   TaskStatus  `json:"status"`
	Priority                 Priority    `json:"priority"`
	EstimatedDurationMinutes int         `json:"estimated_duration_minutes"`
	AutoGenerated            bool        `json:"auto_generated"`
	TemplateID               *string     `json:"template_id,omitempty"`
	EnvironmentalConditions  *Conditions `json:"environmental_conditions,omitempty"`
	EscalationStartTime      *time.Time  `json:"escalation_start_time,omitempty"`
	SequenceNumber           int         `json:"sequence_number"`
	CreatedAt                time.Time   `json:"created_at"`
	UpdatedAt                time.Time   `json:"updated_at"`
}

// OverdueOrigin returns the instant the overdue clock starts from
func (t *PlantTask) OverdueOrigin() time.Time {
	if t.EscalationStartTime != nil {
		return *t.EscalationStartTime
	}
	return t.DueDate
}

// TaskMutation describes a partial update; nil fields are left unchanged
type TaskMutation struct {
	TaskID                  string      `json:"task_id"`
	DueDate                 *time.Time  `json:"due_date,omitempty"`
	Priority                *Priority   `json:"priority,omitempty"`
	Status                  *TaskStatus `json:"status,omitempty"`
	EnvironmentalConditions *Conditions `json:"environmental_conditions,omitempty"`
	EscalationStartTime     *time.Time  `json:"escalation_start_time,omitempty"`
	RescheduleHours         int         `json:"reschedule_hours,omitempty"`
	Reasons                 []string    `json:"reasons,omitempty"`
}

// IsEmpty reports whether the mutation changes nothing
func (m *TaskMutation) IsEmpty() bool {
	return m.DueDate == nil && m.Priority == nil && m.Status == nil &&
		m.EnvironmentalConditions == nil && m.EscalationStartTime == nil
}

// Apply writes the mutation onto a task
func (m *TaskMutation) Apply(task *PlantTask) {
	if m.DueDate != nil {
		task.DueDate = *m.DueDate
	}
	if m.Priority != nil {
		task.Priority = *m.Priority
	}
	if m.Status != nil {
		task.Status = *m.Status
	}
	if m.EnvironmentalConditions != nil {
		c := *m.EnvironmentalConditions
		task.EnvironmentalConditions = &c
	}
	if m.EscalationStartTime != nil {
		ts := *m.EscalationStartTime
		task.EscalationStartTime = &ts
	}
}

// TaskFilter selects tasks from a store; zero fields match everything
type TaskFilter struct {
	PlantID   string       `json:"plant_id,omitempty"`
	UserID    string       `json:"user_id,omitempty"`
	Statuses  []TaskStatus `json:"statuses,omitempty"`
	TaskTypes []TaskType   `json:"task_types,omitempty"`
	DueBefore *time.Time   `json:"due_before,omitempty"`
	DueAfter  *time.Time   `json:"due_after,omitempty"`
}

// Matches reports whether the task satisfies the filter
func (f *TaskFilter) Matches(task *PlantTask) bool {
	if f.PlantID != "" && task.PlantID != f.PlantID {
		return false
	}
	if f.UserID != "" && task.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, task.Status) {
		return false
	}
	if len(f.TaskTypes) > 0 && !containsTaskType(f.TaskTypes, task.TaskType) {
		return false
	}
	if f.DueBefore != nil && !task.DueDate.Before(*f.DueBefore) {
		return false
	}
	if f.DueAfter != nil && task.DueDate.Before(*f.DueAfter) {
		return false
	}
	return true
}

func containsStatus(list []TaskStatus, s TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsTaskType(list []TaskType, t TaskType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
