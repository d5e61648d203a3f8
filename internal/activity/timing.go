package activity

import (
	"time"

	"plantcare-engine/pkg/types"
)

var baseLeadTimes = map[types.TaskType]time.Duration{
	types.TaskWatering:    30 * time.Minute,
	types.TaskFeeding:     60 * time.Minute,
	types.TaskInspection:  15 * time.Minute,
	types.TaskPruning:     60 * time.Minute,
	types.TaskTraining:    60 * time.Minute,
	types.TaskDefoliation: 60 * time.Minute,
	types.TaskFlushing:    60 * time.Minute,
	types.TaskHarvest:     120 * time.Minute,
	types.TaskTransplant:  120 * time.Minute,
}

// LeadTime is how long before the due time a task's notification fires:
// the task type's base lead scaled by priority (low 0.5x, critical 2x).
func LeadTime(taskType types.TaskType, priority types.Priority) time.Duration {
	base, ok := baseLeadTimes[taskType]
	if !ok {
		base = 30 * time.Minute
	}
	switch priority {
	case types.PriorityLow:
		return base / 2
	case types.PriorityHigh:
		return base * 3 / 2
	case types.PriorityCritical:
		return base * 2
	default:
		return base
	}
}

// InQuietHours reports whether t falls inside the profile's quiet window,
// evaluated in the profile's time zone. The window may wrap midnight; a
// window whose start equals its end is empty.
func InQuietHours(profile *types.ActivityProfile, t time.Time) bool {
	if profile == nil {
		return false
	}
	start := profile.QuietHoursStart.Minutes()
	end := profile.QuietHoursEnd.Minutes()
	if start == end {
		return false
	}
	local := t.In(profile.Location())
	m := local.Hour()*60 + local.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// DeferPastQuietHours moves t to the end of the quiet window it falls in
func DeferPastQuietHours(profile *types.ActivityProfile, t time.Time) time.Time {
	if !InQuietHours(profile, t) {
		return t
	}
	local := t.In(profile.Location())
	end := profile.QuietHoursEnd.On(local)
	if !end.After(local) {
		end = profile.QuietHoursEnd.On(local.AddDate(0, 0, 1))
	}
	return end.In(t.Location())
}

// NotifyAt applies the lead time and then quiet-hours deferral to a due time.
// Critical notifications ignore quiet hours.
func NotifyAt(profile *types.ActivityProfile, taskType types.TaskType, priority types.Priority, due time.Time) time.Time {
	at := due.Add(-LeadTime(taskType, priority))
	if priority == types.PriorityCritical {
		return at
	}
	return DeferPastQuietHours(profile, at)
}
