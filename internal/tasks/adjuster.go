package tasks

import (
	"time"

	"plantcare-engine/pkg/types"
)

// Environmental thresholds
const (
	HighHumidity    = 70.0
	LowHumidity     = 40.0
	MinPH           = 5.5
	MaxPH           = 7.0
	MaxTemperatureC = 30.0
	MinTemperatureC = 15.0
)

// Adjuster turns environmental readings into task mutations
type Adjuster struct{}

// NewAdjuster creates a schedule adjuster
func NewAdjuster() *Adjuster {
	return &Adjuster{}
}

type adjustment struct {
	hours    int
	priority *types.Priority
	reasons  []string
}

type rule func(task *types.PlantTask, c types.Conditions, adj *adjustment)

// rules run in this order; a later rule overwrites fields set by an earlier one
var rules = []rule{wateringRule, feedingRule, inspectionRule}

// Adjust returns one mutation per pending task that matched a rule.
// Reschedules may move a task into the past.
func (a *Adjuster) Adjust(tasks []types.PlantTask, conditions types.Conditions) []types.TaskMutation {
	var out []types.TaskMutation
	for i := range tasks {
		task := &tasks[i]
		if task.Status != types.TaskStatusPending {
			continue
		}

		var adj adjustment
		for _, r := range rules {
			r(task, conditions, &adj)
		}
		if adj.hours == 0 && adj.priority == nil {
			continue
		}

		c := conditions
		m := types.TaskMutation{
			TaskID:                  task.ID,
			Priority:                adj.priority,
			EnvironmentalConditions: &c,
			RescheduleHours:         adj.hours,
			Reasons:                 adj.reasons,
		}
		if adj.hours != 0 {
			due := task.DueDate.Add(time.Duration(adj.hours) * time.Hour)
			m.DueDate = &due
		}
		out = append(out, m)
	}
	return out
}

func wateringRule(task *types.PlantTask, c types.Conditions, adj *adjustment) {
	if task.TaskType != types.TaskWatering || c.Humidity == nil {
		return
	}
	switch h := *c.Humidity; {
	case h > HighHumidity:
		adj.hours = 12
		adj.reasons = append(adj.reasons, "high humidity, delaying watering")
	case h < LowHumidity:
		adj.hours = -6
		adj.priority = priorityPtr(types.PriorityHigh)
		adj.reasons = append(adj.reasons, "low humidity, watering sooner")
	}
}

func feedingRule(task *types.PlantTask, c types.Conditions, adj *adjustment) {
	if task.TaskType != types.TaskFeeding || c.PH == nil {
		return
	}
	if ph := *c.PH; ph < MinPH || ph > MaxPH {
		adj.priority = priorityPtr(types.PriorityCritical)
		adj.reasons = append(adj.reasons, "pH out of range")
	}
}

func inspectionRule(task *types.PlantTask, c types.Conditions, adj *adjustment) {
	if task.TaskType != types.TaskInspection || c.Temperature == nil {
		return
	}
	if t := *c.Temperature; t > MaxTemperatureC || t < MinTemperatureC {
		adj.hours = -2
		adj.priority = priorityPtr(types.PriorityHigh)
		adj.reasons = append(adj.reasons, "temperature out of range")
	}
}

func priorityPtr(p types.Priority) *types.Priority {
	return &p
}
