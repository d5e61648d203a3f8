// Package growth holds the static growth-stage and strain scheduling tables
package growth

import (
	"plantcare-engine/pkg/types"
)

// StageConfig describes one growth stage
type StageConfig struct {
	Stage            types.GrowthStage
	DurationDays     int
	NextStage        types.GrowthStage // empty for the terminal stage
	TaskPriorities   map[types.TaskType]types.Priority
	RecommendedTasks []types.TaskType
}

// HasNext reports whether the stage has a successor
func (c StageConfig) HasNext() bool {
	return c.NextStage != ""
}

// Priority returns the configured priority for a task type in this stage
func (c StageConfig) Priority(taskType types.TaskType) types.Priority {
	return c.TaskPriorities[taskType]
}

type (
	tt = types.TaskType
	pr = types.Priority
)

const (
	low      = types.PriorityLow
	medium   = types.PriorityMedium
	high     = types.PriorityHigh
	critical = types.PriorityCritical
)

func defaultStages() map[types.GrowthStage]StageConfig {
	return map[types.GrowthStage]StageConfig{
		types.StageGermination: {
			Stage:        types.StageGermination,
			DurationDays: 7,
			NextStage:    types.StageSeedling,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: low, types.TaskInspection: high,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: low,
				types.TaskFlushing: low, types.TaskHarvest: low, types.TaskTransplant: medium,
			},
			RecommendedTasks: []tt{types.TaskWatering, types.TaskInspection},
		},
		types.StageSeedling: {
			Stage:        types.StageSeedling,
			DurationDays: 14,
			NextStage:    types.StageVegetative,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: low, types.TaskInspection: medium,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: low,
				types.TaskFlushing: low, types.TaskHarvest: low, types.TaskTransplant: high,
			},
			RecommendedTasks: []tt{types.TaskWatering, types.TaskInspection, types.TaskTransplant},
		},
		types.StageVegetative: {
			Stage:        types.StageVegetative,
			DurationDays: 30,
			NextStage:    types.StagePreFlower,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: medium, types.TaskInspection: medium,
				types.TaskPruning: medium, types.TaskTraining: medium, types.TaskDefoliation: low,
				types.TaskFlushing: low, types.TaskHarvest: low, types.TaskTransplant: medium,
			},
			RecommendedTasks: []tt{
				types.TaskWatering, types.TaskFeeding, types.TaskInspection,
				types.TaskPruning, types.TaskTraining,
			},
		},
		types.StagePreFlower: {
			Stage:        types.StagePreFlower,
			DurationDays: 14,
			NextStage:    types.StageFlowering,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: high, types.TaskInspection: high,
				types.TaskPruning: medium, types.TaskTraining: medium, types.TaskDefoliation: medium,
				types.TaskFlushing: low, types.TaskHarvest: low, types.TaskTransplant: low,
			},
			RecommendedTasks: []tt{
				types.TaskWatering, types.TaskFeeding, types.TaskInspection,
				types.TaskTraining, types.TaskDefoliation,
			},
		},
		types.StageFlowering: {
			Stage:        types.StageFlowering,
			DurationDays: 49,
			NextStage:    types.StageLateFlowering,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: high, types.TaskInspection: high,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: medium,
				types.TaskFlushing: medium, types.TaskHarvest: low, types.TaskTransplant: low,
			},
			RecommendedTasks: []tt{
				types.TaskWatering, types.TaskFeeding, types.TaskInspection, types.TaskDefoliation,
			},
		},
		types.StageLateFlowering: {
			Stage:        types.StageLateFlowering,
			DurationDays: 14,
			NextStage:    types.StageHarvest,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: high, types.TaskFeeding: medium, types.TaskInspection: critical,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: low,
				types.TaskFlushing: high, types.TaskHarvest: medium, types.TaskTransplant: low,
			},
			RecommendedTasks: []tt{types.TaskWatering, types.TaskInspection, types.TaskFlushing},
		},
		types.StageHarvest: {
			Stage:        types.StageHarvest,
			DurationDays: 7,
			NextStage:    types.StageCuring,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: low, types.TaskFeeding: low, types.TaskInspection: high,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: low,
				types.TaskFlushing: medium, types.TaskHarvest: critical, types.TaskTransplant: low,
			},
			RecommendedTasks: []tt{types.TaskHarvest, types.TaskInspection},
		},
		types.StageCuring: {
			Stage:        types.StageCuring,
			DurationDays: 21,
			TaskPriorities: map[tt]pr{
				types.TaskWatering: low, types.TaskFeeding: low, types.TaskInspection: medium,
				types.TaskPruning: low, types.TaskTraining: low, types.TaskDefoliation: low,
				types.TaskFlushing: low, types.TaskHarvest: low, types.TaskTransplant: low,
			},
			RecommendedTasks: []tt{types.TaskInspection},
		},
	}
}

// estimated minutes per task type
func defaultDurations() map[types.TaskType]int {
	return map[types.TaskType]int{
		types.TaskWatering:    15,
		types.TaskFeeding:     20,
		types.TaskInspection:  10,
		types.TaskPruning:     30,
		types.TaskTraining:    25,
		types.TaskDefoliation: 30,
		types.TaskFlushing:    30,
		types.TaskHarvest:     120,
		types.TaskTransplant:  45,
	}
}

// base cadence in days for task types that strain profiles do not override
func defaultBaseFrequencies() map[types.TaskType]int {
	return map[types.TaskType]int{
		types.TaskPruning:     7,
		types.TaskTraining:    3,
		types.TaskDefoliation: 14,
		types.TaskFlushing:    14,
		types.TaskHarvest:     1,
		types.TaskTransplant:  14,
	}
}
