package growth

import (
	"fmt"
	"math"

	"plantcare-engine/pkg/types"
)

// Tables bundles every static lookup the scheduler needs. Every enum
// combination is present; Validate enforces that at startup.
type Tables struct {
	Stages          map[types.GrowthStage]StageConfig
	Strains         map[types.StrainType]StrainConfig
	Durations       map[types.TaskType]int
	BaseFrequencies map[types.TaskType]int
}

// Default returns the built-in tables
func Default() *Tables {
	return &Tables{
		Stages:          defaultStages(),
		Strains:         defaultStrains(),
		Durations:       defaultDurations(),
		BaseFrequencies: defaultBaseFrequencies(),
	}
}

// Stage looks up a stage config
func (t *Tables) Stage(stage types.GrowthStage) (StageConfig, bool) {
	cfg, ok := t.Stages[stage]
	return cfg, ok
}

// Strain returns the profile for a strain type, falling back to the unknown profile
func (t *Tables) Strain(strainType types.StrainType) StrainConfig {
	if cfg, ok := t.Strains[strainType]; ok {
		return cfg
	}
	return t.Strains[types.StrainUnknown]
}

// BaseFrequency returns the unmodified cadence in days for a task type under a strain profile
func (t *Tables) BaseFrequency(taskType types.TaskType, strain StrainConfig) int {
	switch taskType {
	case types.TaskWatering:
		return strain.WateringFrequencyDays
	case types.TaskFeeding:
		return strain.FeedingFrequencyDays
	case types.TaskInspection:
		return strain.InspectionFrequencyDays
	default:
		return t.BaseFrequencies[taskType]
	}
}

// FrequencyDays returns max(1, round(base / modifier))
func (t *Tables) FrequencyDays(taskType types.TaskType, strain StrainConfig, stage types.GrowthStage) int {
	return FrequencyFor(t.BaseFrequency(taskType, strain), strain.Modifier(stage))
}

// FrequencyFor applies a stage modifier to a base cadence
func FrequencyFor(baseDays int, modifier float64) int {
	if modifier <= 0 {
		modifier = 1.0
	}
	days := int(math.Round(float64(baseDays) / modifier))
	if days < 1 {
		return 1
	}
	return days
}

// ExpectedStageDays returns DurationDays scaled by the strain's modifier for that stage
func (t *Tables) ExpectedStageDays(stage types.GrowthStage, strain StrainConfig) (float64, bool) {
	cfg, ok := t.Stages[stage]
	if !ok {
		return 0, false
	}
	return float64(cfg.DurationDays) * strain.Modifier(stage), true
}

// EstimatedMinutes returns the estimated duration for a task type
func (t *Tables) EstimatedMinutes(taskType types.TaskType) int {
	return t.Durations[taskType]
}

// Validate checks that every table is exhaustive and the stage graph is a chain ending in curing
func (t *Tables) Validate() error {
	for _, stage := range types.AllGrowthStages {
		cfg, ok := t.Stages[stage]
		if !ok {
			return fmt.Errorf("growth stage %q has no config", stage)
		}
		if cfg.Stage != stage {
			return fmt.Errorf("growth stage %q config is labelled %q", stage, cfg.Stage)
		}
		if cfg.DurationDays < 1 {
			return fmt.Errorf("growth stage %q has non-positive duration", stage)
		}
		if cfg.HasNext() && !cfg.NextStage.IsValid() {
			return fmt.Errorf("growth stage %q points at unknown stage %q", stage, cfg.NextStage)
		}
		for _, taskType := range types.AllTaskTypes {
			if !cfg.TaskPriorities[taskType].IsValid() {
				return fmt.Errorf("growth stage %q has no priority for task type %q", stage, taskType)
			}
		}
		for _, taskType := range cfg.RecommendedTasks {
			if !taskType.IsValid() {
				return fmt.Errorf("growth stage %q recommends unknown task type %q", stage, taskType)
			}
		}
	}
	if err := t.validateChain(); err != nil {
		return err
	}

	for _, strainType := range types.AllStrainTypes {
		cfg, ok := t.Strains[strainType]
		if !ok {
			return fmt.Errorf("strain type %q has no scheduling config", strainType)
		}
		if cfg.WateringFrequencyDays < 1 || cfg.FeedingFrequencyDays < 1 || cfg.InspectionFrequencyDays < 1 {
			return fmt.Errorf("strain type %q has a non-positive base frequency", strainType)
		}
		for _, stage := range types.AllGrowthStages {
			if m, ok := cfg.GrowthStageModifiers[stage]; !ok || m <= 0 {
				return fmt.Errorf("strain type %q has no positive modifier for stage %q", strainType, stage)
			}
		}
	}

	for _, taskType := range types.AllTaskTypes {
		if t.Durations[taskType] < 1 {
			return fmt.Errorf("task type %q has no estimated duration", taskType)
		}
		switch taskType {
		case types.TaskWatering, types.TaskFeeding, types.TaskInspection:
		default:
			if t.BaseFrequencies[taskType] < 1 {
				return fmt.Errorf("task type %q has no base frequency", taskType)
			}
		}
	}
	return nil
}

func (t *Tables) validateChain() error {
	visited := make(map[types.GrowthStage]bool, len(t.Stages))
	stage := types.AllGrowthStages[0]
	for {
		if visited[stage] {
			return fmt.Errorf("growth stage chain has a cycle at %q", stage)
		}
		visited[stage] = true
		cfg := t.Stages[stage]
		if !cfg.HasNext() {
			break
		}
		if cfg.NextStage.Index() <= stage.Index() {
			return fmt.Errorf("growth stage %q moves backwards to %q", stage, cfg.NextStage)
		}
		stage = cfg.NextStage
	}
	if stage != types.StageCuring {
		return fmt.Errorf("growth stage chain ends at %q instead of %q", stage, types.StageCuring)
	}
	if len(visited) != len(types.AllGrowthStages) {
		return fmt.Errorf("growth stage chain reaches %d of %d stages", len(visited), len(types.AllGrowthStages))
	}
	return nil
}
