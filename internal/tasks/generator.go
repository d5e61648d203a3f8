// Package tasks generates, adjusts and persists plant care tasks.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/internal/growth"
	"plantcare-engine/internal/logging"
	"plantcare-engine/pkg/types"
)

// GeneratorConfig represents configuration for task generation
type GeneratorConfig struct {
	HorizonDays     int `json:"horizon_days"`
	DefaultDueHour  int `json:"default_due_hour"`
	MaxSeriesLength int `json:"max_series_length"`
}

// DefaultGeneratorConfig returns default generator configuration
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		HorizonDays:     7,
		DefaultDueHour:  9,
		MaxSeriesLength: 365,
	}
}

// Generator produces concrete care tasks from the growth tables
type Generator struct {
	tables *growth.Tables
	config GeneratorConfig
	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

// GeneratorOption customizes a Generator
type GeneratorOption func(*Generator)

// WithClock sets the generator's clock
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithIDFunc sets the task id source
func WithIDFunc(newID func() string) GeneratorOption {
	return func(g *Generator) { g.newID = newID }
}

// NewGenerator creates a new task generator
func NewGenerator(tables *growth.Tables, config GeneratorConfig, logger logging.Logger, opts ...GeneratorOption) *Generator {
	if tables == nil {
		tables = growth.Default()
	}
	if config.HorizonDays <= 0 {
		config.HorizonDays = DefaultGeneratorConfig().HorizonDays
	}
	if config.MaxSeriesLength <= 0 {
		config.MaxSeriesLength = DefaultGeneratorConfig().MaxSeriesLength
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	g := &Generator{
		tables: tables,
		config: config,
		logger: logger.WithComponent("task_generator"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the tasks for a plant in the given stage over the horizon.
// Task i (i >= 1) of a type is due today + i*frequency while that stays within
// the horizon; an unknown stage yields no tasks.
func (g *Generator) Generate(ctx context.Context, plant *types.Plant, stage types.GrowthStage, strain types.StrainCharacteristics) []types.PlantTask {
	if plant == nil {
		return nil
	}
	stageCfg, ok := g.tables.Stage(stage)
	if !ok {
		g.logger.WarnContext(ctx, "generating nothing for unknown stage",
			"plant_id", plant.ID, "error", engineerrors.NewConfigurationGap("growth stage", stage))
		return nil
	}

	strainCfg := g.tables.Strain(strain.Type)
	now := g.now()
	today := g.anchor(now)

	var out []types.PlantTask
	for _, taskType := range stageCfg.RecommendedTasks {
		freq := g.tables.FrequencyDays(taskType, strainCfg, stage)
		for i := 1; i*freq <= g.config.HorizonDays; i++ {
			out = append(out, types.PlantTask{
				ID:                       g.newID(),
				PlantID:                  plant.ID,
				UserID:                   plant.UserID,
				TaskType:                 taskType,
				Title:                    Title(taskType, plant.Name),
				Description:              describe(taskType, stage, freq, strain),
				DueDate:                  today.AddDate(0, 0, i*freq),
				Status:                   types.TaskStatusPending,
				Priority:                 stageCfg.Priority(taskType),
				EstimatedDurationMinutes: g.tables.EstimatedMinutes(taskType),
				AutoGenerated:            true,
				SequenceNumber:           i,
				CreatedAt:                now,
				UpdatedAt:                now,
			})
		}
	}

	g.logger.DebugContext(ctx, "generated tasks",
		"plant_id", plant.ID, "stage", string(stage), "strain_type", string(strainCfg.Type), "count", len(out))
	return out
}

// anchor returns today's date at the default due hour in UTC
func (g *Generator) anchor(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), g.config.DefaultDueHour, 0, 0, 0, time.UTC)
}

// SeriesTemplate describes a recurring task series
type SeriesTemplate struct {
	PlantID                  string
	UserID                   string
	TaskType                 types.TaskType
	Title                    string
	Description              string
	Priority                 types.Priority
	EstimatedDurationMinutes int
	TemplateID               *string
	IntervalDays             int
}

// GenerateSeries emits one task every IntervalDays from `from` through `until`
// inclusive, numbered from 1, capped at MaxSeriesLength.
func (g *Generator) GenerateSeries(template SeriesTemplate, from, until time.Time) ([]types.PlantTask, error) {
	if template.IntervalDays < 1 {
		return nil, engineerrors.NewValidationError("interval_days", fmt.Sprintf("must be at least 1, got %d", template.IntervalDays))
	}
	if !template.TaskType.IsValid() {
		return nil, engineerrors.NewValidationError("task_type", fmt.Sprintf("unknown task type %q", template.TaskType))
	}
	if template.PlantID == "" {
		return nil, engineerrors.NewValidationError("plant_id", "required")
	}
	if until.Before(from) {
		return nil, nil
	}

	priority := template.Priority
	if !priority.IsValid() {
		priority = types.PriorityMedium
	}
	minutes := template.EstimatedDurationMinutes
	if minutes <= 0 {
		minutes = g.tables.EstimatedMinutes(template.TaskType)
	}
	title := template.Title
	if title == "" {
		title = Title(template.TaskType, "")
	}

	now := g.now()
	var out []types.PlantTask
	for seq := 1; seq <= g.config.MaxSeriesLength; seq++ {
		due := from.AddDate(0, 0, (seq-1)*template.IntervalDays)
		if due.After(until) {
			break
		}
		out = append(out, types.PlantTask{
			ID:                       g.newID(),
			PlantID:                  template.PlantID,
			UserID:                   template.UserID,
			TaskType:                 template.TaskType,
			Title:                    title,
			Description:              template.Description,
			DueDate:                  due,
			Status:                   types.TaskStatusPending,
			Priority:                 priority,
			EstimatedDurationMinutes: minutes,
			AutoGenerated:            true,
			TemplateID:               template.TemplateID,
			SequenceNumber:           seq,
			CreatedAt:                now,
			UpdatedAt:                now,
		})
	}
	return out, nil
}

var titleVerbs = map[types.TaskType]string{
	types.TaskWatering:    "Water",
	types.TaskFeeding:     "Feed",
	types.TaskInspection:  "Inspect",
	types.TaskPruning:     "Prune",
	types.TaskTraining:    "Train",
	types.TaskDefoliation: "Defoliate",
	types.TaskFlushing:    "Flush",
	types.TaskHarvest:     "Harvest",
	types.TaskTransplant:  "Transplant",
}

// Title returns the display title for a task on a plant
func Title(taskType types.TaskType, plantName string) string {
	verb, ok := titleVerbs[taskType]
	if !ok {
		verb = string(taskType)
	}
	if plantName == "" {
		return verb + " plant"
	}
	return verb + " " + plantName
}

func describe(taskType types.TaskType, stage types.GrowthStage, freq int, strain types.StrainCharacteristics) string {
	desc := fmt.Sprintf("%s during %s, every %d day(s)", taskType, stage, freq)
	if strain.Confidence == types.ConfidenceLow {
		desc += "; strain data incomplete, using stage defaults"
	}
	return desc
}
