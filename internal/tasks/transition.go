package tasks

import (
	"time"

	"plantcare-engine/internal/growth"
	"plantcare-engine/pkg/types"
)

// TransitionDetector decides when a plant is due for its next growth stage
type TransitionDetector struct {
	tables *growth.Tables
	now    func() time.Time
}

// NewTransitionDetector creates a detector; now defaults to time.Now
func NewTransitionDetector(tables *growth.Tables, now func() time.Time) *TransitionDetector {
	if tables == nil {
		tables = growth.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &TransitionDetector{tables: tables, now: now}
}

// Detect returns the next stage when the plant has spent at least the
// strain-scaled stage duration in its current stage.
func (d *TransitionDetector) Detect(plant *types.Plant, strain types.StrainCharacteristics) (types.GrowthStage, bool) {
	if plant == nil {
		return "", false
	}
	cfg, ok := d.tables.Stage(plant.GrowthStage)
	if !ok || !cfg.HasNext() {
		return "", false
	}
	expected, _ := d.tables.ExpectedStageDays(plant.GrowthStage, d.tables.Strain(strain.Type))
	if float64(DaysInStage(plant, d.now())) >= expected {
		return cfg.NextStage, true
	}
	return "", false
}

// DaysInStage counts whole days since the stage started, or since planting
// when the stage start is unknown. Never negative.
func DaysInStage(plant *types.Plant, now time.Time) int {
	origin := plant.PlantedDate
	if plant.StageStartedAt != nil {
		origin = *plant.StageStartedAt
	}
	elapsed := now.Sub(origin)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}
