package types

import (
	"fmt"
	"strings"
	"time"
)

// GrowthStage represents a phase in a plant's lifecycle
type GrowthStage string

const (
	StageGermination   GrowthStage = "germination"
	StageSeedling      GrowthStage = "seedling"
	StageVegetative    GrowthStage = "vegetative"
	StagePreFlower     GrowthStage = "pre_flower"
	StageFlowering     GrowthStage = "flowering"
	StageLateFlowering GrowthStage = "late_flowering"
	StageHarvest       GrowthStage = "harvest"
	StageCuring        GrowthStage = "curing"
)

// AllGrowthStages lists the stages in lifecycle order
var AllGrowthStages = []GrowthStage{
	StageGermination,
	StageSeedling,
	StageVegetative,
	StagePreFlower,
	StageFlowering,
	StageLateFlowering,
	StageHarvest,
	StageCuring,
}

// Index returns the lifecycle position of the stage, -1 when unknown
func (s GrowthStage) Index() int {
	for i, stage := range AllGrowthStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsValid checks if the stage is known
func (s GrowthStage) IsValid() bool {
	return s.Index() >= 0
}

// ParseGrowthStage parses a stage name; dashes and spaces are accepted as separators
func ParseGrowthStage(s string) (GrowthStage, error) {
	normalized := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	stage := GrowthStage(normalized)
	if !stage.IsValid() {
		return "", fmt.Errorf("unknown growth stage %q", s)
	}
	return stage, nil
}

// StrainType represents the broad cultivar family used for scheduling profiles
type StrainType string

const (
	StrainIndica  StrainType = "indica"
	StrainSativa  StrainType = "sativa"
	StrainHybrid  StrainType = "hybrid"
	StrainCBD     StrainType = "cbd"
	StrainUnknown StrainType = "unknown"
)

// AllStrainTypes lists every strain type with a scheduling profile
var AllStrainTypes = []StrainType{StrainIndica, StrainSativa, StrainHybrid, StrainCBD, StrainUnknown}

// ParseStrainType maps free-form type labels onto a strain type, falling back to unknown
func ParseStrainType(s string) StrainType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return StrainUnknown
	case strings.Contains(v, "hybrid"):
		return StrainHybrid
	case strings.Contains(v, "indica"):
		return StrainIndica
	case strings.Contains(v, "sativa"):
		return StrainSativa
	case v == "cbd" || strings.Contains(v, "cbd") || strings.Contains(v, "hemp"):
		return StrainCBD
	default:
		return StrainUnknown
	}
}

// Plant is the external plant record read by the engine
type Plant struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Name           string      `json:"name"`
	StrainID       *string     `json:"strain_id,omitempty"`
	PlantedDate    time.Time   `json:"planted_date"`
	GrowthStage    GrowthStage `json:"growth_stage"`
	CannabisType   *string     `json:"cannabis_type,omitempty"`
	StageStartedAt *time.Time  `json:"stage_started_at,omitempty"`
}

// StrainCharacteristics is the normalized view of a plant's strain
type StrainCharacteristics struct {
	StrainID       string     `json:"strain_id"`
	Name           string     `json:"name"`
	Type           StrainType `json:"type"`
	FloweringWeeks *int       `json:"flowering_weeks,omitempty"`
	GrowDifficulty *string    `json:"grow_difficulty,omitempty"`
	Confidence     Confidence `json:"confidence"`
}

// UnknownStrain returns the synthetic record used when no strain data is available
func UnknownStrain(strainID string) StrainCharacteristics {
	return StrainCharacteristics{
		StrainID:   strainID,
		Name:       "Unknown strain",
		Type:       StrainUnknown,
		Confidence: ConfidenceLow,
	}
}

// Conditions holds an environmental reading for a plant
type Conditions struct {
	Temperature *float64  `json:"temperature,omitempty"` // celsius
	Humidity    *float64  `json:"humidity,omitempty"`    // relative, percent
	PH          *float64  `json:"ph,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}
