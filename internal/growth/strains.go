package growth

import (
	"plantcare-engine/pkg/types"
)

// StrainConfig is the scheduling profile for one strain type.
// A stage modifier divides base task frequency and multiplies base stage duration.
type StrainConfig struct {
	Type                    types.StrainType
	WateringFrequencyDays   int
	FeedingFrequencyDays    int
	InspectionFrequencyDays int
	GrowthStageModifiers    map[types.GrowthStage]float64
}

// Modifier returns the stage modifier, 1.0 when absent or non-positive
func (c StrainConfig) Modifier(stage types.GrowthStage) float64 {
	if m, ok := c.GrowthStageModifiers[stage]; ok && m > 0 {
		return m
	}
	return 1.0
}

func modifiers(overrides map[types.GrowthStage]float64) map[types.GrowthStage]float64 {
	m := make(map[types.GrowthStage]float64, len(types.AllGrowthStages))
	for _, stage := range types.AllGrowthStages {
		m[stage] = 1.0
	}
	for stage, v := range overrides {
		m[stage] = v
	}
	return m
}

func defaultStrains() map[types.StrainType]StrainConfig {
	return map[types.StrainType]StrainConfig{
		types.StrainIndica: {
			Type:                    types.StrainIndica,
			WateringFrequencyDays:   3,
			FeedingFrequencyDays:    7,
			InspectionFrequencyDays: 2,
			GrowthStageModifiers: modifiers(map[types.GrowthStage]float64{
				types.StageVegetative: 0.9,
				types.StageFlowering:  0.9,
			}),
		},
		types.StrainSativa: {
			Type:                    types.StrainSativa,
			WateringFrequencyDays:   2,
			FeedingFrequencyDays:    5,
			InspectionFrequencyDays: 2,
			GrowthStageModifiers: modifiers(map[types.GrowthStage]float64{
				types.StageVegetative: 1.2,
				types.StageFlowering:  1.3,
			}),
		},
		types.StrainHybrid: {
			Type:                    types.StrainHybrid,
			WateringFrequencyDays:   2,
			FeedingFrequencyDays:    6,
			InspectionFrequencyDays: 2,
			GrowthStageModifiers: modifiers(map[types.GrowthStage]float64{
				types.StageFlowering: 1.1,
			}),
		},
		types.StrainCBD: {
			Type:                    types.StrainCBD,
			WateringFrequencyDays:   3,
			FeedingFrequencyDays:    7,
			InspectionFrequencyDays: 3,
			GrowthStageModifiers:    modifiers(nil),
		},
		types.StrainUnknown: {
			Type:                    types.StrainUnknown,
			WateringFrequencyDays:   2,
			FeedingFrequencyDays:    7,
			InspectionFrequencyDays: 3,
			GrowthStageModifiers:    modifiers(nil),
		},
	}
}
