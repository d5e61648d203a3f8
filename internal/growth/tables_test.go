package growth

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantcare-engine/pkg/types"
)

func TestDefaultTablesValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_DetectsGaps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Tables)
		errMsg string
	}{
		{
			name:   "missing stage",
			mutate: func(tb *Tables) { delete(tb.Stages, types.StageFlowering) },
			errMsg: "has no config",
		},
		{
			name: "missing priority",
			mutate: func(tb *Tables) {
				delete(tb.Stages[types.StageSeedling].TaskPriorities, types.TaskHarvest)
			},
			errMsg: "no priority for task type",
		},
		{
			name: "cycle",
			mutate: func(tb *Tables) {
				cfg := tb.Stages[types.StageCuring]
				cfg.NextStage = types.StageGermination
				tb.Stages[types.StageCuring] = cfg
			},
			errMsg: "moves backwards",
		},
		{
			name: "chain skips a stage",
			mutate: func(tb *Tables) {
				cfg := tb.Stages[types.StageSeedling]
				cfg.NextStage = types.StagePreFlower
				tb.Stages[types.StageSeedling] = cfg
			},
			errMsg: "reaches 7 of 8",
		},
		{
			name:   "missing strain",
			mutate: func(tb *Tables) { delete(tb.Strains, types.StrainCBD) },
			errMsg: "no scheduling config",
		},
		{
			name: "missing modifier",
			mutate: func(tb *Tables) {
				delete(tb.Strains[types.StrainHybrid].GrowthStageModifiers, types.StageHarvest)
			},
			errMsg: "no positive modifier",
		},
		{
			name:   "missing duration",
			mutate: func(tb *Tables) { delete(tb.Durations, types.TaskPruning) },
			errMsg: "no estimated duration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := Default()
			tt.mutate(tables)
			err := tables.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStageChain(t *testing.T) {
	tables := Default()
	stage := types.StageGermination
	var walked []types.GrowthStage
	for {
		walked = append(walked, stage)
		cfg, ok := tables.Stage(stage)
		require.True(t, ok)
		if !cfg.HasNext() {
			break
		}
		stage = cfg.NextStage
	}
	assert.Equal(t, types.AllGrowthStages, walked)
}

func TestStrainFallback(t *testing.T) {
	tables := Default()
	assert.Equal(t, types.StrainUnknown, tables.Strain("ruderalis").Type)
	assert.Equal(t, types.StrainSativa, tables.Strain(types.StrainSativa).Type)
}

func TestSativaVegetativeExpectedDays(t *testing.T) {
	tables := Default()
	days, ok := tables.ExpectedStageDays(types.StageVegetative, tables.Strain(types.StrainSativa))
	require.True(t, ok)
	assert.InDelta(t, 36.0, days, 1e-9)
}

func TestFrequencyFor(t *testing.T) {
	assert.Equal(t, 2, FrequencyFor(2, 1.2))
	assert.Equal(t, 3, FrequencyFor(3, 1.0))
	assert.Equal(t, 4, FrequencyFor(7, 2.0))
	assert.Equal(t, 1, FrequencyFor(1, 5.0))
	assert.Equal(t, 1, FrequencyFor(0, 1.0))
	assert.Equal(t, 3, FrequencyFor(3, 0))
}

func TestFrequencyMonotonicity(t *testing.T) {
	tables := Default()
	for _, strainType := range types.AllStrainTypes {
		strain := tables.Strain(strainType)
		for _, taskType := range types.AllTaskTypes {
			base := tables.BaseFrequency(taskType, strain)
			mods := []float64{0.25, 0.5, 0.9, 1.0, 1.1, 1.2, 1.3, 1.5, 2.0, 3.0, 10.0}
			require.True(t, sort.Float64sAreSorted(mods))

			prev := FrequencyFor(base, mods[0])
			for _, m := range mods[1:] {
				f := FrequencyFor(base, m)
				assert.GreaterOrEqual(t, f, 1)
				assert.LessOrEqual(t, f, prev, "strain=%s task=%s modifier=%v", strainType, taskType, m)
				prev = f
			}
		}
	}
}

func TestFrequencyDaysUsesStageModifier(t *testing.T) {
	tables := Default()
	indica := tables.Strain(types.StrainIndica)
	// 3 / 0.9 rounds to 3
	assert.Equal(t, 3, tables.FrequencyDays(types.TaskWatering, indica, types.StageVegetative))
	// 7 / 0.9 rounds to 8
	assert.Equal(t, 8, tables.FrequencyDays(types.TaskFeeding, indica, types.StageFlowering))
	assert.Equal(t, 7, tables.FrequencyDays(types.TaskPruning, indica, types.StageSeedling))
}
