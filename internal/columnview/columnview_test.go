package columnview_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/columnview"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

func fixedNow() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

func genderScheme() model.CodeScheme {
	return model.CodeScheme{
		SchemeID: "gender",
		Codes: []model.Code{
			{CodeID: "female", CodeType: model.CodeTypeNormal},
			{CodeID: "male", CodeType: model.CodeTypeNormal},
			{CodeID: "stop", CodeType: model.CodeTypeControl, ControlCode: model.ControlCodeStop},
		},
	}
}

func demogCfg() model.AnalysisDatasetConfig {
	return model.AnalysisDatasetConfig{
		ColumnName:           "gender",
		EngagementDBDatasets: []string{"demog_gender"},
		DatasetType:          model.AnalysisDemographic,
		RawField:             "gender_raw",
		CodingConfigs:        []model.CodingConfig{{SchemeID: "gender", Scheme: genderScheme()}},
	}
}

func rqaCfg() model.AnalysisDatasetConfig {
	return model.AnalysisDatasetConfig{
		ColumnName:           "s01e01",
		EngagementDBDatasets: []string{"s01e01"},
		DatasetType:          model.AnalysisResearchQuestionAnswer,
		RawField:             "s01e01_raw",
		CodingConfigs:        []model.CodingConfig{{SchemeID: "s01e01_scheme"}},
	}
}

// TestImputeTrueMissing covers spec §4.J step 5: a participant with no
// contribution at all for a configured column gets TRUE_MISSING.
func TestImputeTrueMissing(t *testing.T) {
	msgs := []model.Message{
		{ParticipantUUID: "p1", Dataset: "demog_gender", Text: "female",
			Labels: []model.Label{{SchemeID: "gender", CodeID: "female"}}},
	}
	cfgs := []model.AnalysisDatasetConfig{demogCfg(), rqaCfg()}

	rows := columnview.PerParticipant(msgs, cfgs)
	columnview.ImputePass2(rows, cfgs, fixedNow)

	require.Len(t, rows, 1)
	col := rows[0].Columns["s01e01"]
	assert.Equal(t, "", col.Raw)
	require.Len(t, col.Labels, 1)
	assert.Equal(t, model.CodeIDTrueMissing, col.Labels[0].CodeID)
}

// TestImputeNIC_CollapsesConflictingNormalCodes covers spec §4.J step 6.
func TestImputeNIC_CollapsesConflictingNormalCodes(t *testing.T) {
	msgs := []model.Message{
		{ParticipantUUID: "p1", MessageID: "m1", Dataset: "demog_gender", Text: "female",
			LastUpdatedUTC: fixedNow(),
			Labels:         []model.Label{{SchemeID: "gender", CodeID: "female"}}},
	}
	cfgs := []model.AnalysisDatasetConfig{demogCfg()}

	rows := columnview.PerParticipant(msgs, cfgs)
	require.Len(t, rows, 1)
	col := rows[0].Columns["gender"]
	col.Labels = append(col.Labels, model.Label{SchemeID: "gender", CodeID: "male"})
	rows[0].Columns["gender"] = col

	columnview.ImputePass2(rows, cfgs, fixedNow)

	got := rows[0].Columns["gender"].Labels
	require.Len(t, got, 1)
	assert.Equal(t, model.CodeIDNIC, got[0].CodeID)
}

// TestImputeNIC_SkipsSingleCode leaves a column with one NORMAL code alone.
func TestImputeNIC_SkipsSingleCode(t *testing.T) {
	msgs := []model.Message{
		{ParticipantUUID: "p1", Dataset: "demog_gender", Text: "female",
			Labels: []model.Label{{SchemeID: "gender", CodeID: "female"}}},
	}
	cfgs := []model.AnalysisDatasetConfig{demogCfg()}

	rows := columnview.PerParticipant(msgs, cfgs)
	columnview.ImputePass2(rows, cfgs, fixedNow)

	got := rows[0].Columns["gender"].Labels
	require.Len(t, got, 1)
	assert.Equal(t, "female", got[0].CodeID)
}

// TestImputeConsentWithdrawn is scenario S6: a STOP label on any column
// propagates to every raw field and coded column in the participant's row.
func TestImputeConsentWithdrawn(t *testing.T) {
	msgs := []model.Message{
		{ParticipantUUID: "p1", Dataset: "demog_gender", Text: "stop please",
			Labels: []model.Label{{SchemeID: "gender", CodeID: "stop"}}},
	}
	cfgs := []model.AnalysisDatasetConfig{demogCfg(), rqaCfg()}

	rows := columnview.PerParticipant(msgs, cfgs)
	columnview.ImputePass2(rows, cfgs, fixedNow)

	require.Len(t, rows, 1)
	assert.True(t, rows[0].ConsentWithdrawn)
	for _, name := range []string{"gender", "s01e01"} {
		col := rows[0].Columns[name]
		assert.Equal(t, "STOP", col.Raw)
		require.Len(t, col.Labels, 1)
		assert.Equal(t, model.CodeIDStop, col.Labels[0].CodeID)
	}
}

// TestPerMessage_GroupsByConfiguredDataset ensures only matching datasets
// contribute a column.
func TestPerMessage_GroupsByConfiguredDataset(t *testing.T) {
	msgs := []model.Message{
		{MessageID: "m1", ParticipantUUID: "p1", Dataset: "demog_gender", Text: "female",
			Labels: []model.Label{{SchemeID: "gender", CodeID: "female"}}},
		{MessageID: "m2", ParticipantUUID: "p1", Dataset: "unrelated", Text: "x"},
	}
	cfgs := []model.AnalysisDatasetConfig{demogCfg()}

	rows := columnview.PerMessage(msgs, cfgs)

	require.Len(t, rows, 2)
	_, ok := rows[0].Columns["gender"]
	assert.True(t, ok)
	_, ok = rows[1].Columns["gender"]
	assert.False(t, ok)
}
