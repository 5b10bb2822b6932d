package impute_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/impute"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

func numeric(v float64) *float64 { return &v }

func testConfig() model.PipelineConfig {
	return model.PipelineConfig{
		WSCorrectScheme: model.CodeScheme{SchemeID: "ws_correct"},
		Datasets: []model.DatasetConfig{
			{DatasetName: "s01", CodeScheme: model.CodeScheme{
				SchemeID: "s01",
				Codes:    []model.Code{{CodeID: "yes", CodeType: model.CodeTypeNormal}},
			}},
		},
	}
}

func newEngine() *impute.Engine {
	e := impute.New()
	e.Config = testConfig()
	return e
}

// TestImputeReviewStatus_NotReviewed is scenario S4: an uncoded message
// gets NOT_REVIEWED on every applicable scheme.
func TestImputeReviewStatus_NotReviewed(t *testing.T) {
	e := newEngine()
	msg := model.Message{Dataset: "s01"}

	out := e.ImputeAll([]model.Message{msg})[0]

	latest := out.LatestLabelForScheme("s01")
	require.NotNil(t, latest)
	assert.Equal(t, model.CodeIDNotReviewed, latest.CodeID)
}

// TestImputeReviewStatus_CodingError covers the "checked ∧ unchecked"
// branch: the dataset scheme is checked but the WS scheme was never coded.
func TestImputeReviewStatus_CodingError(t *testing.T) {
	e := newEngine()
	msg := model.Message{
		Dataset: "s01",
		Labels:  []model.Label{{SchemeID: "s01", CodeID: "yes", Checked: true, DateTimeUTC: time.Now()}},
	}

	out := e.ImputeAll([]model.Message{msg})[0]

	assert.Equal(t, model.CodeIDCodingError, out.LatestLabelForScheme("s01").CodeID)
	assert.Equal(t, model.CodeIDCodingError, out.LatestLabelForScheme("ws_correct").CodeID)
}

// TestImputeReviewStatus_CleanNoOp covers "checked ∧ ¬unchecked": both
// applicable schemes checked, nothing changes.
func TestImputeReviewStatus_CleanNoOp(t *testing.T) {
	e := newEngine()
	now := time.Now()
	msg := model.Message{
		Dataset: "s01",
		Labels: []model.Label{
			{SchemeID: "s01", CodeID: "yes", Checked: true, DateTimeUTC: now},
			{SchemeID: "ws_correct", CodeID: "yes", Checked: true, DateTimeUTC: now},
		},
	}

	out := e.ImputeAll([]model.Message{msg})[0]

	assert.Len(t, out.Labels, 2)
}

// TestImputeIdempotence is property P7: re-running imputation on an
// already-imputed message changes nothing further.
func TestImputeIdempotence(t *testing.T) {
	e := newEngine()
	msg := model.Message{Dataset: "s01"}

	once := e.ImputeAll([]model.Message{msg})[0]
	twice := e.ImputeAll([]model.Message{once})[0]

	assert.Equal(t, once.Labels, twice.Labels)
}

// TestImputeAgeCategory is scenario S5.
func TestImputeAgeCategory(t *testing.T) {
	e := newEngine()
	e.AgeCategory = &impute.AgeCategoryConfig{
		AgeDataset:       "age",
		AgeSchemeID:      "age_scheme",
		CategorySchemeID: "age_category",
		AgeScheme: model.CodeScheme{
			SchemeID: "age_scheme",
			Codes:    []model.Code{{CodeID: "22", CodeType: model.CodeTypeNormal, NumericValue: numeric(22)}},
		},
		NumericRanges: []impute.AgeRange{
			{CategoryCodeID: "<18", Min: 0, Max: 17},
			{CategoryCodeID: "18-35", Min: 18, Max: 35},
			{CategoryCodeID: "36+", Min: 36, Max: 1000},
		},
	}
	msg := model.Message{
		Dataset: "age",
		Labels:  []model.Label{{SchemeID: "age_scheme", CodeID: "22", DateTimeUTC: time.Now()}},
	}

	out := e.ImputeAll([]model.Message{msg})[0]

	got := out.LatestLabelForScheme("age_category")
	require.NotNil(t, got)
	assert.Equal(t, "18-35", got.CodeID)
}

// TestImputeLocation_SingleNormalCode derives both constituency and county
// from one normal location code.
func TestImputeLocation_SingleNormalCode(t *testing.T) {
	e := newEngine()
	e.LocationRules = &impute.LocationHierarchy{
		LocationDatasetSchemeIDs: []string{"location"},
		ConstituencySchemeID:     "constituency",
		CountySchemeID:           "county",
		Codes: model.CodeScheme{
			SchemeID: "location",
			Codes:    []model.Code{{CodeID: "kibera", CodeType: model.CodeTypeNormal}},
		},
		ConstituencyForLocation: map[string]string{"kibera": "langata"},
		CountyForLocation:       map[string]string{"kibera": "nairobi"},
	}
	msg := model.Message{
		Dataset: "s01",
		Labels:  []model.Label{{SchemeID: "location", CodeID: "kibera", DateTimeUTC: time.Now()}},
	}

	out := e.ImputeAll([]model.Message{msg})[0]

	assert.Equal(t, "langata", out.LatestLabelForScheme("constituency").CodeID)
	assert.Equal(t, "nairobi", out.LatestLabelForScheme("county").CodeID)
}

// TestImputeLocation_MultipleDistinctNormalCodes collapses to CODING_ERROR.
func TestImputeLocation_MultipleDistinctNormalCodes(t *testing.T) {
	e := newEngine()
	e.LocationRules = &impute.LocationHierarchy{
		LocationDatasetSchemeIDs: []string{"loc1", "loc2"},
		ConstituencySchemeID:     "constituency",
		CountySchemeID:           "county",
		Codes: model.CodeScheme{
			SchemeID: "location",
			Codes: []model.Code{
				{CodeID: "kibera", CodeType: model.CodeTypeNormal},
				{CodeID: "mathare", CodeType: model.CodeTypeNormal},
			},
		},
		ConstituencyForLocation: map[string]string{"kibera": "langata"},
		CountyForLocation:       map[string]string{"kibera": "nairobi"},
	}
	msg := model.Message{
		Dataset: "s01",
		Labels: []model.Label{
			{SchemeID: "loc1", CodeID: "kibera", DateTimeUTC: time.Now()},
			{SchemeID: "loc2", CodeID: "mathare", DateTimeUTC: time.Now()},
		},
	}

	out := e.ImputeAll([]model.Message{msg})[0]

	assert.Equal(t, model.CodeIDCodingError, out.LatestLabelForScheme("constituency").CodeID)
	assert.Equal(t, model.CodeIDCodingError, out.LatestLabelForScheme("county").CodeID)
}
