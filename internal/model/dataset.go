package model

// DatasetConfig describes one named dataset ("demog", "s01e01", ...): the
// scheme it codes against, and the WS-redirect match values that let the
// back-sync engine resolve a WRONG_SCHEME label to a destination dataset.
type DatasetConfig struct {
	DatasetName string
	CodeScheme  CodeScheme

	// WSCodeMatchValue is compared against the code's MatchValues list when
	// resolving a WS code (the numeric/string match configured on the
	// WS-Correct-Dataset scheme) to a dataset.
	WSCodeMatchValue string

	// WSStringValue is a per-dataset string key that
	// GetDatasetConfigByWSStringValue looks datasets up by. Back-sync's
	// target resolution does not read it: its string-value fallback uses the
	// WS code's own StringValue (see SetDatasetFromWSStringValue).
	WSStringValue string

	// AutoCoders are pure text -> label functions forward sync applies, in
	// order, to an unlabelled message before submitting it uncoded (spec
	// §4.G); only non-null outputs are kept.
	AutoCoders []func(text string) *Label
}

// PipelineConfig is the set of dataset configurations plus the fallback
// used when a WS code resolves to no specific dataset.
type PipelineConfig struct {
	Datasets []DatasetConfig

	// WSCorrectScheme is the distinguished WS-Correct-Dataset scheme (spec
	// §3.1): its codes' MatchValues name the dataset a WRONG_SCHEME message
	// should be redirected to.
	WSCorrectScheme CodeScheme

	DefaultWSDataset string

	// SetDatasetFromWSStringValue enables the fallback resolution path
	// (spec §4.H.3.b): when match-value resolution fails, a WS code whose
	// StringValue is itself one of its own MatchValues names the target
	// dataset directly.
	SetDatasetFromWSStringValue bool
}

// WSCorrectSchemeID is a convenience accessor used by callers that only
// need the scheme id (e.g. to recognise a WS-Correct label by scheme),
// rather than the full scheme.
func (c PipelineConfig) WSCorrectSchemeID() string {
	return c.WSCorrectScheme.SchemeID
}

// GetDatasetConfig returns the config for the named dataset, or nil.
func (c PipelineConfig) GetDatasetConfig(name string) *DatasetConfig {
	for i := range c.Datasets {
		if c.Datasets[i].DatasetName == name {
			return &c.Datasets[i]
		}
	}
	return nil
}

// GetDatasetConfigByWSCodeMatchValue finds the dataset whose WSCodeMatchValue
// matches value, mirroring
// get_dataset_config_by_ws_code_match_value in the original sync engine.
func (c PipelineConfig) GetDatasetConfigByWSCodeMatchValue(value string) *DatasetConfig {
	for i := range c.Datasets {
		if c.Datasets[i].WSCodeMatchValue == value {
			return &c.Datasets[i]
		}
	}
	return nil
}

// GetDatasetConfigByWSStringValue finds the dataset whose WSStringValue
// matches value. Back-sync's WS target resolution does not call it.
func (c PipelineConfig) GetDatasetConfigByWSStringValue(value string) *DatasetConfig {
	for i := range c.Datasets {
		if c.Datasets[i].WSStringValue == value {
			return &c.Datasets[i]
		}
	}
	return nil
}

// AnalysisDatasetType distinguishes the two row shapes component K
// projects (spec §4.K): demographic columns (subject to NIC collapsing)
// versus research-question-answer columns (subject to TRUE_MISSING only).
type AnalysisDatasetType string

const (
	AnalysisDemographic            AnalysisDatasetType = "DEMOGRAPHIC"
	AnalysisResearchQuestionAnswer AnalysisDatasetType = "RESEARCH_QUESTION_ANSWER"
)

// CodingConfig names one scheme a message in an analysis column may carry a
// label against; duplicated schemes (scheme_id-2, ...) are listed as
// separate CodingConfigs so the projector can emit one column per suffix.
type CodingConfig struct {
	SchemeID string
	Scheme   CodeScheme
}

// AnalysisDatasetConfig describes one analysis column (spec §4.K): the
// engagement-db datasets whose messages feed it, its raw-text field name,
// and the coding schemes whose latest labels populate its coded columns.
type AnalysisDatasetConfig struct {
	ColumnName           string
	EngagementDBDatasets []string
	DatasetType          AnalysisDatasetType
	RawField             string
	CodingConfigs        []CodingConfig
}

// SchemeIDs returns the scheme ids this analysis column draws labels from,
// in configured order.
func (a AnalysisDatasetConfig) SchemeIDs() []string {
	ids := make([]string, len(a.CodingConfigs))
	for i, c := range a.CodingConfigs {
		ids[i] = c.SchemeID
	}
	return ids
}
