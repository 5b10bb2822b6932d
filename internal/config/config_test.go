package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/config"
)

func TestSourceConfig_FindsByKindAndDataset(t *testing.T) {
	p := config.Pipeline{
		Sources: []config.SourceDefinition{
			{Kind: "flowplatform", Dataset: "health", FlowName: "health_survey"},
			{Kind: "webform", Dataset: "education", FormID: "edu_form"},
		},
	}

	got, ok := p.SourceConfig("flowplatform", "health")
	assert.True(t, ok)
	assert.Equal(t, "health_survey", got.FlowName)

	_, ok = p.SourceConfig("flowplatform", "education")
	assert.False(t, ok, "kind matches but dataset does not")

	_, ok = p.SourceConfig("groupcrawler", "health")
	assert.False(t, ok, "dataset matches but kind does not")
}

func TestPipelineConfig_BuildsDatasetsAndWSCorrectScheme(t *testing.T) {
	p := config.Pipeline{
		Datasets: []config.DatasetDefinition{
			{DatasetName: "health", WSCodeMatchValue: "health_target"},
		},
		WSCorrectScheme: config.CodeSchemeDefinition{
			SchemeID: "ws_correct",
			Codes: []config.CodeDefinition{
				{CodeID: "to_health", CodeType: "NORMAL", MatchValues: []string{"health_target"}},
			},
		},
		DefaultWSDataset: "fallback",
	}

	built := p.PipelineConfig()
	assert.Len(t, built.Datasets, 1)
	assert.Equal(t, "health", built.Datasets[0].DatasetName)
	assert.Equal(t, "ws_correct", built.WSCorrectScheme.SchemeID)
	assert.Equal(t, "fallback", built.DefaultWSDataset)
}

func TestReconcileConfig_MissingDatasetReportsNotOK(t *testing.T) {
	p := config.Pipeline{}
	_, ok := p.ReconcileConfig("unknown")
	assert.False(t, ok)
}
