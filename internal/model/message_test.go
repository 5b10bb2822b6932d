package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

func TestLatestLabels_KeepsNewestPerScheme(t *testing.T) {
	now := time.Now().UTC()
	msg := model.Message{
		Labels: []model.Label{
			{SchemeID: "s1", CodeID: "a", DateTimeUTC: now},
			{SchemeID: "s2", CodeID: "x", DateTimeUTC: now},
			{SchemeID: "s1", CodeID: "b", DateTimeUTC: now.Add(time.Minute)},
		},
	}

	latest := msg.LatestLabels()

	byScheme := map[string]string{}
	for _, l := range latest {
		byScheme[l.SchemeID] = l.CodeID
	}
	assert.Equal(t, "b", byScheme["s1"])
	assert.Equal(t, "x", byScheme["s2"])
	assert.Len(t, latest, 2)
}

func TestLatestLabelForScheme_NoLabels(t *testing.T) {
	msg := model.Message{}
	assert.Nil(t, msg.LatestLabelForScheme("s1"))
}

func TestAppendHistory_SnapshotsLabelsAndIsAppendOnly(t *testing.T) {
	msg := model.Message{Labels: []model.Label{{SchemeID: "s1", CodeID: "a"}}}
	at := time.Now().UTC()

	msg.AppendHistory("h1", model.NewOrigin("source", nil), at)
	msg.Labels = append(msg.Labels, model.Label{SchemeID: "s2", CodeID: "b"})
	msg.AppendHistory("h2", model.NewOrigin("back_sync", nil), at.Add(time.Second))

	assert.Len(t, msg.History, 2)
	assert.Len(t, msg.History[0].Labels, 1, "first history entry must not see the later label")
	assert.Len(t, msg.History[1].Labels, 2)
	assert.Equal(t, at.Add(time.Second), msg.LastUpdatedUTC)
}

func TestIsCycleWith(t *testing.T) {
	msg := model.Message{Dataset: "s03", PreviousDatasets: []string{"s01", "s02"}}

	assert.True(t, msg.IsCycleWith("s03"))
	assert.True(t, msg.IsCycleWith("s01"))
	assert.False(t, msg.IsCycleWith("s04"))
}

func TestCodeSchemeDuplicate(t *testing.T) {
	scheme := model.CodeScheme{
		SchemeID: "demog",
		Codes:    []model.Code{{CodeID: "yes"}, {CodeID: "no"}},
	}

	dup := scheme.Duplicate("-2")

	assert.Equal(t, "demog-2", dup.SchemeID)
	assert.Equal(t, scheme.Codes, dup.Codes)
	assert.True(t, scheme.Equal(model.CodeScheme{SchemeID: "demog", Codes: scheme.Codes}))
	assert.False(t, scheme.Equal(dup))
}
