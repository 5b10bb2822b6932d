package backsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/backsync"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

// fakeEDB is an in-memory stand-in for engagementdb.EngagementDB, keyed by
// OriginID. Tests give each message an OriginID equal to its CodaID to
// mirror how back-sync looks a message up by its coda id.
type fakeEDB struct {
	byOrigin map[string]model.Message
}

func newFakeEDB(msgs ...model.Message) *fakeEDB {
	f := &fakeEDB{byOrigin: map[string]model.Message{}}
	for _, m := range msgs {
		f.byOrigin[m.OriginID] = m
	}
	return f
}

func (f *fakeEDB) GetByOriginID(ctx context.Context, originID string) (model.Message, bool, error) {
	m, ok := f.byOrigin[originID]
	return m, ok, nil
}

func (f *fakeEDB) GetByCodaID(ctx context.Context, codaID string) (model.Message, bool, error) {
	for _, m := range f.byOrigin {
		if m.CodaID == codaID {
			return m, true, nil
		}
	}
	return model.Message{}, false, nil
}

func (f *fakeEDB) GetByFilter(ctx context.Context, filter engagementdb.Filter) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.byOrigin {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeEDB) IterateAll(ctx context.Context, filter engagementdb.Filter, batchSize int, fn func(model.Message) error) error {
	for _, m := range f.byOrigin {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeEDB) SetMessage(ctx context.Context, msg model.Message, tx engagementdb.Tx) error {
	f.byOrigin[msg.OriginID] = msg
	return nil
}

func (f *fakeEDB) BeginTx(ctx context.Context) (engagementdb.Tx, error) {
	return fakeTx{}, nil
}

type fakeTx struct{}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

// fakeCoding is an in-memory stand-in for codingtool.CodingTool, keyed by
// (dataset, codaID).
type fakeCoding struct {
	messages map[string]map[string]codingtool.DatasetMessage
}

func newFakeCoding() *fakeCoding {
	return &fakeCoding{messages: map[string]map[string]codingtool.DatasetMessage{}}
}

func (f *fakeCoding) put(dataset string, dm codingtool.DatasetMessage) {
	if f.messages[dataset] == nil {
		f.messages[dataset] = map[string]codingtool.DatasetMessage{}
	}
	f.messages[dataset][dm.CodaID] = dm
}

func (f *fakeCoding) ListUserIDs(ctx context.Context, dataset string) ([]string, error) { return nil, nil }
func (f *fakeCoding) SetUserIDs(ctx context.Context, dataset string, userIDs []string) error {
	return nil
}
func (f *fakeCoding) ListCodeSchemes(ctx context.Context, dataset string) ([]model.CodeScheme, error) {
	return nil, nil
}
func (f *fakeCoding) SetCodeScheme(ctx context.Context, dataset string, scheme model.CodeScheme) error {
	return nil
}
func (f *fakeCoding) AddMessageToDataset(ctx context.Context, dataset, text string, labels []model.Label) (string, error) {
	return "", nil
}

func (f *fakeCoding) GetDatasetMessage(ctx context.Context, dataset, codaID string) (codingtool.DatasetMessage, bool, error) {
	dm, ok := f.messages[dataset][codaID]
	return dm, ok, nil
}

func (f *fakeCoding) IterateDatasetMessages(ctx context.Context, dataset string, fn func(codingtool.DatasetMessage) error) error {
	for _, dm := range f.messages[dataset] {
		if err := fn(dm); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCoding) UpdateDatasetMessage(ctx context.Context, dataset, codaID string, labels []model.Label, tx codingtool.Tx) error {
	dm := f.messages[dataset][codaID]
	dm.Labels = labels
	f.put(dataset, dm)
	return nil
}

func (f *fakeCoding) BeginTx(ctx context.Context) (codingtool.Tx, error) {
	return fakeCodingTx{}, nil
}

type fakeCodingTx struct{}

func (fakeCodingTx) Commit(ctx context.Context) error   { return nil }
func (fakeCodingTx) Rollback(ctx context.Context) error { return nil }

func wsScheme() model.CodeScheme {
	return model.CodeScheme{
		SchemeID: "ws_correct",
		Codes: []model.Code{
			{CodeID: "ws-to-b", CodeType: model.CodeTypeNormal, MatchValues: []string{"to-b"}},
			{CodeID: "ws-to-a", CodeType: model.CodeTypeNormal, MatchValues: []string{"to-a"}},
		},
	}
}

func datasetAScheme() model.CodeScheme {
	return model.CodeScheme{
		SchemeID: "A",
		Codes: []model.Code{
			{CodeID: "wrong_scheme", CodeType: model.CodeTypeControl, ControlCode: model.ControlCodeWrongScheme},
			{CodeID: "normal_answer", CodeType: model.CodeTypeNormal},
		},
	}
}

func datasetBScheme() model.CodeScheme {
	return model.CodeScheme{
		SchemeID: "B",
		Codes: []model.Code{
			{CodeID: "wrong_scheme", CodeType: model.CodeTypeControl, ControlCode: model.ControlCodeWrongScheme},
			{CodeID: "normal_answer", CodeType: model.CodeTypeNormal},
		},
	}
}

func testConfig() model.PipelineConfig {
	return model.PipelineConfig{
		WSCorrectScheme: wsScheme(),
		Datasets: []model.DatasetConfig{
			{DatasetName: "A", CodeScheme: datasetAScheme(), WSCodeMatchValue: "to-a"},
			{DatasetName: "B", CodeScheme: datasetBScheme(), WSCodeMatchValue: "to-b"},
		},
	}
}

// TestSyncDataset_CleanWSCorrection is scenario S1: a message in dataset A
// labelled WRONG_SCHEME + a WS-correct code pointing at B is redirected to
// B with its label history cleared and provenance recorded in
// previous_datasets.
func TestSyncDataset_CleanWSCorrection(t *testing.T) {
	msg := model.Message{
		MessageID: "m1", OriginID: "coda-1", Dataset: "A", CodaID: "coda-1",
	}
	edb := newFakeEDB(msg)
	coding := newFakeCoding()
	coding.put("A", codingtool.DatasetMessage{
		CodaID: "coda-1",
		Labels: []model.Label{
			{SchemeID: "A", CodeID: "wrong_scheme", Checked: true, DateTimeUTC: time.Now()},
			{SchemeID: "ws_correct", CodeID: "ws-to-b", Checked: true, DateTimeUTC: time.Now()},
		},
	})

	engine := backsync.New(edb, coding, testConfig())
	require.NoError(t, engine.SyncDataset(context.Background(), "A"))

	got, ok, _ := edb.GetByOriginID(context.Background(), "coda-1")
	require.True(t, ok)
	require.Equal(t, "B", got.Dataset)
	require.Equal(t, []string{"A"}, got.PreviousDatasets)
	require.Empty(t, got.Labels)
	require.Len(t, got.History, 1)
}

// TestSyncDataset_CycleFix is scenario S2: continuing S1, the message in B
// is now marked WRONG_SCHEME pointing back at A, which is already in
// previous_datasets. The cycle-fix resets the message to its first dataset
// with no labels and clears the coding-tool checked labels in both A
// and B.
func TestSyncDataset_CycleFix(t *testing.T) {
	msg := model.Message{
		MessageID: "m1", OriginID: "coda-2", Dataset: "B", PreviousDatasets: []string{"A"}, CodaID: "coda-2",
	}
	edb := newFakeEDB(msg)
	coding := newFakeCoding()
	coding.put("A", codingtool.DatasetMessage{
		CodaID: "coda-2",
		Labels: []model.Label{{SchemeID: "A", CodeID: "normal_answer", Checked: true, DateTimeUTC: time.Now()}},
	})
	coding.put("B", codingtool.DatasetMessage{
		CodaID: "coda-2",
		Labels: []model.Label{
			{SchemeID: "B", CodeID: "wrong_scheme", Checked: true, DateTimeUTC: time.Now()},
			{SchemeID: "ws_correct", CodeID: "ws-to-a", Checked: true, DateTimeUTC: time.Now()},
		},
	})

	engine := backsync.New(edb, coding, testConfig())
	require.NoError(t, engine.SyncDataset(context.Background(), "B"))

	got, ok, _ := edb.GetByOriginID(context.Background(), "coda-2")
	require.True(t, ok)
	require.Equal(t, "A", got.Dataset)
	require.Empty(t, got.PreviousDatasets)
	require.Empty(t, got.Labels)

	aMsg, _, _ := coding.GetDatasetMessage(context.Background(), "A", "coda-2")
	require.Len(t, aMsg.Labels, 2) // original + SPECIAL-MANUALLY_UNCODED
	require.Equal(t, model.CodeIDManuallyUncoded, aMsg.Labels[len(aMsg.Labels)-1].CodeID)

	bMsg, _, _ := coding.GetDatasetMessage(context.Background(), "B", "coda-2")
	require.Len(t, bMsg.Labels, 4) // two original + two SPECIAL-MANUALLY_UNCODED
}

// TestSyncDataset_LabelsMatch_NoOp covers the label-match short circuit: no
// WS code and identical labels yields no mutation.
func TestSyncDataset_LabelsMatch_NoOp(t *testing.T) {
	now := time.Now()
	msg := model.Message{
		MessageID: "m1", OriginID: "coda-3", Dataset: "A", CodaID: "coda-3",
		Labels: []model.Label{{SchemeID: "A", CodeID: "normal_answer", DateTimeUTC: now}},
	}
	edb := newFakeEDB(msg)
	coding := newFakeCoding()
	coding.put("A", codingtool.DatasetMessage{
		CodaID: "coda-3",
		Labels: []model.Label{{SchemeID: "A", CodeID: "normal_answer", Checked: true, DateTimeUTC: now}},
	})

	engine := backsync.New(edb, coding, testConfig())
	require.NoError(t, engine.SyncDataset(context.Background(), "A"))

	got, _, _ := edb.GetByOriginID(context.Background(), "coda-3")
	require.Empty(t, got.History)
}

// TestSyncDataset_NoRedirectTarget is scenario S3's failure edge: a WS code
// whose match values name no configured dataset, and no default, fails the
// message.
func TestSyncDataset_NoRedirectTarget(t *testing.T) {
	msg := model.Message{MessageID: "m1", OriginID: "coda-4", Dataset: "A", CodaID: "coda-4"}
	edb := newFakeEDB(msg)
	coding := newFakeCoding()
	coding.put("A", codingtool.DatasetMessage{
		CodaID: "coda-4",
		Labels: []model.Label{
			{SchemeID: "A", CodeID: "wrong_scheme", Checked: true, DateTimeUTC: time.Now()},
			{SchemeID: "ws_correct", CodeID: "unknown-code", Checked: true, DateTimeUTC: time.Now()},
		},
	})

	cfg := testConfig()
	cfg.WSCorrectScheme.Codes = append(cfg.WSCorrectScheme.Codes, model.Code{CodeID: "unknown-code", CodeType: model.CodeTypeNormal, MatchValues: []string{"nowhere"}})

	engine := backsync.New(edb, coding, cfg)
	err := engine.SyncDataset(context.Background(), "A")
	require.Error(t, err)
}
