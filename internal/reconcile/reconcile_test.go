package reconcile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/reconcile"
)

type fakeTx struct{}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeCoding struct {
	users   map[string][]string
	schemes map[string][]model.CodeScheme
}

func newFakeCoding() *fakeCoding {
	return &fakeCoding{users: map[string][]string{}, schemes: map[string][]model.CodeScheme{}}
}

func (f *fakeCoding) ListUserIDs(ctx context.Context, dataset string) ([]string, error) {
	return f.users[dataset], nil
}

func (f *fakeCoding) SetUserIDs(ctx context.Context, dataset string, userIDs []string) error {
	f.users[dataset] = userIDs
	return nil
}

func (f *fakeCoding) ListCodeSchemes(ctx context.Context, dataset string) ([]model.CodeScheme, error) {
	return f.schemes[dataset], nil
}

func (f *fakeCoding) SetCodeScheme(ctx context.Context, dataset string, scheme model.CodeScheme) error {
	for i, s := range f.schemes[dataset] {
		if s.SchemeID == scheme.SchemeID {
			f.schemes[dataset][i] = scheme
			return nil
		}
	}
	f.schemes[dataset] = append(f.schemes[dataset], scheme)
	return nil
}

func (f *fakeCoding) AddMessageToDataset(ctx context.Context, dataset, text string, labels []model.Label) (string, error) {
	return "", nil
}

func (f *fakeCoding) GetDatasetMessage(ctx context.Context, dataset, codaID string) (codingtool.DatasetMessage, bool, error) {
	return codingtool.DatasetMessage{}, false, nil
}

func (f *fakeCoding) IterateDatasetMessages(ctx context.Context, dataset string, fn func(codingtool.DatasetMessage) error) error {
	return nil
}

func (f *fakeCoding) UpdateDatasetMessage(ctx context.Context, dataset, codaID string, labels []model.Label, tx codingtool.Tx) error {
	return nil
}

func (f *fakeCoding) BeginTx(ctx context.Context) (codingtool.Tx, error) {
	return fakeTx{}, nil
}

func baseScheme() model.CodeScheme {
	return model.CodeScheme{SchemeID: "s01", Codes: []model.Code{{CodeID: "yes", CodeType: model.CodeTypeNormal}}}
}

// TestReconcile_DuplicatesSchemeByCount is property P8: SchemeCopies=3
// yields s01, s01-2, s01-3.
func TestReconcile_DuplicatesSchemeByCount(t *testing.T) {
	coding := newFakeCoding()
	e := reconcile.New(coding)
	cfg := reconcile.DatasetReconcileConfig{
		Dataset:      "s01",
		UserIDs:      []string{"coder1", "coder2"},
		BaseScheme:   baseScheme(),
		SchemeCopies: 3,
	}

	err := e.Reconcile(context.Background(), cfg)
	require.NoError(t, err)

	got := coding.schemes["s01"]
	require.Len(t, got, 3)
	assert.Equal(t, "s01", got[0].SchemeID)
	assert.Equal(t, "s01-2", got[1].SchemeID)
	assert.Equal(t, "s01-3", got[2].SchemeID)
}

// TestReconcile_AppendsWSCorrectScheme ensures the WS-Correct scheme is
// pushed alongside the dataset's own scheme copies when configured.
func TestReconcile_AppendsWSCorrectScheme(t *testing.T) {
	coding := newFakeCoding()
	e := reconcile.New(coding)
	ws := model.CodeScheme{SchemeID: "ws_correct"}
	cfg := reconcile.DatasetReconcileConfig{
		Dataset:         "s01",
		BaseScheme:      baseScheme(),
		SchemeCopies:    1,
		WSCorrectScheme: &ws,
	}

	err := e.Reconcile(context.Background(), cfg)
	require.NoError(t, err)

	got := coding.schemes["s01"]
	require.Len(t, got, 2)
	assert.Equal(t, "ws_correct", got[1].SchemeID)
}

// TestReconcile_NoOpWhenUpToDate skips pushing a scheme already present and
// structurally identical.
func TestReconcile_NoOpWhenUpToDate(t *testing.T) {
	coding := newFakeCoding()
	coding.schemes["s01"] = []model.CodeScheme{baseScheme()}
	coding.users["s01"] = []string{"coder1"}
	e := reconcile.New(coding)
	cfg := reconcile.DatasetReconcileConfig{
		Dataset:      "s01",
		UserIDs:      []string{"coder1"},
		BaseScheme:   baseScheme(),
		SchemeCopies: 1,
	}

	err := e.Reconcile(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, coding.schemes["s01"], 1)
	assert.Equal(t, []string{"coder1"}, coding.users["s01"])
}
