// Package codingtool defines the coding-tool client seam (component F): the
// human-coding side of the bidirectional sync, holding one dataset per
// message plus the label schemes and coder ids available to it. Concrete
// upstream/downstream wire protocols stay out of scope (spec Non-goals);
// this package implements the store against Postgres, replacing the
// out-of-scope Coda/Firebase client named in spec.md §1.
package codingtool

import (
	"context"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

// DatasetMessage is one message as held by the coding tool: its labels as
// applied there (which may be ahead of or behind the engagement database).
// Whether a human coder has checked it is carried per label
// (model.Label.Checked), not on the message.
type DatasetMessage struct {
	CodaID  string
	Text    string
	Labels  []model.Label
}

// Tx groups several coding-tool writes into one atomic unit, mirroring
// engagementdb.Tx.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CodingTool is the coding-tool client, component F.
type CodingTool interface {
	// ListUserIDs returns every coder id currently registered against the
	// dataset, used by the reconciler to diff against the configured set.
	ListUserIDs(ctx context.Context, dataset string) ([]string, error)

	// SetUserIDs replaces the dataset's coder id list.
	SetUserIDs(ctx context.Context, dataset string, userIDs []string) error

	// ListCodeSchemes returns every code scheme currently configured for
	// the dataset.
	ListCodeSchemes(ctx context.Context, dataset string) ([]model.CodeScheme, error)

	// SetCodeScheme creates or overwrites one code scheme on the dataset.
	SetCodeScheme(ctx context.Context, dataset string, scheme model.CodeScheme) error

	// AddMessageToDataset pushes a new message into the dataset with the
	// given initial labels (possibly empty), returning the coda id it was
	// assigned. Used by forward sync.
	AddMessageToDataset(ctx context.Context, dataset string, text string, labels []model.Label) (codaID string, err error)

	// GetDatasetMessage returns the current state of a message already
	// pushed to the dataset.
	GetDatasetMessage(ctx context.Context, dataset, codaID string) (DatasetMessage, bool, error)

	// IterateDatasetMessages streams every message in the dataset, for the
	// back-sync engine's per-dataset pass.
	IterateDatasetMessages(ctx context.Context, dataset string, fn func(DatasetMessage) error) error

	// UpdateDatasetMessage overwrites a pushed message's labels, e.g. to
	// clear checked labels during a WS cycle fix.
	UpdateDatasetMessage(ctx context.Context, dataset, codaID string, labels []model.Label, tx Tx) error

	BeginTx(ctx context.Context) (Tx, error)
}
