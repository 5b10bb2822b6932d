// Package engagementdb defines the engagement database seam (component E):
// the store of record for Message entities, their append-only history, and
// their current dataset assignment. Concrete upstream/downstream wire
// protocols are out of scope (spec Non-goals); this package implements the
// store itself against Postgres, following the
// pgxpool.Pool + Querier + explicit-transaction pattern used throughout
// privacy-service and trm-service.
package engagementdb

import (
	"context"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

// Filter narrows IterateAll/GetByFilter to messages last updated in
// [Since, Until) and/or restricted to a Dataset, the two predicates every
// sync stage needs (incremental source ingestion and per-dataset sync
// passes).
type Filter struct {
	Dataset string
	Since   *time.Time
	Until   *time.Time
}

// Tx is an in-flight engagement-database transaction. All mutating methods
// on EngagementDB accept an optional Tx so callers can group writes
// atomically (back-sync runs each message's update in one Tx);
// a nil Tx means "run in its own, single-statement transaction".
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EngagementDB is the engagement database client, component E.
type EngagementDB interface {
	// GetByOriginID returns the message with the given upstream origin id,
	// used by the deduplicator (component B) to decide whether a fetched
	// upstream record has already been ingested.
	GetByOriginID(ctx context.Context, originID string) (model.Message, bool, error)

	// GetByCodaID returns the message whose CodaID (coding-tool message id)
	// matches, used by back-sync (component H) to find the engagement-db
	// counterpart of a message pulled from the coding tool.
	GetByCodaID(ctx context.Context, codaID string) (model.Message, bool, error)

	// GetByFilter returns every message matching f, for sync stages that
	// process an entire dataset in one pass (forward sync, reconciliation).
	GetByFilter(ctx context.Context, f Filter) ([]model.Message, error)

	// IterateAll streams every message matching f in batches of batchSize,
	// for stages that must visit the whole database without holding it all
	// in memory (imputation, column-view projection).
	IterateAll(ctx context.Context, f Filter, batchSize int, fn func(model.Message) error) error

	// SetMessage upserts msg (by MessageID), writing msg.History as given
	// (callers append their entry with Message.AppendHistory first). tx, if
	// non-nil, must have been returned by this same EngagementDB's BeginTx.
	SetMessage(ctx context.Context, msg model.Message, tx Tx) error

	// BeginTx starts a transaction that subsequent SetMessage calls can
	// share, used by back-sync to apply each message's update (label copy,
	// WS correction or cycle fix) together or not at all.
	BeginTx(ctx context.Context) (Tx, error)
}
