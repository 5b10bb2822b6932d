package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

// noopTx satisfies both engagementdb.Tx and codingtool.Tx with no-ops, for
// --dry-run runs where no write should ever reach either store.
type noopTx struct{}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }

// dryRunEDB wraps an EngagementDB so every write is logged and skipped,
// satisfying spec.md §6.3's --dry-run flag ("no mutations, logs decisions")
// for the forward/back-sync and imputation stages.
type dryRunEDB struct {
	engagementdb.EngagementDB
	log *zap.Logger
}

func (d dryRunEDB) SetMessage(ctx context.Context, msg model.Message, tx engagementdb.Tx) error {
	d.log.Info("dry-run: would write engagement-db message",
		zap.String("message_id", msg.MessageID), zap.String("dataset", msg.Dataset))
	return nil
}

func (d dryRunEDB) BeginTx(ctx context.Context) (engagementdb.Tx, error) {
	return noopTx{}, nil
}

// dryRunCodingTool wraps a CodingTool so every write is logged and skipped.
type dryRunCodingTool struct {
	codingtool.CodingTool
	log *zap.Logger
}

func (d dryRunCodingTool) SetUserIDs(ctx context.Context, dataset string, userIDs []string) error {
	d.log.Info("dry-run: would set coder ids", zap.String("dataset", dataset), zap.Int("count", len(userIDs)))
	return nil
}

func (d dryRunCodingTool) SetCodeScheme(ctx context.Context, dataset string, scheme model.CodeScheme) error {
	d.log.Info("dry-run: would set code scheme", zap.String("dataset", dataset), zap.String("scheme_id", scheme.SchemeID))
	return nil
}

func (d dryRunCodingTool) AddMessageToDataset(ctx context.Context, dataset, text string, labels []model.Label) (string, error) {
	d.log.Info("dry-run: would add message to dataset", zap.String("dataset", dataset))
	return "dry-run-coda-id", nil
}

func (d dryRunCodingTool) UpdateDatasetMessage(ctx context.Context, dataset, codaID string, labels []model.Label, tx codingtool.Tx) error {
	d.log.Info("dry-run: would update dataset message", zap.String("dataset", dataset), zap.String("coda_id", codaID))
	return nil
}

func (d dryRunCodingTool) BeginTx(ctx context.Context) (codingtool.Tx, error) {
	return noopTx{}, nil
}
