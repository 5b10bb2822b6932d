// Package ingest implements the generic incremental, idempotent ingestion
// driver (components B and C wired to any sources.Client): fetch upstream
// records since the last watermark, skip ones already present by origin
// id, de-identify each contact, and write the rest to the engagement
// database, advancing the watermark only once the whole batch has
// committed successfully. Driver shape grounded on
// discovery-service/internal/worker/scan_poller.go's poll/processJob/
// syncFindings split.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/cache"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/identity"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/retry"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// Driver ingests one source's records into one engagement-database
// dataset.
type Driver struct {
	Source        sources.Client
	EDB           engagementdb.EngagementDB
	UUIDTable     identity.ParticipantUUIDTable
	Cache         *cache.Cache
	Dataset       string
	WatermarkKey  string

	// IgnoreInvalidIdentifiers, when true, ingests a record whose contact
	// identifier fails validation using identity.FallbackIdentifier instead
	// of dropping the record outright.
	IgnoreInvalidIdentifiers bool
	ValidateIdentifier       func(normalized string) bool

	Stats *stats.SyncStats
	Log   *zap.Logger
	Now   func() time.Time
}

// New builds a Driver with sensible defaults for the optional fields.
func New(src sources.Client, edb engagementdb.EngagementDB, uuidTable identity.ParticipantUUIDTable, c *cache.Cache, dataset string) *Driver {
	return &Driver{
		Source: src, EDB: edb, UUIDTable: uuidTable, Cache: c, Dataset: dataset,
		WatermarkKey:       dataset + ".watermark",
		ValidateIdentifier: identity.ValidateKenyaMobileNumber,
		Stats:              stats.New(),
		Log:                zap.NewNop(),
		Now:                time.Now,
	}
}

// Run performs one incremental ingestion pass.
func (d *Driver) Run(ctx context.Context) error {
	var since *time.Time
	if t, ok := d.Cache.GetTimestamp(d.WatermarkKey); ok {
		since = &t
	}

	var records []sources.RawRecord
	fetchCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	err := retry.Do(fetchCtx, func() error {
		var err error
		records, err = d.Source.FetchSince(fetchCtx, since)
		return err
	})
	cancel()
	if err != nil {
		return fmt.Errorf("ingest: fetch %s: %w", d.Dataset, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedUTC.Before(records[j].SubmittedUTC)
	})

	var newWatermark time.Time
	if since != nil {
		newWatermark = *since
	}

	for _, rec := range records {
		advanced, err := d.processOne(ctx, rec)
		if err != nil {
			return fmt.Errorf("ingest: process record %s: %w", rec.OriginID, err)
		}
		if advanced && rec.SubmittedUTC.After(newWatermark) {
			newWatermark = rec.SubmittedUTC
		}
	}

	if !newWatermark.IsZero() {
		if err := d.Cache.SetTimestamp(d.WatermarkKey, newWatermark); err != nil {
			return fmt.Errorf("ingest: advance watermark for %s: %w", d.Dataset, err)
		}
	}
	return nil
}

// processOne dedupes, de-identifies, and writes a single record, returning
// whether the watermark may advance past it: true for a newly written
// record and also for a skipped duplicate (counted as DUPLICATE_IGNORED,
// not written again).
func (d *Driver) processOne(ctx context.Context, rec sources.RawRecord) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	var exists bool
	err := retry.Do(lookupCtx, func() error {
		var err error
		_, exists, err = d.EDB.GetByOriginID(lookupCtx, rec.OriginID)
		return err
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		d.Stats.Increment(stats.EventDuplicateIgnored)
		return true, nil
	}

	participantUUID, err := d.deidentify(ctx, rec)
	if err != nil {
		return false, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("generate message id: %w", err)
	}

	msg := model.Message{
		MessageID:       id.String(),
		Text:            rec.Text,
		ParticipantUUID: participantUUID,
		OriginID:        rec.OriginID,
		Dataset:         d.Dataset,
	}
	msg.AppendHistory(id.String(), model.NewOrigin("source", map[string]string{
		"origin_id": rec.OriginID,
	}), d.Now())

	writeCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	err = retry.Do(writeCtx, func() error {
		return d.EDB.SetMessage(writeCtx, msg, nil)
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("write message: %w", err)
	}
	d.Stats.Increment(stats.EventMessageIngested)
	return true, nil
}

func (d *Driver) deidentify(ctx context.Context, rec sources.RawRecord) (string, error) {
	normalized := identity.NormalizeKenyaMobileNumber(rec.ContactID)
	validate := d.ValidateIdentifier
	if validate == nil {
		validate = identity.ValidateKenyaMobileNumber
	}
	if !validate(normalized) {
		if !d.IgnoreInvalidIdentifiers {
			return "", fmt.Errorf("invalid contact identifier for origin id %s", rec.OriginID)
		}
		d.Log.Warn("ingesting message with invalid contact identifier", zap.String("origin_id", rec.OriginID))
		return identity.FallbackIdentifier(rec.OriginID), nil
	}
	return d.UUIDTable.UUIDForIdentifier(ctx, normalized)
}
