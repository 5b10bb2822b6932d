// Package backsync implements component H: pulling coder decisions made in
// the coding tool back into the engagement database, including WRONG_SCHEME
// (WS) correction and cycle detection. Directly grounded on
// original_source/src/engagement_db_coda_sync/lib.py, reproducing its
// control-flow order: WS-code resolution, target-dataset resolution,
// labels-match short circuit, self-redirect warning, cycle detection, WS
// correction, plain label overwrite.
package backsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/retry"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// maxBacksyncAttempts bounds how many times syncOne re-reads and
// recomputes a message's decision tree after a transaction conflict,
// per spec §5 ("transaction conflicts are retried by re-reading and
// recomputing the decision tree, not by blindly replaying").
const maxBacksyncAttempts = 5

// Engine runs the coding-tool -> engagement-database sync for one dataset
// at a time.
type Engine struct {
	EDB    engagementdb.EngagementDB
	Coding codingtool.CodingTool
	Config model.PipelineConfig
	Stats  *stats.SyncStats
	Log    *zap.Logger
	Now    func() time.Time
}

// New builds an Engine, defaulting Stats/Log/Now when not supplied.
func New(edb engagementdb.EngagementDB, coding codingtool.CodingTool, cfg model.PipelineConfig) *Engine {
	return &Engine{
		EDB: edb, Coding: coding, Config: cfg,
		Stats: stats.New(), Log: zap.NewNop(), Now: time.Now,
	}
}

// SyncDataset walks every message pushed to the coding tool's dataset and
// reconciles it against the engagement database's copy.
func (e *Engine) SyncDataset(ctx context.Context, dataset string) error {
	return e.Coding.IterateDatasetMessages(ctx, dataset, func(cm codingtool.DatasetMessage) error {
		return e.syncOne(ctx, dataset, cm)
	})
}

// syncOne re-reads the engagement-db counterpart of cm and applies update
// under a per-message engagement-db transaction (spec §4.H). A transient
// backend error surfacing from that transaction (including a conflicting
// concurrent writer) is not blindly replayed: the message is re-read and
// its decision tree recomputed from scratch, up to maxBacksyncAttempts
// times, since the right target dataset or WS resolution may have changed
// underneath it.
func (e *Engine) syncOne(ctx context.Context, dataset string, cm codingtool.DatasetMessage) error {
	var lastErr error
	for attempt := 0; attempt < maxBacksyncAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
		var msg model.Message
		var ok bool
		err := retry.Do(lookupCtx, func() error {
			var err error
			msg, ok, err = e.EDB.GetByCodaID(lookupCtx, cm.CodaID)
			return err
		})
		cancel()
		if err != nil {
			return fmt.Errorf("backsync: look up message for coda id %s: %w", cm.CodaID, err)
		}
		if !ok {
			e.Log.Warn("coded message has no corresponding engagement-db message", zap.String("coda_id", cm.CodaID))
			return nil
		}

		err = e.update(ctx, dataset, &msg, cm.Labels)
		if err == nil {
			return nil
		}
		if !pipelineerr.Is(err, pipelineerr.KindTransientBackend) {
			return err
		}
		lastErr = err
		e.Log.Warn("backsync: transaction conflict, re-reading and recomputing",
			zap.String("coda_id", cm.CodaID), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("backsync: coda id %s: too many transaction conflicts: %w", cm.CodaID, lastErr)
}

// wsResolution is the outcome of step 2 of spec §4.H: whether the coded
// labels carry a resolvable WS signal, and if so the code that carried it.
type wsResolution struct {
	// redirectable is false when ws_in_normal != ws_present: the two
	// signals disagree, so no redirect happens here (imputation will later
	// flag the message as a coding error).
	redirectable bool
	// present is true when a WS-Correct-scheme label is the resolved
	// signal (regardless of whether it ultimately redirects).
	present bool
	code    *model.Code
}

// resolveWSSignal is _get_ws_code's first half: scan the latest *checked*
// labels for a normal-scheme code whose control_code is WRONG_SCHEME, and
// for a WS-Correct-scheme label, then compare the two booleans.
func (e *Engine) resolveWSSignal(dataset string, labels []model.Label) wsResolution {
	datasetCfg := e.Config.GetDatasetConfig(dataset)
	wsSchemeID := e.Config.WSCorrectSchemeID()

	latest := latestChecked(labels)

	wsInNormal := false
	var wsCode *model.Code
	wsPresent := false

	for _, l := range latest {
		if l.SchemeID == wsSchemeID {
			if c := e.Config.WSCorrectScheme.GetCodeWithCodeID(l.CodeID); c != nil {
				wsPresent = true
				wsCode = c
			}
			continue
		}
		if datasetCfg == nil || l.SchemeID != datasetCfg.CodeScheme.SchemeID {
			continue
		}
		if c := datasetCfg.CodeScheme.GetCodeWithCodeID(l.CodeID); c != nil &&
			c.CodeType == model.CodeTypeControl && c.ControlCode == model.ControlCodeWrongScheme {
			wsInNormal = true
		}
	}

	if wsInNormal != wsPresent {
		return wsResolution{redirectable: false, present: wsPresent}
	}
	if !wsPresent {
		return wsResolution{redirectable: true, present: false}
	}
	if wsCode.ControlCode == model.ControlCodeNotCoded {
		// "WS but target unknown": keep the signal visible, don't redirect.
		return wsResolution{redirectable: false, present: true, code: wsCode}
	}
	return wsResolution{redirectable: true, present: true, code: wsCode}
}

// latestChecked returns the latest labels (newest-first walk, one per
// scheme) restricted to those a human coder has confirmed.
func latestChecked(labels []model.Label) []model.Label {
	seen := make(map[string]bool, len(labels))
	var out []model.Label
	for i := len(labels) - 1; i >= 0; i-- {
		l := labels[i]
		if seen[l.SchemeID] {
			continue
		}
		seen[l.SchemeID] = true
		if l.Checked {
			out = append(out, l)
		}
	}
	return out
}

// update is update_engagement_db_message_from_coda_message: given the coded
// labels currently held by the coding tool, decide what (if anything)
// changes about msg, and apply it.
func (e *Engine) update(ctx context.Context, dataset string, msg *model.Message, codaLabels []model.Label) error {
	resolution := e.resolveWSSignal(dataset, codaLabels)

	var targetDataset string
	haveTarget := false
	if resolution.redirectable && resolution.code != nil {
		if d, ok := e.resolveTargetDataset(resolution.code); ok {
			targetDataset = d
			haveTarget = true
		} else {
			e.Stats.Increment(stats.EventNoRedirectTarget)
			return pipelineerr.New(pipelineerr.KindNoRedirectTarget, "backsync.update",
				fmt.Errorf("message %s: ws code %s resolved to no dataset", msg.MessageID, resolution.code.CodeID))
		}
	}

	// Step 4: label-match short circuit.
	if labelsEqual(latestByScheme(msg.Labels), latestByScheme(codaLabels)) && (!haveTarget || targetDataset == dataset) {
		e.Stats.Increment(stats.EventLabelsMatch)
		return nil
	}

	if haveTarget && targetDataset == dataset {
		// Step 5: self-redirect. Log and fall through to a plain label copy.
		e.Log.Warn("ws code redirects a dataset to itself", zap.String("dataset", dataset))
		haveTarget = false
	}

	tx, err := e.EDB.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("backsync: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	switch {
	case haveTarget && msg.IsCycleWith(targetDataset):
		err = e.fixCycle(ctx, dataset, msg, targetDataset, tx)
	case haveTarget:
		err = e.applyWSCorrection(ctx, msg, dataset, targetDataset, codaLabels, tx)
	default:
		err = e.updateLabels(ctx, msg, codaLabels, tx)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("backsync: commit: %w", err)
	}
	committed = true
	return nil
}

// resolveTargetDataset is _get_ws_code's second half / resolve_ws_target:
// (a) dataset config whose WSCodeMatchValue matches one of code's
// MatchValues, (b) if enabled, a dataset named by code's own StringValue
// when that value is itself one of code's MatchValues, (c) the configured
// default.
func (e *Engine) resolveTargetDataset(code *model.Code) (string, bool) {
	for _, mv := range code.MatchValues {
		if cfg := e.Config.GetDatasetConfigByWSCodeMatchValue(mv); cfg != nil {
			return cfg.DatasetName, true
		}
	}
	if e.Config.SetDatasetFromWSStringValue && code.StringValue != "" {
		for _, mv := range code.MatchValues {
			if mv == code.StringValue {
				return code.StringValue, true
			}
		}
	}
	if e.Config.DefaultWSDataset != "" {
		return e.Config.DefaultWSDataset, true
	}
	return "", false
}

// applyWSCorrection records the redirect: append the current dataset to
// previous_datasets, switch to the target dataset, clear labels, and log a
// WS_CORRECTION history entry. The message will be picked up by the next
// forward-sync run against its new dataset (spec §4.H step 7).
func (e *Engine) applyWSCorrection(ctx context.Context, msg *model.Message, fromDataset, toDataset string, codaLabels []model.Label, tx engagementdb.Tx) error {
	msg.PreviousDatasets = append(msg.PreviousDatasets, fromDataset)
	msg.Dataset = toDataset
	msg.Labels = nil
	msg.CodaID = ""
	entryID := newHistoryEntryID()
	msg.AppendHistory(entryID, model.NewOrigin("ws_correction", map[string]string{
		"from_dataset": fromDataset, "to_dataset": toDataset,
	}), e.Now())
	if err := e.EDB.SetMessage(ctx, *msg, tx); err != nil {
		return fmt.Errorf("backsync: ws correction: %w", err)
	}
	e.Stats.Increment(stats.EventWSCorrection)
	return nil
}

// fixCycle is _fix_ws_cycle: the target dataset is already one this
// message has been through (or is its current dataset), so rather than
// redirecting it again, every coding-tool counterpart in
// previous_datasets ∪ {dataset} gets its checked labels cleared (a
// SPECIAL-MANUALLY_UNCODED label added as the newest label per scheme, so
// a human re-reviews), and the engagement-db message resets to the first
// dataset it ever belonged to with no labels.
func (e *Engine) fixCycle(ctx context.Context, currentCodaDataset string, msg *model.Message, cycleDataset string, tx engagementdb.Tx) error {
	if len(msg.PreviousDatasets) == 0 {
		return pipelineerr.New(pipelineerr.KindCycleDetected, "backsync.fixCycle",
			fmt.Errorf("message %s has a ws cycle but no previous datasets to reset to", msg.MessageID))
	}

	affected := append([]string{}, msg.PreviousDatasets...)
	affected = append(affected, msg.Dataset)
	for _, ds := range affected {
		if err := e.clearCheckedLabels(ctx, ds, msg.CodaID); err != nil {
			return fmt.Errorf("backsync: fix ws cycle: clear %s: %w", ds, err)
		}
	}

	resetDataset := msg.PreviousDatasets[0]
	msg.Labels = nil
	msg.Dataset = resetDataset
	msg.PreviousDatasets = nil
	msg.CodaID = ""
	entryID := newHistoryEntryID()
	msg.AppendHistory(entryID, model.NewOrigin("fix_ws_cycle", map[string]string{
		"cycle_dataset": cycleDataset,
	}), e.Now())
	if err := e.EDB.SetMessage(ctx, *msg, tx); err != nil {
		return fmt.Errorf("backsync: fix ws cycle: %w", err)
	}
	e.Stats.Increment(stats.EventFixWSCycle)
	return nil
}

// clearCheckedLabels appends (as the newest label) a
// SPECIAL-MANUALLY_UNCODED label for every
// latest checked label on dataset's coding-tool copy of the message, each
// dataset's clear running in its own coding-tool transaction, sequentially
// (spec §5: "runs in the coding tool's own transaction on each affected
// dataset, sequentially").
func (e *Engine) clearCheckedLabels(ctx context.Context, dataset, codaID string) error {
	if codaID == "" {
		return nil
	}
	readCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	var dm codingtool.DatasetMessage
	var ok bool
	err := retry.Do(readCtx, func() error {
		var err error
		dm, ok, err = e.Coding.GetDatasetMessage(readCtx, dataset, codaID)
		return err
	})
	cancel()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	checked := latestChecked(dm.Labels)
	if len(checked) == 0 {
		return nil
	}

	txCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	defer cancel()
	tx, err := e.Coding.BeginTx(txCtx)
	if err != nil {
		return err
	}
	cleared := append([]model.Label{}, dm.Labels...)
	for _, l := range checked {
		cleared = append(cleared, model.Label{
			SchemeID: l.SchemeID, CodeID: model.CodeIDManuallyUncoded, DateTimeUTC: e.Now(), Checked: false,
		})
	}
	if err := e.Coding.UpdateDatasetMessage(txCtx, dataset, codaID, cleared, tx); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}
	return tx.Commit(txCtx)
}

// updateLabels is the plain-overwrite branch: the coding tool's labels
// become the engagement database's labels, with no dataset redirect.
func (e *Engine) updateLabels(ctx context.Context, msg *model.Message, codaLabels []model.Label, tx engagementdb.Tx) error {
	msg.Labels = append([]model.Label(nil), codaLabels...)
	entryID := newHistoryEntryID()
	msg.AppendHistory(entryID, model.NewOrigin("back_sync", nil), e.Now())
	if err := e.EDB.SetMessage(ctx, *msg, tx); err != nil {
		return fmt.Errorf("backsync: update labels: %w", err)
	}
	e.Stats.Increment(stats.EventUpdateLabels)
	return nil
}

// latestByScheme reduces a label list to its newest label per scheme,
// regardless of checked status, for the labels-match comparison (spec
// §4.H step 4 compares the full latest label sets, not just checked ones).
func latestByScheme(labels []model.Label) map[string]string {
	seen := make(map[string]bool, len(labels))
	out := make(map[string]string, len(labels))
	for i := len(labels) - 1; i >= 0; i-- {
		l := labels[i]
		if seen[l.SchemeID] {
			continue
		}
		seen[l.SchemeID] = true
		out[l.SchemeID] = l.CodeID
	}
	return out
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func newHistoryEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "history-fallback"
	}
	return id.String()
}
