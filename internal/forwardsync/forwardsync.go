// Package forwardsync implements component G: pushing engagement-database
// messages into the coding tool for human review. Grounded on
// original_source/src/engagement_db_coda_sync/lib.py#_add_message_to_coda:
// a message already pushed (has a CodaID) is skipped; otherwise its
// existing labels are validated against the dataset's configured schemes
// and copied across, or the message is submitted unlabelled for a coder to
// pick up.
package forwardsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/retry"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// Engine pushes unsent engagement-database messages into the coding tool.
type Engine struct {
	EDB    engagementdb.EngagementDB
	Coding codingtool.CodingTool
	Config model.PipelineConfig
	Stats  *stats.SyncStats
	Log    *zap.Logger
	Now    func() time.Time
}

func New(edb engagementdb.EngagementDB, coding codingtool.CodingTool, cfg model.PipelineConfig) *Engine {
	return &Engine{
		EDB: edb, Coding: coding, Config: cfg,
		Stats: stats.New(), Log: zap.NewNop(), Now: time.Now,
	}
}

// SyncDataset pushes every not-yet-pushed message in dataset to the coding
// tool.
func (e *Engine) SyncDataset(ctx context.Context, dataset string) error {
	datasetCfg := e.Config.GetDatasetConfig(dataset)
	if datasetCfg == nil {
		return pipelineerr.New(pipelineerr.KindConfiguration, "forwardsync.SyncDataset",
			fmt.Errorf("no dataset configuration for %q", dataset))
	}

	return e.EDB.IterateAll(ctx, engagementdb.Filter{Dataset: dataset}, 0, func(msg model.Message) error {
		return e.syncOne(ctx, dataset, *datasetCfg, msg)
	})
}

func (e *Engine) syncOne(ctx context.Context, dataset string, datasetCfg model.DatasetConfig, msg model.Message) error {
	if msg.CodaID != "" {
		return nil
	}

	labels, err := e.validatedLabels(msg, datasetCfg)
	if err != nil {
		return fmt.Errorf("forwardsync: message %s: %w", msg.MessageID, err)
	}
	if len(labels) == 0 {
		labels = e.autoCode(msg.Text, datasetCfg)
	}

	var codaID string
	callCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	err = retry.Do(callCtx, func() error {
		var err error
		codaID, err = e.Coding.AddMessageToDataset(callCtx, dataset, msg.Text, labels)
		return err
	})
	cancel()
	if err != nil {
		return fmt.Errorf("forwardsync: push message %s: %w", msg.MessageID, err)
	}

	msg.CodaID = codaID
	entryID := fmt.Sprintf("forward-sync-%s", codaID)
	msg.AppendHistory(entryID, model.NewOrigin("forward_sync", map[string]string{"dataset": dataset}), e.Now())
	setCtx, cancel2 := context.WithTimeout(ctx, retry.DefaultDeadline)
	err = retry.Do(setCtx, func() error {
		return e.EDB.SetMessage(setCtx, msg, nil)
	})
	cancel2()
	if err != nil {
		return fmt.Errorf("forwardsync: record push for message %s: %w", msg.MessageID, err)
	}
	e.Stats.Increment(stats.EventMessageIngested)
	return nil
}

// validatedLabels copies msg's existing labels across when non-empty, only
// if every one of them codes against the dataset's own scheme, the
// WS-Correct scheme, or the reserved SPECIAL-MANUALLY_UNCODED code; a label
// coding against a scheme the dataset no longer recognises is a
// LabelSchemeViolation rather than being silently dropped, matching the
// fail-loud posture of the original lib.py label validation.
func (e *Engine) validatedLabels(msg model.Message, datasetCfg model.DatasetConfig) ([]model.Label, error) {
	labels := msg.LatestLabels()
	wsSchemeID := e.Config.WSCorrectSchemeID()
	for _, l := range labels {
		if l.CodeID == model.CodeIDManuallyUncoded {
			continue
		}
		if strings.EqualFold(l.SchemeID, wsSchemeID) {
			if e.Config.WSCorrectScheme.GetCodeWithCodeID(l.CodeID) == nil {
				return nil, pipelineerr.New(pipelineerr.KindLabelScheme, "forwardsync.validatedLabels",
					fmt.Errorf("code %q not present in ws-correct scheme", l.CodeID))
			}
			continue
		}
		if !strings.EqualFold(l.SchemeID, datasetCfg.CodeScheme.SchemeID) {
			return nil, pipelineerr.New(pipelineerr.KindLabelScheme, "forwardsync.validatedLabels",
				fmt.Errorf("label scheme %q is neither dataset scheme %q nor ws-correct scheme %q", l.SchemeID, datasetCfg.CodeScheme.SchemeID, wsSchemeID))
		}
		if datasetCfg.CodeScheme.GetCodeWithCodeID(l.CodeID) == nil {
			return nil, pipelineerr.New(pipelineerr.KindLabelScheme, "forwardsync.validatedLabels",
				fmt.Errorf("code %q not present in scheme %q", l.CodeID, datasetCfg.CodeScheme.SchemeID))
		}
	}
	return labels, nil
}

// autoCode applies datasetCfg's configured auto-coders, in order, to text,
// keeping only the non-null outputs (spec §4.G: "apply configured
// auto-coders ... keeping only non-null outputs; otherwise submit with
// empty labels").
func (e *Engine) autoCode(text string, datasetCfg model.DatasetConfig) []model.Label {
	var labels []model.Label
	for _, coder := range datasetCfg.AutoCoders {
		if l := coder(text); l != nil {
			labels = append(labels, *l)
		}
	}
	return labels
}
