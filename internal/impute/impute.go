// Package impute implements component J: deriving additional labels for
// messages that a human coder never directly labelled, or that need a
// consistency correction applied after coding. Grounded on
// original_source/src/engagement_db_to_analysis/code_imputation_functions.py,
// split into the two passes spec.md §4.J names: pass 1 runs per message
// before projection (NOT_REVIEWED/CODING_ERROR, WS coding-error, age
// category, location hierarchy); pass 2 runs over the column-view
// projection (TRUE_MISSING, NIC, STOP propagation), implemented in
// internal/columnview since it needs the folded row shape, not the raw
// message.
package impute

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// AgeCategoryConfig names the dataset holding the raw age label plus the
// scheme that assigns it a category, the single configuration the original
// engine asserts exists exactly once.
type AgeCategoryConfig struct {
	AgeDataset       string
	AgeSchemeID      string
	AgeScheme        model.CodeScheme
	CategorySchemeID string
	// NumericRanges maps a category code id to the inclusive [min,max] age
	// range that earns it, checked in order.
	NumericRanges []AgeRange
	// MetaCodeCategories maps a META code on the age scheme straight to a
	// category code id (e.g. "don't know" -> a matching category).
	MetaCodeCategories map[string]string
	// ControlCodeCategories maps a CONTROL code on the age scheme straight
	// to a category code id (e.g. NOT_CODED -> NOT_CODED's own category).
	ControlCodeCategories map[string]string
}

type AgeRange struct {
	CategoryCodeID string
	Min, Max       float64
}

// Engine runs imputation pass 1 over a batch of messages in memory; the
// caller is responsible for persisting the results back via
// engagementdb.EngagementDB and for running pass 2 (internal/columnview)
// over the resulting column-view projection.
type Engine struct {
	Config        model.PipelineConfig
	AgeCategory   *AgeCategoryConfig
	LocationRules *LocationHierarchy
	Stats         *stats.SyncStats
	Log           *zap.Logger
	Now           func() time.Time
}

func New() *Engine {
	return &Engine{Stats: stats.New(), Log: zap.NewNop(), Now: time.Now}
}

// ImputeAll runs pass 1 over msgs in place, returning the same slice for
// convenience. A message whose labels changed gets one "impute" history
// entry.
func (e *Engine) ImputeAll(msgs []model.Message) []model.Message {
	for i := range msgs {
		before := len(msgs[i].Labels)
		e.imputeReviewStatus(&msgs[i])
		e.imputeWSCodingError(&msgs[i])
		if e.AgeCategory != nil {
			e.imputeAgeCategory(&msgs[i])
		}
		if e.LocationRules != nil {
			e.imputeLocation(&msgs[i])
		}
		if len(msgs[i].Labels) != before {
			entryID := fmt.Sprintf("impute-%s-%d", msgs[i].MessageID, len(msgs[i].History))
			msgs[i].AppendHistory(entryID, model.NewOrigin("impute", nil), e.Now())
		}
	}
	return msgs
}

// applicableSchemeIDs returns the scheme ids a CODING_ERROR/NOT_REVIEWED
// decision is checked and applied across for msg: its own dataset's scheme
// plus the WS-Correct scheme (spec §4.J.1: "across the dataset's schemes
// plus the WS scheme").
func (e *Engine) applicableSchemeIDs(msg *model.Message) []string {
	var ids []string
	if cfg := e.Config.GetDatasetConfig(msg.Dataset); cfg != nil {
		ids = append(ids, cfg.CodeScheme.SchemeID)
	}
	if ws := e.Config.WSCorrectSchemeID(); ws != "" {
		ids = append(ids, ws)
	}
	return ids
}

// imputeReviewStatus is spec §4.J.1: classify a message as not yet
// reviewed, cleanly reviewed (no-op), or inconsistently reviewed (some
// schemes checked, some not), stamping CODING_ERROR or NOT_REVIEWED
// accordingly. "Clearing" a scheme means adding a
// SPECIAL-MANUALLY_UNCODED label just before the replacement label, per
// spec §3.3.
func (e *Engine) imputeReviewStatus(msg *model.Message) {
	schemeIDs := e.applicableSchemeIDs(msg)

	if alreadyTerminal(msg, schemeIDs) {
		return // idempotence: already stamped uniformly by a previous run.
	}

	anyChecked := false
	anyUnchecked := false
	for _, id := range schemeIDs {
		l := msg.LatestLabelForScheme(id)
		if l == nil {
			anyUnchecked = true
			continue
		}
		if l.Checked {
			anyChecked = true
		} else {
			anyUnchecked = true
		}
	}

	switch {
	case anyChecked && !anyUnchecked:
		// C ∧ ¬U: cleanly reviewed, no-op.
		return
	case anyChecked && anyUnchecked:
		// C ∧ U: inconsistently reviewed.
		e.stampUniformly(msg, schemeIDs, model.CodeIDCodingError)
	default:
		// ¬C: nothing checked on any applicable scheme.
		e.stampUniformly(msg, schemeIDs, model.CodeIDNotReviewed)
	}
}

// alreadyTerminal reports whether every applicable scheme's latest label is
// already the same imputed sentinel (NOT_REVIEWED or CODING_ERROR),
// meaning a previous run already reached a stable state that re-running
// the checked/unchecked classification (which can no longer see the
// original checked labels once they're buried under the sentinel) would
// otherwise disturb.
func alreadyTerminal(msg *model.Message, schemeIDs []string) bool {
	for _, sentinel := range []string{model.CodeIDNotReviewed, model.CodeIDCodingError} {
		uniform := true
		for _, id := range schemeIDs {
			l := msg.LatestLabelForScheme(id)
			if l == nil || l.CodeID != sentinel {
				uniform = false
				break
			}
		}
		if uniform {
			return true
		}
	}
	return false
}

// stampUniformly clears every applicable scheme (appending
// SPECIAL-MANUALLY_UNCODED) then appends the given code under every one of
// them, skipping schemes that already carry that exact code as their
// latest label (idempotence, spec §8.1 P7).
func (e *Engine) stampUniformly(msg *model.Message, schemeIDs []string, codeID string) {
	for _, id := range schemeIDs {
		if l := msg.LatestLabelForScheme(id); l != nil && l.CodeID == codeID {
			continue
		}
		msg.Labels = append(msg.Labels,
			model.Label{SchemeID: id, CodeID: model.CodeIDManuallyUncoded, DateTimeUTC: e.Now()},
			model.Label{SchemeID: id, CodeID: codeID, DateTimeUTC: e.Now()},
		)
		e.Stats.Increment(stats.EventImputed)
	}
}

// imputeWSCodingError is spec §4.J.2: reuse the back-sync WS-signal
// detection (ws_in_normal vs ws_present) over the message's *current*
// engagement labels; a mismatch between the two signals means a coder
// applied WRONG_SCHEME without a resolvable correction code (or vice
// versa), which is a coding error rather than a redirect.
func (e *Engine) imputeWSCodingError(msg *model.Message) {
	datasetCfg := e.Config.GetDatasetConfig(msg.Dataset)
	wsSchemeID := e.Config.WSCorrectSchemeID()
	if datasetCfg == nil || wsSchemeID == "" {
		return
	}

	latest := msg.LatestLabels()
	checkedByScheme := make(map[string]model.Label, len(latest))
	for _, l := range latest {
		if l.Checked {
			checkedByScheme[l.SchemeID] = l
		}
	}

	wsInNormal := false
	if l, ok := checkedByScheme[datasetCfg.CodeScheme.SchemeID]; ok {
		if c := datasetCfg.CodeScheme.GetCodeWithCodeID(l.CodeID); c != nil &&
			c.CodeType == model.CodeTypeControl && c.ControlCode == model.ControlCodeWrongScheme {
			wsInNormal = true
		}
	}
	wsPresent := false
	if l, ok := checkedByScheme[wsSchemeID]; ok {
		wsPresent = e.Config.WSCorrectScheme.GetCodeWithCodeID(l.CodeID) != nil
	}

	if wsInNormal == wsPresent {
		return
	}

	schemeIDs := []string{datasetCfg.CodeScheme.SchemeID, wsSchemeID}
	e.stampUniformly(msg, schemeIDs, model.CodeIDCodingError)
}
