// Package columnview implements component K (the column-view projector)
// together with imputation pass 2 (spec §4.J.1 steps 5-7: TRUE_MISSING,
// NOT_INTERNALLY_CONSISTENT, consent-withdrawn propagation), since those
// corrections operate on the folded row shape this package produces, not
// on a raw model.Message. Grounded on
// original_source/src/engagement_db_to_analysis/automated_analysis.py's
// row-building helpers and code_imputation_functions.py's
// _impute_true_missing/_impute_nic/consent-withdrawal passes; the CSV/map
// rendering itself stays a spec Non-goal.
package columnview

import (
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

// Column is one projected analysis column's value for a row: the raw text
// (or empty when TRUE_MISSING) and the latest code per configured scheme.
type Column struct {
	Raw    string
	Labels []model.Label
}

// Row is one projected record, keyed by AnalysisDatasetConfig.ColumnName.
// A per-message Row carries exactly one message's contribution; a
// per-participant Row merges every message belonging to that participant.
type Row struct {
	ParticipantUUID  string
	MessageID        string // empty for per-participant rows
	Columns          map[string]Column
	ConsentWithdrawn bool
}

// PerMessage projects one row per message, grouping by which
// AnalysisDatasetConfig.EngagementDBDatasets each message's Dataset belongs
// to.
func PerMessage(msgs []model.Message, cfgs []model.AnalysisDatasetConfig) []Row {
	rows := make([]Row, 0, len(msgs))
	for _, m := range msgs {
		row := Row{ParticipantUUID: m.ParticipantUUID, MessageID: m.MessageID, Columns: map[string]Column{}}
		for _, cfg := range cfgs {
			if !datasetIn(m.Dataset, cfg.EngagementDBDatasets) {
				continue
			}
			row.Columns[cfg.ColumnName] = buildColumn(m, cfg)
		}
		rows = append(rows, row)
	}
	return rows
}

// PerParticipant projects one row per distinct participant, merging every
// message of theirs into the column set: the latest message (by
// LastUpdatedUTC) contributing to a given column wins.
func PerParticipant(msgs []model.Message, cfgs []model.AnalysisDatasetConfig) []Row {
	byParticipant := make(map[string]*Row)
	lastUpdated := make(map[string]map[string]time.Time)

	for _, m := range msgs {
		row, ok := byParticipant[m.ParticipantUUID]
		if !ok {
			row = &Row{ParticipantUUID: m.ParticipantUUID, Columns: map[string]Column{}}
			byParticipant[m.ParticipantUUID] = row
			lastUpdated[m.ParticipantUUID] = map[string]time.Time{}
		}
		for _, cfg := range cfgs {
			if !datasetIn(m.Dataset, cfg.EngagementDBDatasets) {
				continue
			}
			if m.LastUpdatedUTC.Before(lastUpdated[m.ParticipantUUID][cfg.ColumnName]) {
				continue
			}
			row.Columns[cfg.ColumnName] = buildColumn(m, cfg)
			lastUpdated[m.ParticipantUUID][cfg.ColumnName] = m.LastUpdatedUTC
		}
	}

	rows := make([]Row, 0, len(byParticipant))
	for _, row := range byParticipant {
		rows = append(rows, *row)
	}
	return rows
}

func buildColumn(m model.Message, cfg model.AnalysisDatasetConfig) Column {
	col := Column{Raw: m.Text}
	for _, cc := range cfg.CodingConfigs {
		if l := m.LatestLabelForScheme(cc.SchemeID); l != nil {
			col.Labels = append(col.Labels, *l)
		}
	}
	return col
}

func datasetIn(dataset string, datasets []string) bool {
	for _, d := range datasets {
		if d == dataset {
			return true
		}
	}
	return false
}

// ImputePass2 applies spec §4.J.1 steps 5-7 to rows in place: TRUE_MISSING
// for any configured column absent from a row, NOT_INTERNALLY_CONSISTENT
// collapsing for demographic columns with ≥2 distinct NORMAL codes, and
// consent-withdrawn STOP propagation. now is used to timestamp imputed
// labels.
func ImputePass2(rows []Row, cfgs []model.AnalysisDatasetConfig, now func() time.Time) {
	for i := range rows {
		imputeTrueMissing(&rows[i], cfgs, now)
	}
	for i := range rows {
		imputeNIC(&rows[i], cfgs, now)
	}
	for i := range rows {
		imputeConsentWithdrawn(&rows[i], cfgs, now)
	}
}

// imputeTrueMissing is spec §4.J step 5: a row with no contribution at all
// for a configured column gets an empty raw field and a TRUE_MISSING coded
// label under that column's first configured scheme.
func imputeTrueMissing(row *Row, cfgs []model.AnalysisDatasetConfig, now func() time.Time) {
	for _, cfg := range cfgs {
		if _, ok := row.Columns[cfg.ColumnName]; ok {
			continue
		}
		schemeID := cfg.ColumnName
		if len(cfg.CodingConfigs) > 0 {
			schemeID = cfg.CodingConfigs[0].SchemeID
		}
		row.Columns[cfg.ColumnName] = Column{
			Raw:    "",
			Labels: []model.Label{{SchemeID: schemeID, CodeID: model.CodeIDTrueMissing, DateTimeUTC: now()}},
		}
	}
}

// imputeNIC is spec §4.J step 6: demographic columns only. If a column's
// labels carry ≥2 distinct NORMAL code ids, all NORMAL labels collapse to
// a single NIC label; META/CONTROL labels are left untouched.
func imputeNIC(row *Row, cfgs []model.AnalysisDatasetConfig, now func() time.Time) {
	for _, cfg := range cfgs {
		if cfg.DatasetType != model.AnalysisDemographic {
			continue
		}
		col, ok := row.Columns[cfg.ColumnName]
		if !ok {
			continue
		}

		normalIDs := map[string]bool{}
		var kept []model.Label
		for _, l := range col.Labels {
			if codeType(cfg, l.SchemeID, l.CodeID) == model.CodeTypeNormal {
				normalIDs[l.CodeID] = true
			} else {
				kept = append(kept, l)
			}
		}
		if len(normalIDs) < 2 {
			continue
		}
		schemeID := cfg.ColumnName
		if len(cfg.CodingConfigs) > 0 {
			schemeID = cfg.CodingConfigs[0].SchemeID
		}
		col.Labels = append(kept, model.Label{SchemeID: schemeID, CodeID: model.CodeIDNIC, DateTimeUTC: now()})
		row.Columns[cfg.ColumnName] = col
	}
}

func codeType(cfg model.AnalysisDatasetConfig, schemeID, codeID string) model.CodeType {
	for _, cc := range cfg.CodingConfigs {
		if cc.SchemeID != schemeID {
			continue
		}
		if c := cc.Scheme.GetCodeWithCodeID(codeID); c != nil {
			return c.CodeType
		}
	}
	return model.CodeTypeNormal
}

// isStopColumn reports whether col carries a label whose code resolves to
// the STOP control code under any of cfg's coding configs.
func isStopColumn(col Column, cfgs []model.AnalysisDatasetConfig, columnName string) bool {
	var cfg *model.AnalysisDatasetConfig
	for i := range cfgs {
		if cfgs[i].ColumnName == columnName {
			cfg = &cfgs[i]
			break
		}
	}
	if cfg == nil {
		return false
	}
	for _, l := range col.Labels {
		if l.CodeID == model.CodeIDStop {
			return true
		}
		if codeType(*cfg, l.SchemeID, l.CodeID) == model.CodeTypeControl {
			for _, cc := range cfg.CodingConfigs {
				if cc.SchemeID != l.SchemeID {
					continue
				}
				if c := cc.Scheme.GetCodeWithCodeID(l.CodeID); c != nil && c.ControlCode == model.ControlCodeStop {
					return true
				}
			}
		}
	}
	return false
}

// imputeConsentWithdrawn is spec §4.J step 7: a participant is
// STOP-labelled iff any of their column labels (any dataset/column) has
// control_code STOP. STOP participants get every raw field replaced with
// "STOP" and every coded column replaced with a single STOP label under
// that column's scheme; others are marked not withdrawn.
func imputeConsentWithdrawn(row *Row, cfgs []model.AnalysisDatasetConfig, now func() time.Time) {
	withdrawn := false
	for name, col := range row.Columns {
		if isStopColumn(col, cfgs, name) {
			withdrawn = true
			break
		}
	}
	row.ConsentWithdrawn = withdrawn
	if !withdrawn {
		return
	}

	for _, cfg := range cfgs {
		col, ok := row.Columns[cfg.ColumnName]
		if !ok {
			continue
		}
		schemeID := cfg.ColumnName
		if len(cfg.CodingConfigs) > 0 {
			schemeID = cfg.CodingConfigs[0].SchemeID
		}
		row.Columns[cfg.ColumnName] = Column{
			Raw:    "STOP",
			Labels: []model.Label{{SchemeID: schemeID, CodeID: model.CodeIDStop, DateTimeUTC: now()}},
		}
	}
}
