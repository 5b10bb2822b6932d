package impute

import (
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// imputeAgeCategory is _impute_age_category: for a message in the
// configured age dataset, read its latest age label's code and derive a
// category label from it, branching on the code's type: NORMAL looks its
// NumericValue up against AgeCategory.NumericRanges, META is looked up by
// MetaCode in MetaCodeCategories, CONTROL by ControlCode in
// ControlCodeCategories. Messages outside the age dataset are left
// untouched.
func (e *Engine) imputeAgeCategory(msg *model.Message) {
	cfg := e.AgeCategory
	if msg.Dataset != cfg.AgeDataset {
		return
	}
	ageLabel := msg.LatestLabelForScheme(cfg.AgeSchemeID)
	if ageLabel == nil {
		return
	}
	if msg.LatestLabelForScheme(cfg.CategorySchemeID) != nil {
		return // already imputed
	}

	code := cfg.AgeScheme.GetCodeWithCodeID(ageLabel.CodeID)
	if code == nil {
		return
	}

	categoryCodeID, ok := e.resolveAgeCategory(code)
	if !ok {
		return
	}

	msg.Labels = append(msg.Labels, model.Label{
		SchemeID: cfg.CategorySchemeID, CodeID: categoryCodeID, DateTimeUTC: e.Now(),
	})
	e.Stats.Increment(stats.EventImputed)
}

func (e *Engine) resolveAgeCategory(code *model.Code) (string, bool) {
	cfg := e.AgeCategory

	switch code.CodeType {
	case model.CodeTypeNormal:
		if code.NumericValue == nil {
			return "", false
		}
		for _, r := range cfg.NumericRanges {
			if *code.NumericValue >= r.Min && *code.NumericValue <= r.Max {
				return r.CategoryCodeID, true
			}
		}
		return "", false
	case model.CodeTypeMeta:
		cat, ok := cfg.MetaCodeCategories[code.MetaCode]
		return cat, ok
	case model.CodeTypeControl:
		cat, ok := cfg.ControlCodeCategories[code.ControlCode]
		return cat, ok
	}
	return "", false
}
