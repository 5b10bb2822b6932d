package impute

import (
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// LocationHierarchy is spec §4.J.1.4's Kenya location imputation: a message
// carries at most one location code, found across whichever of
// LocationDatasetSchemeIDs the message was actually coded against; a
// normal code is looked up in a static constituency/county reference table
// (grounded on configurations/create_kenya_pool.py's location pool) to
// derive the two higher-level labels.
type LocationHierarchy struct {
	// LocationDatasetSchemeIDs lists every scheme a location code can be
	// found under (one per dataset participating in the location
	// question), checked in order; spec requires at most one distinct
	// NORMAL code across all of them.
	LocationDatasetSchemeIDs []string
	ConstituencySchemeID     string
	CountySchemeID           string
	// Codes is the code lookup shared by every location scheme (location,
	// constituency, county all resolve code ids against the same table of
	// normal/meta/control codes, since they are duplicated copies of one
	// question for this purpose).
	Codes model.CodeScheme
	// ConstituencyForLocation and CountyForLocation map a normal location
	// code id to the code id it implies one level up.
	ConstituencyForLocation map[string]string
	CountyForLocation       map[string]string
}

// imputeLocation is spec §4.J.1.4: collect the single location code across
// the configured schemes; multiple distinct NORMAL codes collapse to
// CODING_ERROR; a single NORMAL code derives constituency and county;
// META/CONTROL codes propagate uniformly to both derived schemes.
func (e *Engine) imputeLocation(msg *model.Message) {
	cfg := e.LocationRules

	if alreadyTerminal(msg, []string{cfg.ConstituencySchemeID, cfg.CountySchemeID}) {
		return
	}

	normalCodes := map[string]bool{}
	var metaOrControl *model.Code
	found := false
	for _, schemeID := range cfg.LocationDatasetSchemeIDs {
		l := msg.LatestLabelForScheme(schemeID)
		if l == nil {
			continue
		}
		c := cfg.Codes.GetCodeWithCodeID(l.CodeID)
		if c == nil {
			continue
		}
		found = true
		switch c.CodeType {
		case model.CodeTypeNormal:
			normalCodes[c.CodeID] = true
		default:
			metaOrControl = c
		}
	}
	if !found {
		return
	}

	if len(normalCodes) > 1 {
		e.stampUniformly(msg, []string{cfg.ConstituencySchemeID, cfg.CountySchemeID}, model.CodeIDCodingError)
		return
	}

	if len(normalCodes) == 1 {
		var locationCode string
		for c := range normalCodes {
			locationCode = c
		}
		e.appendLocationLabel(msg, cfg.ConstituencySchemeID, cfg.ConstituencyForLocation[locationCode])
		e.appendLocationLabel(msg, cfg.CountySchemeID, cfg.CountyForLocation[locationCode])
		return
	}

	// Only META/CONTROL codes present: propagate uniformly.
	e.appendLocationLabel(msg, cfg.ConstituencySchemeID, metaOrControl.CodeID)
	e.appendLocationLabel(msg, cfg.CountySchemeID, metaOrControl.CodeID)
}

func (e *Engine) appendLocationLabel(msg *model.Message, schemeID, codeID string) {
	if codeID == "" {
		return
	}
	if l := msg.LatestLabelForScheme(schemeID); l != nil && l.CodeID == codeID {
		return
	}
	msg.Labels = append(msg.Labels, model.Label{
		SchemeID: schemeID, CodeID: codeID, DateTimeUTC: e.Now(),
	})
	e.Stats.Increment(stats.EventImputed)
}
