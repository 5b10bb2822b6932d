package model

import "time"

// Origin records who/what produced a HistoryEntry: either an upstream
// source adapter, the forward/back sync engines, the reconciler, or a
// manual fix such as the WS-cycle repair.
type Origin struct {
	OriginType string // e.g. "source", "forward_sync", "back_sync", "fix_ws_cycle"
	OriginID   string // upstream record id for source-originated entries
	Details    map[string]string
}

// NewOrigin builds an Origin with no upstream id, for pipeline-internal
// mutations (reconciler writes, WS cycle fixes) that have no originating
// upstream record.
func NewOrigin(originType string, details map[string]string) Origin {
	return Origin{OriginType: originType, Details: details}
}

// Label is one coding decision applied to a Message, scoped to a single
// CodeScheme.
type Label struct {
	SchemeID    string
	CodeID      string
	CheckedBy   string // coder identity, empty for machine-applied labels
	DateTimeUTC time.Time
	Confidence  *float64
	Checked     bool
}

// HistoryEntry is one append-only mutation record on a Message, mirroring
// the append-only history list the engagement database keeps per message.
type HistoryEntry struct {
	HistoryEntryID string
	Origin         Origin
	TimestampUTC   time.Time
	// Labels is the full label set the message had immediately after this
	// entry was applied, not merely the delta — matching the snapshot
	// style of the source history entries.
	Labels []Label
}

// Message is one engagement-database record: an upstream response together
// with its coding history and its current dataset/labels.
type Message struct {
	MessageID        string
	Text             string
	ParticipantUUID  string
	OriginID         string // upstream response id, used for dedup
	Dataset          string
	PreviousDatasets []string
	Labels           []Label
	History          []HistoryEntry
	LastUpdatedUTC   time.Time
	CodaID           string // non-empty once pushed to the coding tool
}

// LatestLabels returns, for each distinct SchemeID present in m.Labels, the
// newest label applied to that scheme — found by walking m.Labels in
// reverse (labels are appended in chronological order) and keeping the
// first match per scheme id.
func (m Message) LatestLabels() []Label {
	seen := make(map[string]bool, len(m.Labels))
	var latest []Label
	for i := len(m.Labels) - 1; i >= 0; i-- {
		l := m.Labels[i]
		if seen[l.SchemeID] {
			continue
		}
		seen[l.SchemeID] = true
		latest = append(latest, l)
	}
	return latest
}

// LatestLabelForScheme returns the newest label for the given scheme, or
// nil if the message has never been labelled against it.
func (m Message) LatestLabelForScheme(schemeID string) *Label {
	for i := len(m.Labels) - 1; i >= 0; i-- {
		if m.Labels[i].SchemeID == schemeID {
			l := m.Labels[i]
			return &l
		}
	}
	return nil
}

// AppendHistory appends a history entry recording the message's current
// label set and origin, used by every component that mutates a message
// (source ingestion, forward sync, back sync, imputation) so the append-only
// invariant (history entries are never edited or removed, only added) holds
// in one place.
func (m *Message) AppendHistory(entryID string, origin Origin, at time.Time) {
	labelsCopy := make([]Label, len(m.Labels))
	copy(labelsCopy, m.Labels)
	m.History = append(m.History, HistoryEntry{
		HistoryEntryID: entryID,
		Origin:         origin,
		TimestampUTC:   at,
		Labels:         labelsCopy,
	})
	m.LastUpdatedUTC = at
}

// IsCycleWith reports whether target is already one of m's previous
// datasets (or its current dataset), the condition that triggers WS cycle
// detection in the back-sync engine.
func (m Message) IsCycleWith(target string) bool {
	if target == m.Dataset {
		return true
	}
	for _, d := range m.PreviousDatasets {
		if d == target {
			return true
		}
	}
	return false
}
