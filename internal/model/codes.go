package model

// CodeType tags the three kinds of code a scheme can contain, replacing the
// dynamic, schema-less dict traversal of the source implementation with an
// explicit tagged variant.
type CodeType string

const (
	CodeTypeNormal  CodeType = "NORMAL"
	CodeTypeMeta    CodeType = "META"
	CodeTypeControl CodeType = "CONTROL"
)

// Control codes recognised by the pipeline. These are the values a Code's
// ControlCode field takes when CodeType is CONTROL.
const (
	ControlCodeWrongScheme = "WRONG_SCHEME"
	ControlCodeNotCoded    = "NOT_CODED"
	ControlCodeStop        = "STOP"
)

// Reserved code ids, used directly (not via a scheme lookup) because they
// apply uniformly across every scheme.
const (
	CodeIDManuallyUncoded = "SPECIAL-MANUALLY_UNCODED"
	CodeIDNotReviewed     = "NOT_REVIEWED"
	CodeIDCodingError     = "CODING_ERROR"
	CodeIDTrueMissing     = "TRUE_MISSING"
	CodeIDNIC             = "NIC"
	CodeIDStop            = "STOP"
)

// Code is one entry in a CodeScheme.
type Code struct {
	CodeID      string
	CodeType    CodeType
	ControlCode string
	MetaCode    string
	MatchValues []string
	StringValue string
	NumericValue *float64
}

// CodeScheme is a named, ordered set of Codes that a dataset can apply.
type CodeScheme struct {
	SchemeID string
	Codes    []Code
}

// GetCodeWithCodeID returns the code with the given id, or nil.
func (s CodeScheme) GetCodeWithCodeID(codeID string) *Code {
	for i := range s.Codes {
		if s.Codes[i].CodeID == codeID {
			return &s.Codes[i]
		}
	}
	return nil
}

// GetCodeWithMatchValue returns the first code whose MatchValues contains
// value, or nil.
func (s CodeScheme) GetCodeWithMatchValue(value string) *Code {
	for i := range s.Codes {
		for _, mv := range s.Codes[i].MatchValues {
			if mv == value {
				return &s.Codes[i]
			}
		}
	}
	return nil
}

// GetCodeWithMetaCode returns the first META code with the given meta code.
func (s CodeScheme) GetCodeWithMetaCode(metaCode string) *Code {
	for i := range s.Codes {
		if s.Codes[i].CodeType == CodeTypeMeta && s.Codes[i].MetaCode == metaCode {
			return &s.Codes[i]
		}
	}
	return nil
}

// GetCodeWithControlCode returns the first CONTROL code with the given
// control code.
func (s CodeScheme) GetCodeWithControlCode(controlCode string) *Code {
	for i := range s.Codes {
		if s.Codes[i].CodeType == CodeTypeControl && s.Codes[i].ControlCode == controlCode {
			return &s.Codes[i]
		}
	}
	return nil
}

// Duplicate returns a copy of the scheme with its SchemeID suffixed, used to
// build the `count` duplicated copies of a code scheme configuration
// (scheme_id, scheme_id-2, scheme_id-3, ...).
func (s CodeScheme) Duplicate(suffix string) CodeScheme {
	codesCopy := make([]Code, len(s.Codes))
	copy(codesCopy, s.Codes)
	return CodeScheme{SchemeID: s.SchemeID + suffix, Codes: codesCopy}
}

// Equal reports structural equality between two schemes (id and codes),
// used by the reconciler to decide whether a scheme needs pushing.
func (s CodeScheme) Equal(other CodeScheme) bool {
	if s.SchemeID != other.SchemeID || len(s.Codes) != len(other.Codes) {
		return false
	}
	for i := range s.Codes {
		if !s.Codes[i].equal(other.Codes[i]) {
			return false
		}
	}
	return true
}

// equal compares two Codes field-by-field; Code is not comparable with ==
// because MatchValues is a slice.
func (c Code) equal(other Code) bool {
	if c.CodeID != other.CodeID || c.CodeType != other.CodeType ||
		c.ControlCode != other.ControlCode || c.MetaCode != other.MetaCode ||
		c.StringValue != other.StringValue {
		return false
	}
	if (c.NumericValue == nil) != (other.NumericValue == nil) {
		return false
	}
	if c.NumericValue != nil && *c.NumericValue != *other.NumericValue {
		return false
	}
	if len(c.MatchValues) != len(other.MatchValues) {
		return false
	}
	for i := range c.MatchValues {
		if c.MatchValues[i] != other.MatchValues[i] {
			return false
		}
	}
	return true
}
