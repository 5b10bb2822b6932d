// Package identity validates and de-identifies participant contact
// identifiers before they are ever written to the engagement database,
// grounded on create_kenya_pool.py / test_pipeline_configuration.py's
// phone-number handling in original_source/configurations.
package identity

import (
	"strings"
)

// Kenya mobile numbers, once normalised, are a 254-prefixed national
// number of exactly this length, beginning with one of the listed prefixes.
const (
	kenyaCountryCode   = "254"
	kenyaNormalizedLen = 12
)

var kenyaValidPrefixes = []string{"7", "10", "11"}

// NormalizeKenyaMobileNumber trims surrounding space, one leading "+" and
// any leading zeros, then prefixes the 254 country code unless the number
// already starts with it, returning the canonical "254XXXXXXXXX" form.
// It does not validate; call ValidateKenyaMobileNumber on the result.
func NormalizeKenyaMobileNumber(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimLeft(s, "0")
	if strings.HasPrefix(s, kenyaCountryCode) {
		return s
	}
	return kenyaCountryCode + s
}

// ValidateKenyaMobileNumber reports whether a normalised number is a
// plausible Kenyan mobile number: country code 254, total length 12, and a
// national-number prefix (after the country code) of 7, 10, or 11.
func ValidateKenyaMobileNumber(normalized string) bool {
	if len(normalized) != kenyaNormalizedLen {
		return false
	}
	if !strings.HasPrefix(normalized, kenyaCountryCode) {
		return false
	}
	national := normalized[len(kenyaCountryCode):]
	for _, prefix := range kenyaValidPrefixes {
		if strings.HasPrefix(national, prefix) {
			return true
		}
	}
	return false
}
