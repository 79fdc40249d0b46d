// Package security provides input hardening for values clients send to the auth API.
//
// LabelSanitizer cleans the free-form device label (normally the User-Agent)
// that is stored with verification codes and tokens. bluemonday's strict
// policy removes every tag so a label rendered later in a session list cannot
// carry markup.
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxLabelBytes is the longest label that is stored.
const MaxLabelBytes = 255

// LabelSanitizer strips markup and control whitespace from device labels.
// It is safe for concurrent use.
type LabelSanitizer struct {
	policy *bluemonday.Policy
}

// NewLabelSanitizer creates a LabelSanitizer backed by bluemonday.StrictPolicy.
func NewLabelSanitizer() *LabelSanitizer {
	return &LabelSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeLabel removes HTML, collapses runs of whitespace and truncates the
// result to MaxLabelBytes without splitting a UTF-8 sequence.
// An empty or all-markup input yields "".
func (s *LabelSanitizer) SanitizeLabel(raw string) string {
	if raw == "" {
		return ""
	}
	clean := s.policy.Sanitize(raw)
	clean = strings.Join(strings.Fields(clean), " ")
	return truncateUTF8(clean, MaxLabelBytes)
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
