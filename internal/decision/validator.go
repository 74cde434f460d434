package decision

import (
	"fmt"
	"regexp"
	"strings"
)

// AllowedPlaceholders is the fixed vocabulary of opaque fact tokens the
// decision layer may emit. Each is substituted with the tenant's
// authoritative FAQ answer only after validation passes.
var AllowedPlaceholders = map[string]bool{
	"HOURS":   true,
	"ADDRESS": true,
	"PRICING": true,
	"ACCESS":  true,
	"CONTACT": true,
}

var placeholderPattern = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// forbiddenMarkers reject factual claims outside placeholders: raw digits,
// currency, and clinical/advisory vocabulary the model must never improvise.
var forbiddenMarkers = []*regexp.Regexp{
	regexp.MustCompile(`[0-9]`),
	regexp.MustCompile(`[€$£]`),
	regexp.MustCompile(`(?i)\beuros?\b`),
	regexp.MustCompile(`(?i)\b(posologie|dosage|diagnostic|contre-indication|prescription)\b`),
	regexp.MustCompile(`(?i)\b(remboursement|mutuelle|securite sociale|sécurité sociale)\b`),
}

// ValidateResponse checks a decision-layer response text: every placeholder
// must belong to the allowed set, and the remaining text, placeholders
// stripped, must contain no forbidden factual markers.
func ValidateResponse(text string) error {
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !AllowedPlaceholders[m[1]] {
			return fmt.Errorf("placeholder %q not in allowed set", m[1])
		}
	}
	stripped := placeholderPattern.ReplaceAllString(text, "")
	for _, marker := range forbiddenMarkers {
		if loc := marker.FindString(stripped); loc != "" {
			return fmt.Errorf("forbidden factual marker %q in response", loc)
		}
	}
	return nil
}

// Substitute replaces validated placeholders with the tenant's authoritative
// facts. Unknown facts substitute to an empty string rather than leaking the
// token to the caller.
func Substitute(text string, facts map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		key := strings.Trim(token, "{}")
		return facts[strings.ToLower(key)]
	})
}
