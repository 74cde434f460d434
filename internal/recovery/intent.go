// Package recovery provides misunderstanding recovery and strong-intent
// preemption for the dialogue controller.
//
// Strong intents (cancel, modify, transfer to a human, abandon) are honored
// regardless of the current state: a caller mid-booking who says "en fait
// annulez" is routed to the cancellation flow immediately.
package recovery

import (
	"regexp"
	"strings"
)

// StrongIntent is an utterance that preempts the current dialogue state.
type StrongIntent string

const (
	IntentNone     StrongIntent = ""
	IntentCancel   StrongIntent = "cancel"
	IntentModify   StrongIntent = "modify"
	IntentTransfer StrongIntent = "transfer"
	IntentAbandon  StrongIntent = "abandon"
)

// Keyword stems matched after lowercasing and accent folding. Stems rather
// than full words so conjugations match ("annulez", "annuler", "annulation").
var (
	cancelStems   = []string{"annul", "cancel", "supprim", "decommand"}
	modifyStems   = []string{"modif", "deplac", "report", "chang", "decal"}
	transferStems = []string{"humain", "secretair", "conseiller", "standardist", "vraie personne", "quelqu'un", "transfer"}
)

// Abandonment ends the call, so its bar is higher than the other intents:
// multi-word phrases match as substrings, single stems only at the start of a
// word. A mid-booking "j'ai oublié mon numéro" must never conclude the call.
var (
	abandonPhrases   = []string{"au revoir", "laisse tomber", "laissez tomber", "tant pis", "plus besoin"}
	abandonWordStems = []string{"raccroch"}
)

// negatedCancelPattern guards against "ne pas annuler" style utterances.
var negatedCancelPattern = regexp.MustCompile(`\b(ne|n'|pas|sans)\s+(pas\s+)?annul`)

var accentReplacer = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a", "ä", "a",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
)

// Normalize lowercases and folds accents for keyword matching.
func Normalize(text string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(text)))
}

func containsAny(text string, stems []string) bool {
	for _, stem := range stems {
		if strings.Contains(text, stem) {
			return true
		}
	}
	return false
}

// hasWordStem reports whether any word of text begins with one of the stems.
func hasWordStem(text string, stems []string) bool {
	for _, field := range strings.Fields(text) {
		for _, stem := range stems {
			if strings.HasPrefix(field, stem) {
				return true
			}
		}
	}
	return false
}

// MatchStrongIntent tests an utterance against the fixed strong-intent set.
// It returns IntentNone when no unambiguous match exists.
func MatchStrongIntent(text string) StrongIntent {
	n := Normalize(text)
	if n == "" {
		return IntentNone
	}
	switch {
	case containsAny(n, cancelStems) && !negatedCancelPattern.MatchString(n):
		return IntentCancel
	case containsAny(n, modifyStems):
		return IntentModify
	case containsAny(n, transferStems):
		return IntentTransfer
	case containsAny(n, abandonPhrases) || hasWordStem(n, abandonWordStems):
		return IntentAbandon
	default:
		return IntentNone
	}
}
