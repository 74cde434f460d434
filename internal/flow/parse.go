// Package flow implements the dialogue state machine driving a call turn.
//
// This file parses caller answers: slot choices, yes/no, preferences, names
// and coarse opening intents.
package flow

import (
	"strconv"
	"strings"

	"github.com/accueilvox/standardiste/internal/recovery"
)

// ordinalWords maps spoken ordinals and cardinals to zero-based slot indexes.
var ordinalWords = map[string]int{
	"premier": 0, "premiere": 0, "un": 0, "1er": 0, "1ere": 0,
	"deuxieme": 1, "second": 1, "seconde": 1, "deux": 1,
	"troisieme": 2, "trois": 2,
	"quatrieme": 3, "quatre": 3,
	"cinquieme": 4, "cinq": 4,
}

// ParseSlotChoice maps a spoken choice to an index into the currently
// displayed slot set. A choice only validates against the displayed count.
func ParseSlotChoice(text string, count int) (int, bool) {
	if count == 0 {
		return 0, false
	}
	n := recovery.Normalize(text)

	if strings.Contains(n, "dernier") {
		return count - 1, true
	}
	for _, field := range strings.Fields(n) {
		if idx, ok := ordinalWords[field]; ok {
			if idx < count {
				return idx, true
			}
			return 0, false
		}
		if v, err := strconv.Atoi(field); err == nil {
			if v >= 1 && v <= count {
				return v - 1, true
			}
			return 0, false
		}
	}
	return 0, false
}

// YesNo is the parsed polarity of a confirmation answer.
type YesNo int

const (
	AnswerAmbiguous YesNo = iota
	AnswerYes
	AnswerNo
)

var yesWords = []string{"oui", "ouais", "exact", "c'est ca", "c est ca", "tout a fait", "parfait", "d'accord", "d accord", "ok"}
var noWords = []string{"non", "pas du tout", "nan", "c'est faux", "erreur"}

var yesNoPunct = strings.NewReplacer(",", " ", ".", " ", "!", " ", "?", " ", ";", " ", ":", " ")

// containsWord matches w against whole words of n, never inside another word:
// "maintenant" does not contain the word "nan".
func containsWord(n, w string) bool {
	return n == w || strings.HasPrefix(n, w+" ") || strings.HasSuffix(n, " "+w) || strings.Contains(n, " "+w+" ")
}

// ParseYesNo classifies a confirmation answer. A negation wins over a
// yes-word in the same utterance ("non, c'est ça ne va pas" stays a no), and
// a bare acknowledgement that could be either ("euh", "hmm") stays ambiguous.
func ParseYesNo(text string) YesNo {
	n := strings.Join(strings.Fields(yesNoPunct.Replace(recovery.Normalize(text))), " ")
	for _, w := range noWords {
		if containsWord(n, w) {
			return AnswerNo
		}
	}
	for _, w := range yesWords {
		if containsWord(n, w) {
			return AnswerYes
		}
	}
	return AnswerAmbiguous
}

// ParsePreference extracts a time-of-day preference.
func ParsePreference(text string) (string, bool) {
	n := recovery.Normalize(text)
	switch {
	case strings.Contains(n, "matin"):
		return "matin", true
	case strings.Contains(n, "apres midi") || strings.Contains(n, "apres-midi") || strings.Contains(n, "apresmidi") || strings.Contains(n, "soir"):
		return "apres-midi", true
	case strings.Contains(n, "peu importe") || strings.Contains(n, "indifferent") || strings.Contains(n, "n'importe") || strings.Contains(n, "importe quand"):
		return "", true
	default:
		return "", false
	}
}

var namePrefixes = []string{"je m'appelle", "je m appelle", "c'est", "c est", "mon nom est", "madame", "monsieur", "mademoiselle"}

// ParseName extracts a caller name from an utterance. The bar is low on
// purpose: the name is read back at confirmation, which is the real check.
func ParseName(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	lower := recovery.Normalize(cleaned)
	for _, prefix := range namePrefixes {
		if strings.HasPrefix(lower, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			break
		}
	}
	if len([]rune(cleaned)) < 2 || len([]rune(cleaned)) > 80 {
		return "", false
	}
	hasLetter := false
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			return "", false
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127 {
			hasLetter = true
		}
	}
	if !hasLetter {
		return "", false
	}
	return cleaned, true
}

// OpeningIntent is the coarse rule-based classification of a first utterance.
type OpeningIntent int

const (
	OpeningUnknown OpeningIntent = iota
	OpeningBooking
	OpeningFAQ
	OpeningOrdonnance
	OpeningAmbiguousYes
)

var bookingStems = []string{"rendez-vous", "rendez vous", "rdv", "consultation", "venir voir", "prendre date"}
var faqStems = []string{"horaire", "ouvert", "ferme", "adresse", "ou etes", "ou êtes", "tarif", "prix", "combien", "acces", "parking", "carte vitale", "question"}
var ordonnanceStems = []string{"ordonnance", "renouvel", "prescription"}
var bareAcks = []string{"oui", "ouais", "d'accord", "d accord", "ok", "allo", "bonjour"}

// ClassifyOpening applies the rule-based routing for the START state.
func ClassifyOpening(text string) OpeningIntent {
	n := recovery.Normalize(text)
	switch {
	case containsAnyStem(n, ordonnanceStems):
		return OpeningOrdonnance
	case containsAnyStem(n, bookingStems):
		return OpeningBooking
	case containsAnyStem(n, faqStems):
		return OpeningFAQ
	}
	for _, ack := range bareAcks {
		if n == ack {
			return OpeningAmbiguousYes
		}
	}
	return OpeningUnknown
}

// FAQTopic identifies which fact answers an FAQ-ish utterance, using the
// same keys as the tenant fact table.
func FAQTopic(text string) (string, bool) {
	n := recovery.Normalize(text)
	switch {
	case strings.Contains(n, "horaire") || strings.Contains(n, "ouvert") || strings.Contains(n, "ferme") || strings.Contains(n, "quelle heure"):
		return "hours", true
	case strings.Contains(n, "adresse") || strings.Contains(n, "ou etes") || strings.Contains(n, "trouve"):
		return "address", true
	case strings.Contains(n, "tarif") || strings.Contains(n, "prix") || strings.Contains(n, "combien"):
		return "pricing", true
	case strings.Contains(n, "acces") || strings.Contains(n, "parking") || strings.Contains(n, "metro") || strings.Contains(n, "bus"):
		return "access", true
	case strings.Contains(n, "joindre") || strings.Contains(n, "mail") || strings.Contains(n, "contact"):
		return "contact", true
	default:
		return "", false
	}
}

func containsAnyStem(text string, stems []string) bool {
	for _, stem := range stems {
		if strings.Contains(text, stem) {
			return true
		}
	}
	return false
}
