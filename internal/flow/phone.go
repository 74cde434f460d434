// Package flow implements the dialogue state machine driving a call turn.
//
// This file normalizes spoken French phone numbers.
package flow

import (
	"strconv"
	"strings"

	"github.com/accueilvox/standardiste/internal/recovery"
)

// numberWords maps spoken French number words to their values. Compound
// forms ("trente-quatre", "soixante-dix-huit", "quatre-vingt-trois") are
// assembled by the tokenizer, not listed here.
var numberWords = map[string]int{
	"zero": 0, "un": 1, "une": 1, "deux": 2, "trois": 3,
	"quatre": 4, "cinq": 5, "six": 6, "sept": 7, "huit": 8,
	"neuf": 9, "dix": 10, "onze": 11, "douze": 12, "treize": 13,
	"quatorze": 14, "quinze": 15, "seize": 16, "vingt": 20,
	"trente": 30, "quarante": 40, "cinquante": 50, "soixante": 60,
}

// unitValue returns the value of a word usable as the unit part of a
// compound number (1-19).
func unitValue(word string) (int, bool) {
	v, ok := numberWords[word]
	if !ok || v > 19 {
		return 0, false
	}
	return v, true
}

// NormalizePhone extracts a French national phone number from an utterance.
// It accepts digit groups ("06 12 34 56 78"), spoken number words including
// compound pairs ("soixante-dix-huit"), and the +33/0 leading variants. It
// returns the ten-digit 0-prefixed paired form and true, or "" and false
// when no valid number is present.
func NormalizePhone(text string) (string, bool) {
	n := recovery.Normalize(text)
	n = strings.NewReplacer("-", " ", ".", " ", ",", " ", "'", " ").Replace(n)

	var fields []string
	for _, f := range strings.Fields(n) {
		// "soixante et onze" reads the same as "soixante onze".
		if f == "et" {
			continue
		}
		fields = append(fields, f)
	}

	var digits strings.Builder
	for i := 0; i < len(fields); {
		f := fields[i]

		// quatre-vingt[-dix][-unit]
		if f == "quatre" && i+1 < len(fields) && (fields[i+1] == "vingt" || fields[i+1] == "vingts") {
			val := 80
			i += 2
			if i+1 < len(fields) && fields[i] == "dix" {
				if u, ok := unitValue(fields[i+1]); ok && u <= 9 {
					val += 10 + u
					i += 2
				} else {
					val += 10
					i++
				}
			} else if i < len(fields) {
				if u, ok := unitValue(fields[i]); ok {
					val += u
					i++
				}
			}
			digits.WriteString(strconv.Itoa(val))
			continue
		}

		if v, ok := numberWords[f]; ok {
			// tens + unit ("trente quatre", "soixante douze", "soixante dix huit")
			if v >= 20 && v <= 60 && i+1 < len(fields) {
				if v == 60 && fields[i+1] == "dix" && i+2 < len(fields) {
					if u, uok := unitValue(fields[i+2]); uok && u <= 9 {
						digits.WriteString(strconv.Itoa(70 + u))
						i += 3
						continue
					}
				}
				if u, uok := unitValue(fields[i+1]); uok && (u <= 9 || v == 60) {
					digits.WriteString(strconv.Itoa(v + u))
					i += 2
					continue
				}
			}
			// dix + unit ("dix huit")
			if v == 10 && i+1 < len(fields) {
				if u, uok := unitValue(fields[i+1]); uok && u <= 9 {
					digits.WriteString(strconv.Itoa(10 + u))
					i += 2
					continue
				}
			}
			digits.WriteString(strconv.Itoa(v))
			i++
			continue
		}

		for _, r := range f {
			if (r >= '0' && r <= '9') || r == '+' {
				digits.WriteRune(r)
			}
		}
		i++
	}

	num := digits.String()
	if strings.HasPrefix(num, "+33") {
		num = "0" + num[3:]
	} else if strings.HasPrefix(num, "33") && len(num) == 11 {
		num = "0" + num[2:]
	}
	num = strings.ReplaceAll(num, "+", "")

	if len(num) != 10 || num[0] != '0' || num[1] == '0' {
		return "", false
	}
	return formatPhone(num), true
}

// formatPhone renders a ten-digit number as the conventional paired form.
func formatPhone(num string) string {
	var sb strings.Builder
	for i := 0; i < len(num); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(num[i : i+2])
	}
	return sb.String()
}
