package resolver

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var cityPrepositions = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "e": true,
}

// NormalizeCity drops any "/UF" suffix, collapses whitespace and title-cases
// each word, keeping Portuguese prepositions lower-case. Accents are kept.
// NormalizeCity(NormalizeCity(x)) == NormalizeCity(x).
func NormalizeCity(s string) string {
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	words := strings.Fields(s)
	lower := cases.Lower(language.BrazilianPortuguese)
	title := cases.Title(language.BrazilianPortuguese)
	for i, w := range words {
		w = lower.String(w)
		if !cityPrepositions[w] {
			w = title.String(w)
		}
		words[i] = w
	}
	return strings.Join(words, " ")
}
