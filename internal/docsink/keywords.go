package docsink

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Portuguese function words plus the boilerplate that shows up on almost
// every business page.
var stopWords = map[string]struct{}{
	"a": {}, "ao": {}, "aos": {}, "as": {}, "com": {}, "como": {}, "da": {},
	"das": {}, "de": {}, "do": {}, "dos": {}, "e": {}, "em": {}, "entre": {},
	"na": {}, "nas": {}, "no": {}, "nos": {}, "o": {}, "os": {}, "ou": {},
	"para": {}, "pela": {}, "pelo": {}, "por": {}, "que": {}, "se": {},
	"sem": {}, "sua": {}, "seu": {}, "um": {}, "uma": {}, "voce": {},
	"mais": {}, "nosso": {}, "nossa": {}, "nossos": {}, "nossas": {},
	"ltda": {}, "me": {}, "eireli": {}, "www": {}, "br": {}, "http": {},
	"https": {}, "contato": {}, "home": {}, "inicio": {},
}

// Token is one normalised term and its position among the kept terms.
type Token struct {
	Term     string
	Position int
}

// Tokenize lower-cases and accent-folds text, splits it on anything that is
// not a letter or digit, and drops stop words and single characters.
// Pure digit runs are dropped too; phone and registry numbers are stored as
// fields of their own.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2)
	pos := 0
	for _, word := range words {
		if len([]rune(word)) < 2 || allDigits(word) {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}
	return tokens
}

// Keywords returns up to limit terms ordered by frequency, ties broken by
// first appearance. Terms in boost are counted as if they appeared
// boostWeight extra times, so the lead's own name and city always rank.
func Keywords(text string, boost string, limit int) []string {
	counts := make(map[string]int)
	first := make(map[string]int)
	add := func(tokens []Token, weight int, offset int) {
		for _, t := range tokens {
			if _, seen := first[t.Term]; !seen {
				first[t.Term] = offset + t.Position
			}
			counts[t.Term] += weight
		}
	}
	boosted := Tokenize(boost)
	add(boosted, boostWeight, 0)
	add(Tokenize(text), 1, len(boosted))

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})
	if limit > 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

const boostWeight = 100

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
