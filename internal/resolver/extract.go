package resolver

import (
	"regexp"
	"strings"
)

var registryNumberPattern = regexp.MustCompile(`\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)

// ExtractRegistryNumbers finds every 14-digit registry number in text,
// punctuated or not, and returns them in canonical form without duplicates.
// Digit runs longer than 14 are ignored rather than truncated.
func ExtractRegistryNumbers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, loc := range registryNumberPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(text[start-1]) {
			continue
		}
		if end < len(text) && isDigit(text[end]) {
			continue
		}
		canonical, ok := CanonicalRegistryNumber(text[start:end])
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// CanonicalRegistryNumber formats any 14-digit input as NN.NNN.NNN/NNNN-NN.
func CanonicalRegistryNumber(s string) (string, bool) {
	d := Digits(s)
	if len(d) != 14 {
		return "", false
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14], true
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
