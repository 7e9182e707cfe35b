package lead

// CountryCode is prefixed to phone numbers that lack it.
const CountryCode = "55"

// NormalizePhone reduces s to digits and prefixes the country code when it
// is missing. Numbers with fewer than 10 or more than 13 digits are rejected.
func NormalizePhone(s string) (string, bool) {
	d := digitsOnly(s)
	if len(d) < 10 || len(d) > 13 {
		return "", false
	}
	if len(d) >= 2 && d[:2] == CountryCode {
		return d, true
	}
	return CountryCode + d, true
}
