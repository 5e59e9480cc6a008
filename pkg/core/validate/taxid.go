// Package validate provides identity checks used when reconciling operators
// against the registry. Everything here is pure: no I/O and no errors for
// malformed input, which simply evaluates to invalid.
package validate

import "strings"

// TaxIDLength is the number of digits in a normalized tax id.
const TaxIDLength = 14

var (
	firstCheckWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	secondCheckWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// NormalizeTaxID strips every non-digit character.
//
//	NormalizeTaxID("12.345.678/0001-95") // "12345678000195"
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	b.Grow(len(taxID))
	for i := 0; i < len(taxID); i++ {
		if c := taxID[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsValidTaxID reports whether taxID, once normalized, has 14 digits that are
// not all identical and ends with the two modulo-11 check digits.
func IsValidTaxID(taxID string) bool {
	digits := NormalizeTaxID(taxID)
	if len(digits) != TaxIDLength || allSame(digits) {
		return false
	}

	first := CheckDigit(digits[:12], firstCheckWeights)
	second := CheckDigit(digits[:12]+string(rune('0'+first)), secondCheckWeights)

	return int(digits[12]-'0') == first && int(digits[13]-'0') == second
}

// CheckDigit computes one weighted modulo-11 check digit over digits.
// digits must be ASCII digits and at least as long as weights.
func CheckDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

// CompleteTaxID appends the two check digits to a 12-digit base.
func CompleteTaxID(base string) string {
	first := CheckDigit(base, firstCheckWeights)
	withFirst := base + string(rune('0'+first))
	second := CheckDigit(withFirst, secondCheckWeights)
	return withFirst + string(rune('0'+second))
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
