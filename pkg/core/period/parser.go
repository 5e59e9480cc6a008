package period

import "strings"

// =============================================================================
// ARTIFACT NAME PARSING
// =============================================================================
// Archive names published by the regulator do not follow a fixed convention:
// "1T2024.zip", "2024_T1_demonstracoes.zip", "demonstracao_4trimestre2023.zip"
// and several other spellings appear in the same listing. The parser scans for
// a small set of recognised tokens instead of relying on the exact layout.

// Outcome tags the result of ParseName.
type Outcome int

const (
	// Unparseable means no year or no quarter token was found.
	Unparseable Outcome = iota
	// Parsed means Period holds a valid (year, quarter).
	Parsed
)

// NameResult is the tagged result of parsing an artifact name.
type NameResult struct {
	Outcome Outcome
	Period  Period
}

// OK reports whether the name was parsed.
func (r NameResult) OK() bool {
	return r.Outcome == Parsed
}

const quarterWord = "trimestre"

// ParseName extracts (year, quarter) from a free-form artifact name.
//
// The name is lowercased and stripped of '_' and '-'. The year is the first
// "20dd" substring. The quarter comes from the leftmost token among "Nt",
// "tN", "Ntrimestre" and "trimestreN" with N in 1..4. When several quarter
// tokens are present the leftmost one wins.
func ParseName(name string) NameResult {
	normalized := normalizeName(name)

	year, ok := findYear(normalized)
	if !ok {
		return NameResult{Outcome: Unparseable}
	}

	quarter, ok := findQuarter(normalized)
	if !ok {
		return NameResult{Outcome: Unparseable}
	}

	return NameResult{
		Outcome: Parsed,
		Period:  Period{Year: year, Quarter: quarter},
	}
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

// findYear returns the first "20dd" substring as an integer.
func findYear(s string) (int, bool) {
	for i := 0; i+4 <= len(s); i++ {
		if s[i] != '2' || s[i+1] != '0' || !isDigit(s[i+2]) || !isDigit(s[i+3]) {
			continue
		}
		return 2000 + int(s[i+2]-'0')*10 + int(s[i+3]-'0'), true
	}
	return 0, false
}

// findQuarter returns the quarter digit of the leftmost quarter token.
func findQuarter(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		// "Nt" also covers "Ntrimestre".
		if isQuarterDigit(s[i]) && i+1 < len(s) && s[i+1] == 't' {
			return int(s[i] - '0'), true
		}
		if s[i] != 't' {
			continue
		}
		if i+1 < len(s) && isQuarterDigit(s[i+1]) {
			return int(s[i+1] - '0'), true
		}
		end := i + len(quarterWord)
		if strings.HasPrefix(s[i:], quarterWord) && end < len(s) && isQuarterDigit(s[end]) {
			return int(s[end] - '0'), true
		}
	}
	return 0, false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isQuarterDigit(c byte) bool {
	return c >= '1' && c <= '4'
}
