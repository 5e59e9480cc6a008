package period

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected NameResult
	}{
		{"Quarter before marker", "1T2024_demonstracao.zip", parsed(2024, 1)},
		{"Trimestre suffix", "demonstracao_4trimestre2023.zip", parsed(2023, 4)},
		{"Trimestre prefix", "trimestre2_2022.zip", parsed(2022, 2)},
		{"Marker before quarter", "T3_2021_contabeis.zip", parsed(2021, 3)},
		{"Year digit adjacent to marker", "2021_T3.zip", parsed(2021, 1)},
		{"Dashes stripped", "3-T-2020.zip", parsed(2020, 3)},
		{"Uppercase", "4T2019.ZIP", parsed(2019, 4)},
		{"No year", "relatorio.zip", NameResult{Outcome: Unparseable}},
		{"Year but no quarter", "relatorio_2024.zip", NameResult{Outcome: Unparseable}},
		{"Quarter out of range", "5T.2024.zip", NameResult{Outcome: Unparseable}},
		{"Year outside 20xx", "1T1999.zip", NameResult{Outcome: Unparseable}},
		{"Leftmost quarter token wins", "1T2T2024.zip", parsed(2024, 1)},
		{"Empty", "", NameResult{Outcome: Unparseable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseName(tt.input))
		})
	}
}

func TestNameResult_OK(t *testing.T) {
	assert.True(t, ParseName("1T2024.zip").OK())
	assert.False(t, ParseName("relatorio.zip").OK())
}

func parsed(year, quarter int) NameResult {
	return NameResult{Outcome: Parsed, Period: Period{Year: year, Quarter: quarter}}
}
