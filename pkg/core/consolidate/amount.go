package consolidate

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a balance written as "1.234,56" into a decimal.
//
// The transformation is exactly: trim, drop every '.', turn ',' into '.'.
// A value already written with a decimal point ("1234.56") therefore loses
// its point and reads as 123456; the source files never use that form.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero, eris.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "invalid amount %q", raw)
	}
	return d, nil
}
