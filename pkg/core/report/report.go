// Package report writes the aggregated expense report and its human-readable
// summary.
package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"expense_pipeline/pkg/core/aggregate"
)

// Header is the column layout of the final report.
var Header = []string{"Razao_Social", "UF", "Total_Despesas", "Media_Trimestral", "Desvio_Padrao"}

// WriteCSV writes rows, in the given order, as UTF-8 comma-delimited CSV.
// Identical rows always produce identical bytes.
func WriteCSV(path string, rows []aggregate.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := Encode(f, rows); err != nil {
		f.Close()
		return eris.Wrapf(err, "report: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "report: close %s", path)
	}
	return nil
}

// Encode writes the header and rows to w.
func Encode(w io.Writer, rows []aggregate.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.LegalName,
			r.Region,
			r.Total.StringFixed(2),
			r.Mean.StringFixed(2),
			r.StdDev.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
