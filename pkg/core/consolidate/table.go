package consolidate

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"expense_pipeline/pkg/core/period"
)

// =============================================================================
// INTERMEDIATE CONSOLIDATED TABLE
// =============================================================================
// Stage 1 writes the table, stage 2 reads it back. Tax id and legal name are
// placeholders here; the registry fills them in during reconciliation.

// Header is the column layout of the consolidated table.
var Header = []string{"REG_ANS", "CNPJ", "Razao_Social", "Ano", "Trimestre", "Valor_Despesas"}

const (
	TaxIDPlaceholder     = "DESCONHECIDO"
	LegalNamePlaceholder = "SEM_CADASTRO_ANS"
)

// ErrMissingColumns is returned when the consolidated table lacks a column
// of Header.
var ErrMissingColumns = eris.New("consolidated table is missing required columns")

// WriteTable writes rows as UTF-8, comma-delimited CSV with a header row.
func WriteTable(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "consolidate: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "consolidate: create %s", path)
	}
	if err := writeRows(f, rows); err != nil {
		f.Close()
		return eris.Wrapf(err, "consolidate: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "consolidate: close %s", path)
	}
	return nil
}

func writeRows(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.EntityID,
			TaxIDPlaceholder,
			LegalNamePlaceholder,
			strconv.Itoa(r.Period.Year),
			strconv.Itoa(r.Period.Quarter),
			r.Total.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTable loads the consolidated table. Lines that are not valid CSV, or
// whose year, quarter or amount do not parse, are skipped; a missing file or
// header is an error.
func ReadTable(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(ErrMissingColumns, "consolidate: %s has no header", path)
	}
	idx := indexColumns(header)
	for _, col := range Header {
		if _, ok := idx[col]; !ok {
			return nil, eris.Wrapf(ErrMissingColumns, "consolidate: %s lacks %s", path, col)
		}
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "consolidate: read %s", path)
		}
		row, ok := parseRecord(record, idx)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(record []string, idx map[string]int) (Row, bool) {
	year, err := strconv.Atoi(strings.TrimSpace(field(record, idx["Ano"])))
	if err != nil {
		return Row{}, false
	}
	quarter, err := strconv.Atoi(strings.TrimSpace(field(record, idx["Trimestre"])))
	if err != nil {
		return Row{}, false
	}
	total, err := decimal.NewFromString(strings.TrimSpace(field(record, idx["Valor_Despesas"])))
	if err != nil {
		return Row{}, false
	}
	return Row{
		EntityID: field(record, idx["REG_ANS"]),
		Period:   period.Period{Year: year, Quarter: quarter},
		Total:    total,
	}, true
}
