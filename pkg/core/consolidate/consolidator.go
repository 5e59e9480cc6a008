// Package consolidate turns the regulator's raw accounting tables into one
// expense total per operator and quarter.
package consolidate

import (
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"expense_pipeline/pkg/core/period"
)

// Source table contract. Headers are matched exactly.
const (
	ColumnEntityID    = "REG_ANS"
	ColumnDescription = "DESCRICAO"
	ColumnAmount      = "VL_SALDO_FINAL"
)

// ExpenseKeywords select the accounting lines that count as expenses:
// expenses, claims and care events.
var ExpenseKeywords = []string{"despesa", "sinistro", "evento"}

// SkipReason labels why a source line did not contribute to a total.
type SkipReason string

const (
	SkipMissingEntity SkipReason = "missing_entity"
	SkipOffCategory   SkipReason = "off_category"
	SkipBadAmount     SkipReason = "bad_amount"
)

// Row is one consolidated total for an operator in a period.
type Row struct {
	EntityID string
	Period   period.Period
	Total    decimal.Decimal
}

// Stats counts what a consolidation pass saw.
type Stats struct {
	FilesScanned int
	FilesSkipped int // unreadable or no usable header
	RowsAccepted int
	RowsSkipped  map[SkipReason]int
}

func newStats() Stats {
	return Stats{RowsSkipped: make(map[SkipReason]int)}
}

// Consolidator sums expense lines per operator.
type Consolidator struct {
	keywords []string
	logger   *zap.Logger
}

// NewConsolidator creates a Consolidator using ExpenseKeywords.
func NewConsolidator(logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{keywords: ExpenseKeywords, logger: logger}
}

// Consolidate scans every .csv file under dir and returns one Row per
// operator, in order of first appearance. Sums are kept exact while scanning
// and rounded to two decimals only when the rows are emitted.
//
// Files without the three required columns are skipped, as are lines with an
// empty operator, a non-expense description or an unparseable amount. Files
// and subdirectories that cannot be read are skipped too; only an unreadable
// dir is an error. A missing dir yields no rows.
func (c *Consolidator) Consolidate(p period.Period, dir string) ([]Row, Stats, error) {
	stats := newStats()
	totals := make(map[string]decimal.Decimal)
	var order []string

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		c.logger.Warn("consolidate: no extracted data for period",
			zap.String("period", p.String()), zap.String("dir", dir))
		return nil, stats, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			stats.FilesSkipped++
			c.logger.Warn("consolidate: entry unreadable, skipping",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".csv") {
			return nil
		}

		stats.FilesScanned++
		used, err := c.scanFile(path, &stats, func(entityID string, amount decimal.Decimal) {
			if _, seen := totals[entityID]; !seen {
				order = append(order, entityID)
			}
			totals[entityID] = totals[entityID].Add(amount)
		})
		if err != nil {
			stats.FilesSkipped++
			c.logger.Warn("consolidate: file unreadable, skipping",
				zap.String("file", path), zap.Error(err))
			return nil
		}
		if !used {
			stats.FilesSkipped++
			c.logger.Debug("consolidate: file lacks required columns", zap.String("file", path))
		}
		return nil
	})
	if err != nil {
		return nil, stats, eris.Wrapf(err, "consolidate: scan %s", dir)
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		rows = append(rows, Row{EntityID: id, Period: p, Total: totals[id].Round(2)})
	}

	c.logger.Info("consolidate: period consolidated",
		zap.String("period", p.String()),
		zap.Int("files", stats.FilesScanned),
		zap.Int("files_skipped", stats.FilesSkipped),
		zap.Int("lines_accepted", stats.RowsAccepted),
		zap.Int("operators", len(rows)))

	return rows, stats, nil
}

// scanFile feeds every accepted line of one table to add. It reports false
// when the file has no usable header.
func (c *Consolidator) scanFile(path string, stats *Stats, add func(string, decimal.Decimal)) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := NewLatin1Reader(f, ';')

	header, err := r.Read()
	if err != nil {
		// Empty or unreadable: same as a file without the required columns.
		return false, nil
	}
	idx := indexColumns(header)
	idIdx, okID := idx[ColumnEntityID]
	descIdx, okDesc := idx[ColumnDescription]
	amountIdx, okAmount := idx[ColumnAmount]
	if !okID || !okDesc || !okAmount {
		return false, nil
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed quoting ends the usable part of the file.
			c.logger.Debug("consolidate: unreadable line, stopping file",
				zap.String("file", path), zap.Error(err))
			break
		}

		entityID := strings.TrimSpace(field(record, idIdx))
		if entityID == "" {
			stats.RowsSkipped[SkipMissingEntity]++
			continue
		}
		if !c.isExpense(field(record, descIdx)) {
			stats.RowsSkipped[SkipOffCategory]++
			continue
		}
		amount, err := ParseAmount(field(record, amountIdx))
		if err != nil {
			stats.RowsSkipped[SkipBadAmount]++
			continue
		}

		stats.RowsAccepted++
		add(entityID, amount)
	}
	return true, nil
}

func (c *Consolidator) isExpense(description string) bool {
	description = strings.ToLower(description)
	for _, kw := range c.keywords {
		if strings.Contains(description, kw) {
			return true
		}
	}
	return false
}

// NewLatin1Reader returns a lenient CSV reader over ISO-8859-1 input.
func NewLatin1Reader(r io.Reader, comma rune) *csv.Reader {
	cr := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// indexColumns maps header names to their position. A repeated name maps to
// its last occurrence.
func indexColumns(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

// field returns record[i], or "" when the line is short.
func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
