// Package aggregate summarizes trusted expense rows per operator and region.
package aggregate

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"expense_pipeline/pkg/core/registry"
)

// Row is the statistical summary of one (legal name, region) group.
// All figures are rounded to two decimals.
type Row struct {
	LegalName string
	Region    string
	Total     decimal.Decimal
	Mean      decimal.Decimal // per period
	StdDev    decimal.Decimal // population
}

type groupKey struct {
	legalName string
	region    string
}

// Engine aggregates enriched rows.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Aggregate keeps VALID rows with both a legal name and a region, groups them
// by (legal name, region) and returns one Row per group ordered by total,
// largest first. Groups with equal totals keep the order in which they were
// first seen.
//
// Mean and standard deviation are computed from the unrounded total and mean;
// the deviation divides by the group size (population variance).
func (e *Engine) Aggregate(rows []registry.EnrichedRow) []Row {
	groups := make(map[groupKey][]decimal.Decimal)
	var order []groupKey
	dropped := 0

	for _, r := range rows {
		if r.Status != registry.StatusValid {
			continue
		}
		if r.LegalName == "" || r.Region == "" {
			dropped++
			continue
		}
		key := groupKey{legalName: r.LegalName, region: r.Region}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r.Total)
	}

	out := make([]Row, 0, len(order))
	for _, key := range order {
		out = append(out, summarize(key, groups[key]))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Total.GreaterThan(out[j].Total)
	})

	e.logger.Info("aggregate: groups computed",
		zap.Int("groups", len(out)),
		zap.Int("rows_without_group_key", dropped))
	return out
}

func summarize(key groupKey, values []decimal.Decimal) Row {
	k := decimal.NewFromInt(int64(len(values)))

	total := decimal.Sum(values[0], values[1:]...)
	mean := total.Div(k)

	squares := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		squares = squares.Add(d.Mul(d))
	}
	variance := squares.Div(k)

	return Row{
		LegalName: key.legalName,
		Region:    key.region,
		Total:     total.Round(2),
		Mean:      mean.Round(2),
		StdDev:    sqrt(variance).Round(2),
	}
}

// sqrt of a non-negative decimal. The float64 result carries far more than
// the two decimals that are kept.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(d.InexactFloat64()))
}
