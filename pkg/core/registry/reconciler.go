package registry

import (
	"strings"

	"go.uber.org/zap"

	"expense_pipeline/pkg/core/consolidate"
	"expense_pipeline/pkg/core/validate"
)

// TrustStatus classifies how far an enriched row's identity can be trusted.
type TrustStatus string

const (
	StatusValid            TrustStatus = "VALID"
	StatusInvalidTaxID     TrustStatus = "INVALID_TAX_ID"
	StatusNotInRegistry    TrustStatus = "NOT_IN_REGISTRY"
	StatusDuplicateEntry   TrustStatus = "DUPLICATE_REGISTRY_ENTRY"
	StatusMissingLegalName TrustStatus = "MISSING_LEGAL_NAME"
)

// Statuses lists every TrustStatus in reporting order.
var Statuses = []TrustStatus{
	StatusValid,
	StatusInvalidTaxID,
	StatusNotInRegistry,
	StatusDuplicateEntry,
	StatusMissingLegalName,
}

// EnrichedRow is a consolidated row joined with its registry identity.
// Identity fields stay empty when the operator is not in the registry.
type EnrichedRow struct {
	consolidate.Row
	TaxID     string // normalized
	LegalName string
	Region    string
	Category  string
	Status    TrustStatus
}

// Summary counts rows per TrustStatus.
type Summary map[TrustStatus]int

// Total returns the number of classified rows.
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Reconciler joins consolidated rows against a registry.
type Reconciler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler over reg. The registry is read-only for
// the lifetime of the reconciler.
func NewReconciler(reg *Registry, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{registry: reg, logger: logger}
}

// Reconcile classifies every row exactly once and drops none; filtering is
// left to aggregation.
func (r *Reconciler) Reconcile(rows []consolidate.Row) ([]EnrichedRow, Summary) {
	out := make([]EnrichedRow, 0, len(rows))
	summary := make(Summary, len(Statuses))

	for _, row := range rows {
		enriched := r.classify(row)
		summary[enriched.Status]++
		out = append(out, enriched)
	}

	fields := make([]zap.Field, 0, len(Statuses)+1)
	fields = append(fields, zap.Int("rows", len(rows)))
	for _, s := range Statuses {
		fields = append(fields, zap.Int(strings.ToLower(string(s)), summary[s]))
	}
	r.logger.Info("registry: rows reconciled", fields...)

	return out, summary
}

// classify applies, in order: absent from registry, duplicate registry key,
// invalid tax id, missing legal name. The first failing check wins.
func (r *Reconciler) classify(row consolidate.Row) EnrichedRow {
	enriched := EnrichedRow{Row: row}

	entries := r.registry.Lookup(row.EntityID)
	if len(entries) == 0 {
		enriched.Status = StatusNotInRegistry
		return enriched
	}

	first := entries[0]
	enriched.TaxID = validate.NormalizeTaxID(first.TaxID)
	enriched.LegalName = first.LegalName
	enriched.Region = first.Region
	enriched.Category = first.Category

	switch {
	case len(entries) > 1:
		enriched.Status = StatusDuplicateEntry
	case !validate.IsValidTaxID(enriched.TaxID):
		enriched.Status = StatusInvalidTaxID
	case strings.TrimSpace(first.LegalName) == "":
		enriched.Status = StatusMissingLegalName
	default:
		enriched.Status = StatusValid
	}
	return enriched
}
