// Package registry loads the operator registry and reconciles consolidated
// totals against it.
package registry

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"expense_pipeline/pkg/core/consolidate"
)

var (
	// ErrRegistryUnavailable means the registry file is missing, unreadable or
	// holds no entries. The run cannot continue without it.
	ErrRegistryUnavailable = eris.New("registry unavailable")
	// ErrMissingColumns means the registry header lacks a required column.
	ErrMissingColumns = eris.New("registry is missing required columns")
)

// Columns names the registry headers. They are a contract with the data
// provider and are matched case-sensitively.
type Columns struct {
	EntityID  string `yaml:"entity_id"`
	TaxID     string `yaml:"tax_id"`
	LegalName string `yaml:"legal_name"`
	Region    string `yaml:"region"`
	Category  string `yaml:"category"`
}

// DefaultColumns is the layout of the published operator registry.
func DefaultColumns() Columns {
	return Columns{
		EntityID:  "REGISTRO_OPERADORA",
		TaxID:     "CNPJ",
		LegalName: "Razao_Social",
		Region:    "UF",
		Category:  "Modalidade",
	}
}

func (c Columns) names() []string {
	return []string{c.EntityID, c.TaxID, c.LegalName, c.Region, c.Category}
}

// Entry is one registry line. TaxID is kept raw, possibly malformed.
type Entry struct {
	EntityID  string
	TaxID     string
	LegalName string
	Region    string
	Category  string
}

// Registry maps an operator id to every entry filed under it. More than one
// entry for an id is a data problem the reconciler must see, so entries are
// never overwritten.
type Registry struct {
	entries map[string][]Entry
	order   []string
}

// New builds a Registry from entries, keeping their multiplicity.
func New(entries []Entry) *Registry {
	r := &Registry{entries: make(map[string][]Entry)}
	for _, e := range entries {
		r.add(e)
	}
	return r
}

func (r *Registry) add(e Entry) {
	if _, seen := r.entries[e.EntityID]; !seen {
		r.order = append(r.order, e.EntityID)
	}
	r.entries[e.EntityID] = append(r.entries[e.EntityID], e)
}

// Lookup returns all entries for id; nil when absent.
func (r *Registry) Lookup(id string) []Entry {
	return r.entries[id]
}

// Len returns the number of distinct ids.
func (r *Registry) Len() int {
	return len(r.order)
}

// DuplicateIDs returns the ids filed more than once, in file order.
func (r *Registry) DuplicateIDs() []string {
	var dups []string
	for _, id := range r.order {
		if len(r.entries[id]) > 1 {
			dups = append(dups, id)
		}
	}
	return dups
}

// Load reads a semicolon-delimited, Latin-1 registry file. Lines with an
// empty operator id are ignored.
func Load(path string, cols Columns) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(ErrRegistryUnavailable, "registry: open %s: %v", path, err)
	}
	defer f.Close()

	reg, err := Read(f, cols)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: load %s", path)
	}
	return reg, nil
}

// Read parses registry content from r.
func Read(r io.Reader, cols Columns) (*Registry, error) {
	cr := consolidate.NewLatin1Reader(r, ';')

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(ErrRegistryUnavailable, "empty registry")
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	var missing []string
	for _, name := range cols.names() {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumns, "missing %s", strings.Join(missing, ", "))
	}

	reg := &Registry{entries: make(map[string][]Entry)}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read registry line")
		}
		get := func(col string) string {
			if i := idx[col]; i < len(record) {
				return record[i]
			}
			return ""
		}
		id := strings.TrimSpace(get(cols.EntityID))
		if id == "" {
			continue
		}
		reg.add(Entry{
			EntityID:  id,
			TaxID:     get(cols.TaxID),
			LegalName: strings.TrimSpace(get(cols.LegalName)),
			Region:    strings.TrimSpace(get(cols.Region)),
			Category:  strings.TrimSpace(get(cols.Category)),
		})
	}

	if reg.Len() == 0 {
		return nil, eris.Wrap(ErrRegistryUnavailable, "registry has no entries")
	}
	return reg, nil
}
