package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"expense_pipeline/pkg/core/aggregate"
	"expense_pipeline/pkg/core/period"
	"expense_pipeline/pkg/core/registry"
)

// DefaultTopGroups is how many groups the summary lists.
const DefaultTopGroups = 10

// Summary is the input of the human-readable run summary.
type Summary struct {
	Periods   []period.Period
	Trust     registry.Summary
	Groups    []aggregate.Row
	TopGroups int
}

// Markdown renders the summary. The output depends only on the summary
// content, never on the time of the run.
func (s Summary) Markdown() string {
	var b strings.Builder

	b.WriteString("# Despesas por operadora\n\n")

	b.WriteString("## Períodos\n\n")
	if len(s.Periods) == 0 {
		b.WriteString("Nenhum período consolidado.\n\n")
	} else {
		names := make([]string, 0, len(s.Periods))
		for _, p := range s.Periods {
			names = append(names, p.String())
		}
		fmt.Fprintf(&b, "%s\n\n", strings.Join(names, ", "))
	}

	b.WriteString("## Situação cadastral\n\n")
	b.WriteString("| Situação | Linhas |\n|---|---:|\n")
	for _, status := range registry.Statuses {
		fmt.Fprintf(&b, "| %s | %d |\n", status, s.Trust[status])
	}
	fmt.Fprintf(&b, "| **Total** | **%d** |\n\n", s.Trust.Total())

	top := s.TopGroups
	if top <= 0 {
		top = DefaultTopGroups
	}
	if top > len(s.Groups) {
		top = len(s.Groups)
	}
	fmt.Fprintf(&b, "## Maiores despesas (%d de %d)\n\n", top, len(s.Groups))
	b.WriteString("| Razão social | UF | Total | Média trimestral | Desvio padrão |\n")
	b.WriteString("|---|---|---:|---:|---:|\n")
	for _, g := range s.Groups[:top] {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			escapeCell(g.LegalName), escapeCell(g.Region),
			g.Total.StringFixed(2), g.Mean.StringFixed(2), g.StdDev.StringFixed(2))
	}

	return b.String()
}

// HTML converts the Markdown summary with GitHub-style tables.
func (s Summary) HTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(s.Markdown()), &buf); err != nil {
		return "", eris.Wrap(err, "report: render summary")
	}
	return buf.String(), nil
}

// WriteSummary writes base+".md" and base+".html".
func WriteSummary(base string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", base)
	}
	if err := os.WriteFile(base+".md", []byte(s.Markdown()), 0644); err != nil {
		return eris.Wrapf(err, "report: write %s.md", base)
	}
	html, err := s.HTML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
		return eris.Wrapf(err, "report: write %s.html", base)
	}
	return nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
