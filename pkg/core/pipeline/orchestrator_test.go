package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense_pipeline/pkg/core/config"
	"expense_pipeline/pkg/core/consolidate"
	"expense_pipeline/pkg/core/period"
)

// --- Fake remote ---

const registryCSV = "REGISTRO_OPERADORA;CNPJ;Razao_Social;Nome_Fantasia;Modalidade;UF\n" +
	"100;12.345.678/0001-95;Operadora Alfa;Alfa;Medicina de Grupo;SP\n" +
	"200;11.222.333/0001-81;Operadora Beta;Beta;Cooperativa M\xe9dica;RJ\n" +
	"300;11.222.333/0001-00;Operadora Gama;Gama;Autogest\xe3o;MG\n"

const sourceHeader = "DATA;REG_ANS;CD_CONTA_CONTABIL;DESCRICAO;VL_SALDO_INICIAL;VL_SALDO_FINAL\n"

type fakeRemote struct {
	mu        sync.Mutex
	files     map[string][]byte
	downloads map[string]int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	return &fakeRemote{
		files: map[string][]byte{
			"/base/": []byte(`<html><body><a href="../">Parent</a>` +
				`<a href="2023/">2023/</a><a href="2024/">2024/</a><a href="leiame/">leiame/</a></body></html>`),
			"/base/2023/": []byte(`<a href="4T2023.zip">4T2023.zip</a>`),
			"/base/2024/": []byte(`<a href="1T2024.zip">1T2024.zip</a><a href="2T2024.zip">2T2024.zip</a>` +
				`<a href="dicionario.pdf">dicionario.pdf</a>`),
			"/base/2023/4T2023.zip": buildZip(t, "4T2023.csv", sourceHeader+
				"2023-10-01;100;41;Despesas assistenciais;0;9.999,00\n"),
			"/base/2024/1T2024.zip": buildZip(t, "1T2024.csv", sourceHeader+
				"2024-01-01;100;41;Despesas assistenciais;0;60,00\n"+
				"2024-01-01;100;41;Eventos indeniz\xe1veis;0;40,00\n"+
				"2024-01-01;200;41;Sinistros retidos;0;50,00\n"+
				"2024-01-01;300;41;Despesas administrativas;0;70,00\n"+
				"2024-01-01;999;41;Despesas assistenciais;0;5.000,00\n"+
				"2024-01-01;100;31;Contraprestações;0;123,00\n"),
			"/base/2024/2T2024.zip": buildZip(t, "sub/2T2024.csv", sourceHeader+
				"2024-04-01;100;41;Despesas assistenciais;0;200,00\n"+
				"2024-04-01;999;41;Despesas assistenciais;0;1,00\n"),
			"/cadop.csv": []byte(registryCSV),
		},
		downloads: make(map[string]int),
	}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	f.downloads[r.URL.Path]++
	w.Write(body)
}

func (f *fakeRemote) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[path]
}

func buildZip(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Periods = 2
	cfg.DataDir = dir
	cfg.RegistryPath = filepath.Join(dir, "raw", "Relatorio_cadop.csv")
	cfg.HTTP.Attempts = 1
	cfg.HTTP.Wait = time.Millisecond
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.MetricsFile = filepath.Join(dir, "metrics", "expenses.prom")
	return cfg
}

func writeRegistry(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(registryCSV), 0644))
}

// --- Tests ---

const wantReport = "Razao_Social,UF,Total_Despesas,Media_Trimestral,Desvio_Padrao\n" +
	"Operadora Alfa,SP,300.00,150.00,50.00\n" +
	"Operadora Beta,RJ,50.00,50.00,0.00\n"

func TestRunner_EndToEnd(t *testing.T) {
	remote := newFakeRemote(t)
	srv := httptest.NewServer(remote)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/base/")
	writeRegistry(t, cfg.RegistryPath)

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runner.RunID())
	require.NoError(t, runner.Run(context.Background()))

	got, err := os.ReadFile(cfg.ReportPath())
	require.NoError(t, err)
	assert.Equal(t, wantReport, string(got))

	t.Run("Consolidated table keeps unregistered operators", func(t *testing.T) {
		table, err := os.ReadFile(cfg.ConsolidatedPath())
		require.NoError(t, err)
		assert.Equal(t,
			"REG_ANS,CNPJ,Razao_Social,Ano,Trimestre,Valor_Despesas\n"+
				"100,DESCONHECIDO,SEM_CADASTRO_ANS,2024,1,100.00\n"+
				"200,DESCONHECIDO,SEM_CADASTRO_ANS,2024,1,50.00\n"+
				"300,DESCONHECIDO,SEM_CADASTRO_ANS,2024,1,70.00\n"+
				"999,DESCONHECIDO,SEM_CADASTRO_ANS,2024,1,5000.00\n"+
				"100,DESCONHECIDO,SEM_CADASTRO_ANS,2024,2,200.00\n"+
				"999,DESCONHECIDO,SEM_CADASTRO_ANS,2024,2,1.00\n",
			string(table))
	})

	t.Run("Older periods are not fetched", func(t *testing.T) {
		assert.Zero(t, remote.count("/base/2023/4T2023.zip"))
	})

	t.Run("Summary and metrics", func(t *testing.T) {
		md, err := os.ReadFile(cfg.SummaryBase() + ".md")
		require.NoError(t, err)
		assert.Contains(t, string(md), "2024T1, 2024T2")
		assert.Contains(t, string(md), "| NOT_IN_REGISTRY | 2 |")
		assert.Contains(t, string(md), "| INVALID_TAX_ID | 1 |")
		assert.FileExists(t, cfg.SummaryBase()+".html")

		metrics, err := os.ReadFile(cfg.MetricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(metrics), "expenses_periods_selected 2")
		assert.Contains(t, string(metrics), "expenses_consolidated_rows 6")
		assert.Contains(t, string(metrics), `expenses_reconciled_rows{status="VALID"} 3`)
		assert.Contains(t, string(metrics), "expenses_aggregate_groups 2")
	})
}

func TestRunner_IsIdempotent(t *testing.T) {
	remote := newFakeRemote(t)
	srv := httptest.NewServer(remote)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/base/")
	writeRegistry(t, cfg.RegistryPath)

	var reports [][]byte
	for i := 0; i < 2; i++ {
		runner, err := NewRunner(cfg, nil)
		require.NoError(t, err)
		require.NoError(t, runner.Run(context.Background()))

		got, err := os.ReadFile(cfg.ReportPath())
		require.NoError(t, err)
		reports = append(reports, got)
	}

	assert.Equal(t, reports[0], reports[1])
	assert.Equal(t, 1, remote.count("/base/2024/1T2024.zip"))
	assert.Equal(t, 1, remote.count("/base/2024/2T2024.zip"))
}

func TestRunner_DownloadsMissingRegistry(t *testing.T) {
	remote := newFakeRemote(t)
	srv := httptest.NewServer(remote)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/base/")
	cfg.RegistryURL = srv.URL + "/cadop.csv"

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	assert.FileExists(t, cfg.RegistryPath)
	got, err := os.ReadFile(cfg.ReportPath())
	require.NoError(t, err)
	assert.Equal(t, wantReport, string(got))
}

func TestRunner_MissingRegistryIsFatal(t *testing.T) {
	remote := newFakeRemote(t)
	srv := httptest.NewServer(remote)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/base/")

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	err = runner.Run(context.Background())

	require.Error(t, err)
	assert.NoFileExists(t, cfg.ReportPath())
}

func TestRunner_NoPeriodsStopsBeforeValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="leiame/">leiame/</a>`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/base/")
	writeRegistry(t, cfg.RegistryPath)

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	err = runner.Run(context.Background())

	assert.True(t, eris.Is(err, ErrNoPeriods))
	assert.NoFileExists(t, cfg.ConsolidatedPath())
	assert.NoFileExists(t, cfg.ReportPath())
}

func TestValidate_RequiresConsolidatedTable(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/base/")
	writeRegistry(t, cfg.RegistryPath)

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	assert.Error(t, runner.Validate(context.Background()))
}

// --- Injected components ---

type stubSelector struct {
	selections []period.Selection
}

func (s stubSelector) SelectLatest(ctx context.Context, n int) []period.Selection {
	return s.selections
}

type stubFetcher struct {
	dirs map[period.Period]string
}

func (s stubFetcher) Materialize(ctx context.Context, sel period.Selection) (string, bool) {
	dir, ok := s.dirs[sel.Period]
	return dir, ok
}

func TestIntegrate_UnavailablePeriodContributesNoRows(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/base/")
	q1 := period.Period{Year: 2024, Quarter: 1}
	q2 := period.Period{Year: 2024, Quarter: 2}

	dir := filepath.Join(t.TempDir(), "q2")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2T2024.csv"),
		[]byte(sourceHeader+"2024-04-01;100;41;Despesas assistenciais;0;10,00\n"), 0644))

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	runner.SetSelector(stubSelector{selections: []period.Selection{{Period: q1}, {Period: q2}}})
	runner.SetFetcher(stubFetcher{dirs: map[period.Period]string{q2: dir}})

	require.NoError(t, runner.Integrate(context.Background()))

	table, err := os.ReadFile(cfg.ConsolidatedPath())
	require.NoError(t, err)
	assert.Equal(t,
		"REG_ANS,CNPJ,Razao_Social,Ano,Trimestre,Valor_Despesas\n"+
			"100,DESCONHECIDO,SEM_CADASTRO_ANS,2024,2,10.00\n",
		string(table))

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "expenses_periods_unavailable_total 1")
}

func TestPeriodsOf(t *testing.T) {
	var m *Metrics
	m.ObserveGroups(3) // nil metrics are a no-op

	rows := []consolidate.Row{
		{EntityID: "1", Period: period.Period{Year: 2024, Quarter: 2}},
		{EntityID: "2", Period: period.Period{Year: 2023, Quarter: 4}},
		{EntityID: "3", Period: period.Period{Year: 2024, Quarter: 2}},
	}

	assert.Equal(t, []period.Period{{Year: 2023, Quarter: 4}, {Year: 2024, Quarter: 2}}, periodsOf(rows))
}
