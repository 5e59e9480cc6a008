// Package config loads pipeline settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	"expense_pipeline/pkg/core/ingest"
	"expense_pipeline/pkg/core/registry"
)

// DefaultPath is where the CLI looks for the YAML file.
const DefaultPath = "config/pipeline.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = eris.New("invalid configuration")

// HTTP holds fetcher settings.
type HTTP struct {
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
	Wait      time.Duration `yaml:"wait"`
	UserAgent string        `yaml:"user_agent"`
}

// Config is the full pipeline configuration.
type Config struct {
	BaseURL         string           `yaml:"base_url"`
	Periods         int              `yaml:"periods"`
	ArchiveSuffix   string           `yaml:"archive_suffix"`
	DataDir         string           `yaml:"data_dir"`
	RegistryPath    string           `yaml:"registry_path"`
	RegistryURL     string           `yaml:"registry_url"`
	RegistryColumns registry.Columns `yaml:"registry_columns"`
	HTTP            HTTP             `yaml:"http"`
	Summary         bool             `yaml:"summary"`
	MetricsFile     string           `yaml:"metrics_file"`
	LogLevel        string           `yaml:"log_level"`
	LogFormat       string           `yaml:"log_format"` // console or json
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		BaseURL:         "https://dadosabertos.ans.gov.br/FTP/PDA/demonstracoes_contabeis/",
		Periods:         3,
		ArchiveSuffix:   ".zip",
		DataDir:         "data",
		RegistryPath:    filepath.Join("data", "raw", "Relatorio_cadop.csv"),
		RegistryColumns: registry.DefaultColumns(),
		HTTP: HTTP{
			Timeout:   20 * time.Second,
			Attempts:  3,
			Wait:      2 * time.Second,
			UserAgent: ingest.DefaultUserAgent,
		},
		Summary:   true,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// ZipDir holds downloaded archives.
func (c Config) ZipDir() string { return filepath.Join(c.DataDir, "raw", "zips") }

// ExtractDir holds extracted archives, one directory per period.
func (c Config) ExtractDir() string { return filepath.Join(c.DataDir, "extracted") }

// ConsolidatedPath is the intermediate table written by stage 1.
func (c Config) ConsolidatedPath() string {
	return filepath.Join(c.DataDir, "processed", "consolidado_despesas.csv")
}

// ReportPath is the final report written by stage 2.
func (c Config) ReportPath() string {
	return filepath.Join(c.DataDir, "processed", "despesas_agregadas.csv")
}

// SummaryBase is the summary path without extension.
func (c Config) SummaryBase() string {
	return filepath.Join(c.DataDir, "processed", "resumo")
}

// ClientConfig converts the HTTP section for the ingest client.
func (c Config) ClientConfig() ingest.ClientConfig {
	return ingest.ClientConfig{
		Timeout:   c.HTTP.Timeout,
		Attempts:  c.HTTP.Attempts,
		Wait:      c.HTTP.Wait,
		UserAgent: c.HTTP.UserAgent,
	}
}

// Load builds the configuration. A missing YAML file is not an error; a
// malformed one is. The result is not validated: callers apply their own
// overrides first and then call Validate.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, eris.Wrapf(err, "config: parse %s", path)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, eris.Wrapf(err, "config: read %s", path)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("EXPENSES_BASE_URL", &c.BaseURL)
	setString("EXPENSES_DATA_DIR", &c.DataDir)
	setString("EXPENSES_REGISTRY_PATH", &c.RegistryPath)
	setString("EXPENSES_REGISTRY_URL", &c.RegistryURL)
	setString("EXPENSES_LOG_LEVEL", &c.LogLevel)
	setString("EXPENSES_METRICS_FILE", &c.MetricsFile)

	if v := strings.TrimSpace(getenv("EXPENSES_PERIODS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return eris.Wrapf(ErrInvalid, "EXPENSES_PERIODS=%q is not an integer", v)
		}
		c.Periods = n
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return eris.Wrap(ErrInvalid, "base_url is empty")
	case c.Periods < 1:
		return eris.Wrapf(ErrInvalid, "periods must be at least 1, got %d", c.Periods)
	case c.HTTP.Attempts < 1:
		return eris.Wrapf(ErrInvalid, "http.attempts must be at least 1, got %d", c.HTTP.Attempts)
	case c.DataDir == "":
		return eris.Wrap(ErrInvalid, "data_dir is empty")
	case c.RegistryPath == "":
		return eris.Wrap(ErrInvalid, "registry_path is empty")
	case c.LogFormat != "console" && c.LogFormat != "json":
		return eris.Wrapf(ErrInvalid, "log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}
