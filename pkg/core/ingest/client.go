// Package ingest talks to the regulator's open-data server: it lists the
// remote directory tree, downloads quarterly archives and extracts them into a
// local cache that later runs reuse.
package ingest

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultUserAgent is sent on every request; the open-data server rejects
// some requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// =============================================================================
// HTTP CLIENT WITH BOUNDED RETRIES
// =============================================================================

// ClientConfig controls timeouts and retries.
type ClientConfig struct {
	Timeout   time.Duration // per request
	Attempts  int           // total attempts, including the first
	Wait      time.Duration // fixed pause between attempts
	UserAgent string
}

// Client fetches URLs with a fixed-backoff retry policy.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	logger     *zap.Logger
}

// NewClient creates a Client. Zero fields in cfg fall back to 20s timeout,
// 3 attempts, 2s wait and DefaultUserAgent.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Get returns the body of url. Any transport error or non-2xx status is
// retried until the attempts are exhausted.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		b, err := c.getOnce(ctx, url)
		if err != nil {
			c.logger.Warn("ingest: request attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.Attempts),
				zap.Error(err))
			return err
		}
		body = b
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.Wait), uint64(c.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, eris.Wrapf(err, "ingest: get %s failed after %d attempts", url, attempt)
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Download writes the body of url to path. The file only appears once the
// body has been fully received, so an interrupted download never looks like a
// cached artifact.
func (c *Client) Download(ctx context.Context, url, path string) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "ingest: create directory for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return eris.Wrapf(err, "ingest: create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "ingest: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "ingest: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "ingest: move download into %s", path)
	}
	return nil
}
