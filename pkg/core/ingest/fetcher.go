package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"expense_pipeline/pkg/core/period"
)

// =============================================================================
// ARTIFACT FETCHER
// =============================================================================

// ArtifactFetcher resolves a selected period to a local directory holding the
// archive's extracted tables. Work already done by a previous run is reused:
// an archive present on disk is not downloaded again and a non-empty
// extraction directory is not extracted again.
type ArtifactFetcher struct {
	client     *Client
	zipDir     string
	extractDir string
	logger     *zap.Logger
}

// NewArtifactFetcher creates a fetcher storing archives under zipDir and
// extractions under extractDir/<year>/trimestre_<quarter>.
func NewArtifactFetcher(client *Client, zipDir, extractDir string, logger *zap.Logger) *ArtifactFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactFetcher{
		client:     client,
		zipDir:     zipDir,
		extractDir: extractDir,
		logger:     logger,
	}
}

// PeriodDir returns the extraction directory of p.
func (f *ArtifactFetcher) PeriodDir(p period.Period) string {
	return PeriodDir(f.extractDir, p)
}

// PeriodDir returns root/<year>/trimestre_<quarter>.
func PeriodDir(root string, p period.Period) string {
	return filepath.Join(root, fmt.Sprint(p.Year), fmt.Sprintf("trimestre_%d", p.Quarter))
}

// Materialize downloads and extracts the archive of sel. An extraction
// already on disk is used as is, without consulting the archive or the
// server. It returns false when the archive is unavailable; that is never
// fatal, the period simply contributes no rows.
func (f *ArtifactFetcher) Materialize(ctx context.Context, sel period.Selection) (string, bool) {
	log := f.logger.With(zap.String("period", sel.Period.String()), zap.String("url", sel.URL))

	dest := f.PeriodDir(sel.Period)
	if dirHasEntries(dest) {
		log.Debug("ingest: extraction already present", zap.String("dir", dest))
		return dest, true
	}

	archive := filepath.Join(f.zipDir, archiveName(sel))
	if !fileExists(archive) {
		if err := f.client.Download(ctx, sel.URL, archive); err != nil {
			log.Warn("ingest: archive unavailable", zap.Error(err))
			return "", false
		}
		log.Info("ingest: archive downloaded", zap.String("path", archive))
	}

	if err := extractZip(archive, dest); err != nil {
		// A corrupt archive would otherwise be reused forever.
		os.Remove(archive)
		os.RemoveAll(dest)
		log.Warn("ingest: extraction failed", zap.String("archive", archive), zap.Error(err))
		return "", false
	}
	log.Info("ingest: archive extracted", zap.String("dir", dest))
	return dest, true
}

// archiveName is the last path segment of the archive URL.
func archiveName(sel period.Selection) string {
	if u, err := url.Parse(sel.URL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return sel.Name
}

func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return eris.Wrapf(err, "open %s", archive)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return eris.Wrapf(err, "create %s", dest)
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)

	for _, entry := range r.File {
		target := filepath.Join(dest, entry.Name)
		if !strings.HasPrefix(target, root) {
			return eris.Errorf("entry %q escapes extraction directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return eris.Wrapf(err, "create %s", target)
			}
			continue
		}
		if err := extractEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return eris.Wrapf(err, "create %s", filepath.Dir(target))
	}

	src, err := entry.Open()
	if err != nil {
		return eris.Wrapf(err, "open entry %s", entry.Name)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return eris.Wrapf(err, "create %s", target)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return eris.Wrapf(err, "write %s", target)
	}
	return dst.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
