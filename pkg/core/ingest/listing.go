package ingest

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"expense_pipeline/pkg/core/period"
)

// =============================================================================
// REMOTE DIRECTORY LISTING
// =============================================================================

// Listing reads the HTML directory index served under a base URL. Year
// directories appear as numeric anchors with a trailing slash; archives as
// anchors ending in the archive suffix.
type Listing struct {
	client *Client
	base   *url.URL
	suffix string
}

// NewListing creates a Listing rooted at baseURL. suffix is matched
// case-insensitively, e.g. ".zip".
func NewListing(client *Client, baseURL, suffix string) (*Listing, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: invalid base url %q", baseURL)
	}
	return &Listing{client: client, base: base, suffix: strings.ToLower(suffix)}, nil
}

// ListYears returns the numeric directory names of the base listing.
func (l *Listing) ListYears(ctx context.Context) ([]int, error) {
	hrefs, err := l.anchors(ctx, l.base)
	if err != nil {
		return nil, err
	}

	var years []int
	for _, href := range hrefs {
		if !strings.HasSuffix(href, "/") {
			continue
		}
		name := strings.TrimSuffix(href, "/")
		if !isNumeric(name) {
			continue
		}
		year, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	return years, nil
}

// ListArtifacts returns the archives under the given year directory.
func (l *Listing) ListArtifacts(ctx context.Context, year int) ([]period.RemoteArtifact, error) {
	yearURL := l.base.ResolveReference(&url.URL{Path: strconv.Itoa(year) + "/"})

	hrefs, err := l.anchors(ctx, yearURL)
	if err != nil {
		return nil, err
	}

	var artifacts []period.RemoteArtifact
	for _, href := range hrefs {
		if !strings.HasSuffix(strings.ToLower(href), l.suffix) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, period.RemoteArtifact{
			Name: path.Base(ref.Path),
			URL:  yearURL.ResolveReference(ref).String(),
		})
	}
	return artifacts, nil
}

// anchors returns the href of every <a> element on the page, in document order.
func (l *Listing) anchors(ctx context.Context, page *url.URL) ([]string, error) {
	body, err := l.client.Get(ctx, page.String())
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse listing %s", page)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

var _ period.Lister = (*Listing)(nil)
