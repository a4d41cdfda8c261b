package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jhusain/pocket-reader/pkg/httpclient"
)

const defaultSitemapTimeout = 15 * time.Second

type urlSet struct {
	URLs []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// SitemapImporter collects page URLs from XML sitemaps.
type SitemapImporter struct {
	client  httpclient.Client
	headers map[string]string
}

// NewSitemapImporter constructs an importer with the provided client (or a default one).
func NewSitemapImporter(client httpclient.Client) *SitemapImporter {
	if client == nil {
		client = httpclient.NewRestyClient(defaultSitemapTimeout, "")
	}
	return &SitemapImporter{
		client:  client,
		headers: map[string]string{"Accept": "application/xml, text/xml;q=0.9, */*;q=0.8"},
	}
}

// URLs returns the de-duplicated <loc> entries of sitemapURL. A sitemap index
// is followed one level deep; child sitemaps that fail are skipped unless all fail.
func (s *SitemapImporter) URLs(ctx context.Context, sitemapURL string) ([]string, error) {
	sitemapURL = strings.TrimSpace(sitemapURL)
	if sitemapURL == "" {
		return nil, errors.New("sitemap url is empty")
	}

	raw, err := s.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	root, err := rootElement(raw)
	if err != nil {
		return nil, fmt.Errorf("decode sitemap %s: %w", sitemapURL, err)
	}

	var locs []string
	switch root {
	case "urlset":
		locs, err = parseURLSet(raw)
		if err != nil {
			return nil, fmt.Errorf("decode sitemap %s: %w", sitemapURL, err)
		}
	case "sitemapindex":
		locs, err = s.followIndex(ctx, raw)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sitemap %s has unexpected root element %q", sitemapURL, root)
	}

	return dedupe(locs), nil
}

func (s *SitemapImporter) followIndex(ctx context.Context, raw []byte) ([]string, error) {
	var idx sitemapIndex
	if err := xml.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode sitemap index: %w", err)
	}

	var (
		locs []string
		errs []error
	)
	for _, child := range idx.Sitemaps {
		loc := strings.TrimSpace(child.Loc)
		if loc == "" {
			continue
		}
		body, err := s.fetch(ctx, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		urls, err := parseURLSet(body)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode sitemap %s: %w", loc, err))
			continue
		}
		locs = append(locs, urls...)
	}
	if len(locs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return locs, nil
}

func (s *SitemapImporter) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.client.Get(ctx, url, s.headers)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", url, err)
	}
	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s returned status %d body: %s", url, resp.StatusCode(), responseSnippet(body))
	}
	return body, nil
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func parseURLSet(data []byte) ([]string, error) {
	var set urlSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
