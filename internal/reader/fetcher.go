package reader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/jhusain/pocket-reader/pkg/httpclient"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBodyBytes = 2 << 20
)

// ErrFetchFailed marks transport and status failures from HTTPFetcher.
var ErrFetchFailed = errors.New("fetch failed")

// HTTPFetcher downloads pages, optionally through a CORS-style proxy whose
// template holds a single %s for the escaped target URL.
type HTTPFetcher struct {
	client        httpclient.Client
	proxyTemplate string
	maxBodyBytes  int64
	headers       map[string]string
}

// NewHTTPFetcher constructs a fetcher. A nil client gets a default resty client.
func NewHTTPFetcher(client httpclient.Client, proxyTemplate string, maxBodyBytes int64) *HTTPFetcher {
	if client == nil {
		client = httpclient.NewRestyClient(defaultFetchTimeout, "")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if rc, ok := client.(*httpclient.RestyClient); ok {
		client = rc.WithBodyLimit(maxBodyBytes)
	}
	return &HTTPFetcher{
		client:        client,
		proxyTemplate: strings.TrimSpace(proxyTemplate),
		maxBodyBytes:  maxBodyBytes,
		headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en;q=0.9,*;q=0.5",
		},
	}
}

// Fetch returns the document at url. Resty clients fail once the body passes
// maxBodyBytes; other clients have their body truncated to it.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	target := f.target(url)

	resp, err := f.client.Get(ctx, target, f.headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d for %s", ErrFetchFailed, resp.StatusCode(), url)
	}

	body := resp.Body()
	if int64(len(body)) > f.maxBodyBytes {
		body = body[:f.maxBodyBytes]
	}
	return body, nil
}

func (f *HTTPFetcher) target(url string) string {
	if f.proxyTemplate == "" {
		return url
	}
	return fmt.Sprintf(f.proxyTemplate, neturl.QueryEscape(url))
}
