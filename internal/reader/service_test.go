package reader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jhusain/pocket-reader/internal/collection"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
)

// statusStore remembers the status of every record on each write.
type statusStore struct {
	mu      sync.Mutex
	records []domain.Record
	history []map[string]domain.Status
}

func (s *statusStore) ReadAll() ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.records...), nil
}

func (s *statusStore) ReplaceAll(records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]domain.Record(nil), records...)
	snap := make(map[string]domain.Status, len(records))
	for _, r := range records {
		snap[r.URL] = r.Status
	}
	s.history = append(s.history, snap)
	return nil
}

func (s *statusStore) statusesOf(url string) []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Status
	for _, snap := range s.history {
		st, ok := snap[url]
		if ok && (len(out) == 0 || out[len(out)-1] != st) {
			out = append(out, st)
		}
	}
	return out
}

// pageFetcher serves canned pages and tracks concurrency.
type pageFetcher struct {
	pages    map[string]string
	delay    time.Duration
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (p *pageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	page, ok := p.pages[url]
	if !ok {
		return nil, errors.New("http status 404 for " + url)
	}
	return []byte(page), nil
}

func setup(t *testing.T, seeds []domain.Record, fetcher Fetcher) (*Service, *collection.Controller, *statusStore) {
	t.Helper()
	store := &statusStore{}
	log := logger.NewZap(zaptest.NewLogger(t))
	c := collection.NewController(store, log, nil)
	if err := c.Load(context.Background(), seeds); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return NewService(c, fetcher, nil, log, 2), c, store
}

func TestOpenLoadsContentAndPersistsEachState(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"https://a.test": `<html><head><title>A page</title></head><body><main><p>Hello there</p></main></body></html>`,
	}}
	svc, c, store := setup(t, []domain.Record{{URL: "https://a.test"}}, fetcher)

	rec, err := svc.Open(context.Background(), "https://a.test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec.Status != domain.StatusLoaded || rec.Title != "A page" || rec.FetchedAt == nil {
		t.Fatalf("unexpected record %#v", rec)
	}
	if rec.Content != "<title>A page</title><p>Hello there</p>" {
		t.Fatalf("content = %q", rec.Content)
	}
	if got, _ := c.Get("https://a.test"); got.Status != domain.StatusLoaded {
		t.Fatalf("controller not updated: %#v", got)
	}

	want := []domain.Status{domain.StatusUnloaded, domain.StatusLoading, domain.StatusLoaded}
	got := store.statusesOf("https://a.test")
	if len(got) != len(want) {
		t.Fatalf("persisted statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("persisted statuses = %v, want %v", got, want)
		}
	}

	if _, err := svc.Open(context.Background(), "https://a.test"); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("loaded record should not be fetched again, calls=%d", fetcher.calls.Load())
	}
}

func TestOpenRecordsFetchFailure(t *testing.T) {
	svc, _, store := setup(t, []domain.Record{{URL: "https://gone.test"}}, &pageFetcher{})

	rec, err := svc.Open(context.Background(), "https://gone.test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec.Status != domain.StatusError || rec.ErrorMessage != "http status 404 for https://gone.test" {
		t.Fatalf("unexpected record %#v", rec)
	}
	statuses := store.statusesOf("https://gone.test")
	if statuses[len(statuses)-1] != domain.StatusError {
		t.Fatalf("error status not persisted: %v", statuses)
	}
}

func TestOpenRetriesFailedRecordAndClearsError(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{}}
	svc, _, _ := setup(t, []domain.Record{{URL: "https://flaky.test"}}, fetcher)

	if rec, _ := svc.Open(context.Background(), "https://flaky.test"); rec.Status != domain.StatusError {
		t.Fatalf("expected error status first, got %s", rec.Status)
	}
	fetcher.pages["https://flaky.test"] = `<html><title>Back</title><body>again</body></html>`
	rec, err := svc.Open(context.Background(), "https://flaky.test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec.Status != domain.StatusLoaded || rec.ErrorMessage != "" {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestOpenUnknownURL(t *testing.T) {
	svc, _, _ := setup(t, nil, &pageFetcher{})
	if _, err := svc.Open(context.Background(), "https://missing.test"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRefreshRefetchesLoadedRecord(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"https://a.test": `<html><title>v1</title><body>one</body></html>`,
	}}
	svc, _, _ := setup(t, []domain.Record{{URL: "https://a.test"}}, fetcher)
	ctx := context.Background()

	if _, err := svc.Open(ctx, "https://a.test"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	fetcher.pages["https://a.test"] = `<html><title>v2</title><body>two</body></html>`
	rec, err := svc.Refresh(ctx, "https://a.test")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Title != "v2" || fetcher.calls.Load() != 2 {
		t.Fatalf("refresh did not refetch: %#v calls=%d", rec, fetcher.calls.Load())
	}
}

func TestFetchPendingBoundsConcurrency(t *testing.T) {
	pages := map[string]string{}
	var seeds []domain.Record
	for _, u := range []string{"https://1.test", "https://2.test", "https://3.test", "https://4.test", "https://5.test"} {
		pages[u] = `<html><title>t</title><body>x</body></html>`
		seeds = append(seeds, domain.Record{URL: u})
	}
	seeds = append(seeds, domain.Record{URL: "https://missing.test"})
	fetcher := &pageFetcher{pages: pages, delay: 20 * time.Millisecond}
	svc, c, _ := setup(t, seeds, fetcher)

	n, err := svc.FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if n != 6 {
		t.Fatalf("started %d fetches, want 6", n)
	}
	if peak := fetcher.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", peak)
	}
	for _, r := range c.Records() {
		want := domain.StatusLoaded
		if r.URL == "https://missing.test" {
			want = domain.StatusError
		}
		if r.Status != want {
			t.Fatalf("%s status = %s, want %s", r.URL, r.Status, want)
		}
	}
}

func TestFetchPendingStopsOnCancel(t *testing.T) {
	svc, _, _ := setup(t, []domain.Record{{URL: "https://a.test"}}, &pageFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := svc.FetchPending(ctx)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("FetchPending on cancelled ctx = %d, %v", n, err)
	}
}

func TestRefreshRecoversStaleLoadingRecord(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"https://a.test": `<html><title>ok</title><body>text</body></html>`,
	}}
	svc, c, _ := setup(t, []domain.Record{{URL: "https://a.test"}}, fetcher)
	ctx := context.Background()

	if _, err := c.Update(ctx, "https://a.test", domain.Patch{Status: domain.Ptr(domain.StatusLoading)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec, _ := svc.Open(ctx, "https://a.test"); rec.Status != domain.StatusLoading || fetcher.calls.Load() != 0 {
		t.Fatalf("Open should leave an in-flight record alone: %#v", rec)
	}
	rec, err := svc.Refresh(ctx, "https://a.test")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Status != domain.StatusLoaded {
		t.Fatalf("status = %s", rec.Status)
	}
}
