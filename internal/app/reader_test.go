package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jhusain/pocket-reader/internal/config"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
	"github.com/jhusain/pocket-reader/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppName:            "pocket-reader",
		Env:                "test",
		StorageType:        storage.TypeBBolt,
		BBoltPath:          filepath.Join(dir, "reader.db"),
		BBoltOpenTimeoutMs: 1000,
		BBoltOpenTimeout:   time.Second,
		SeedsFile:          filepath.Join(dir, "seeds.yaml"),
		PublishersFile:     filepath.Join(dir, "publishers.yaml"),
		FetchTimeout:       2 * time.Second,
		FetchConcurrency:   2,
		MaxBodyBytes:       1 << 20,
	}
}

func TestReaderStartSeedsDefaultsAndReopens(t *testing.T) {
	cfg := testConfig(t)
	log := logger.NewZap(zaptest.NewLogger(t))
	ctx := context.Background()

	r, err := NewReader(ctx, cfg, log)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(r.Collection().Records()); got != 2 {
		t.Fatalf("expected 2 default records, got %d", got)
	}
	if _, err := r.Collection().Add(ctx, "https://c.test"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := NewReader(ctx, cfg, log)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer again.Close()
	if err := again.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(again.Collection().Records()); got != 3 {
		t.Fatalf("expected 3 records after reopen, got %d", got)
	}

	families, err := again.Metrics().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "reader_store_records" {
			found = true
		}
	}
	if !found {
		t.Fatalf("store metrics not registered")
	}
}

func TestReaderImportAddsSitemapURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>https://x.test/1</loc></url><url><loc>https://www.google.com</loc></url></urlset>`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.StorageType = storage.TypeMemory
	ctx := context.Background()
	r, err := NewReader(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	added, err := r.Import(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(added) != 1 || added[0].URL != "https://x.test/1" {
		t.Fatalf("unexpected import result %#v", added)
	}
	if _, ok := r.Collection().Get("https://x.test/1"); !ok {
		t.Fatalf("imported record missing from collection")
	}
}

func TestReaderRejectsBadPublishersFile(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.PublishersFile, []byte("publishers:\n  - id: x\n    type: kafka\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewReader(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected publishers error")
	}
}

func TestReaderStartRejectsBadSeeds(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.SeedsFile, []byte("seeds:\n  - url: mailto:me@x.test\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	r, err := NewReader(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if err := r.Start(context.Background()); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected invalid seed url, got %v", err)
	}
}
