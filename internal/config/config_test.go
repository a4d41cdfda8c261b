package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "bbolt" || cfg.BBoltPath != "./data/reader.db" {
		t.Fatalf("unexpected storage defaults: %s %s", cfg.StorageType, cfg.BBoltPath)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Fatalf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.BBoltOpenTimeout != time.Second {
		t.Fatalf("BBoltOpenTimeout = %v", cfg.BBoltOpenTimeout)
	}
	if cfg.FetchConcurrency != 4 {
		t.Fatalf("FetchConcurrency = %d", cfg.FetchConcurrency)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "3")
	t.Setenv("FETCH_PROXY_TEMPLATE", "https://proxy.test/raw?url=%s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "memory" {
		t.Fatalf("StorageType = %s", cfg.StorageType)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Fatalf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.FetchProxyTemplate != "https://proxy.test/raw?url=%s" {
		t.Fatalf("FetchProxyTemplate = %s", cfg.FetchProxyTemplate)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"FETCH_TIMEOUT_SECONDS": "0",
		"FETCH_CONCURRENCY":     "-1",
		"BBOLT_OPEN_TIMEOUT_MS": "0",
		"FETCH_PROXY_TEMPLATE":  "https://proxy.test/raw",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
