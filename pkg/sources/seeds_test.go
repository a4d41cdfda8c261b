package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jhusain/pocket-reader/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadSeedsFallsBackToDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		recs, err := LoadSeeds(path)
		if err != nil {
			t.Fatalf("LoadSeeds(%q): %v", path, err)
		}
		if len(recs) != 2 || recs[0].URL != "https://www.google.com" || recs[1].URL != "https://www.wikipedia.org" {
			t.Fatalf("unexpected defaults %#v", recs)
		}
		for _, r := range recs {
			if r.Status != domain.StatusUnloaded {
				t.Fatalf("default seed %s has status %s", r.URL, r.Status)
			}
		}
	}
}

func TestLoadSeedsYAMLDedupesAndTrims(t *testing.T) {
	path := writeFile(t, "seeds.yaml", `
seeds:
  - url: " https://a.test "
    title: A
  - url: https://b.test
  - url: https://a.test
`)
	recs, err := LoadSeeds(path)
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(recs))
	}
	if recs[0].URL != "https://a.test" || recs[0].Title != "A" || recs[1].URL != "https://b.test" {
		t.Fatalf("unexpected seeds %#v", recs)
	}
}

func TestLoadSeedsJSON(t *testing.T) {
	path := writeFile(t, "seeds.json", `{"seeds":[{"url":"https://c.test"}]}`)
	recs, err := LoadSeeds(path)
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if len(recs) != 1 || recs[0].URL != "https://c.test" {
		t.Fatalf("unexpected seeds %#v", recs)
	}
}

func TestLoadSeedsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty.yaml":   "seeds: []\n",
		"badurl.yaml":  "seeds:\n  - url: ftp://files.test\n",
		"garbage.json": "{not json",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSeeds(writeFile(t, name, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
