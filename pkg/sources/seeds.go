package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// Package sources supplies the URLs a collection starts from: a seeds file
// and remote sitemaps.

// Seed is a single entry in the seeds file.
type Seed struct {
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title" yaml:"title"`
}

type seedsFile struct {
	Seeds []Seed `json:"seeds" yaml:"seeds"`
}

var defaultSeedURLs = []string{
	"https://www.google.com",
	"https://www.wikipedia.org",
}

// DefaultSeeds returns the built-in starter collection.
func DefaultSeeds() []domain.Record {
	now := time.Now()
	out := make([]domain.Record, 0, len(defaultSeedURLs))
	for _, u := range defaultSeedURLs {
		out = append(out, domain.NewRecord(u, now))
	}
	return out
}

// LoadSeeds reads the seeds file at path. A blank path or a missing file
// yields DefaultSeeds.
func LoadSeeds(path string) ([]domain.Record, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSeeds(), nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSeeds(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seeds file: %w", err)
	}

	file, err := parseSeeds(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(file.Seeds) == 0 {
		return nil, errors.New("seeds file contains no seeds entries")
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(file.Seeds))
	out := make([]domain.Record, 0, len(file.Seeds))
	for i, s := range file.Seeds {
		u, err := domain.NormalizeURL(s.URL)
		if err != nil {
			return nil, fmt.Errorf("seeds[%d]: %w", i, err)
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		rec := domain.NewRecord(u, now)
		rec.Title = strings.TrimSpace(s.Title)
		out = append(out, rec)
	}
	return out, nil
}

func parseSeeds(data []byte, ext string) (seedsFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var file seedsFile
		if err := d.fn(data, &file); err == nil {
			return file, nil
		}
	}
	return seedsFile{}, errors.New("seeds file format not recognized (expected YAML or JSON)")
}
