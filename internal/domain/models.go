package domain

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Domain contains core models and invariants for tracked URLs.

// Status is the fetch/display state of a Record.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusError    Status = "error"
)

var (
	ErrInvalidURL     = errors.New("invalid url")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrDuplicateURL   = errors.New("duplicate url")
	ErrRecordNotFound = errors.New("record not found")
)

// Statuses returns every known status value.
func Statuses() []Status {
	return []Status{StatusUnloaded, StatusLoading, StatusLoaded, StatusError}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// Record is one tracked URL and its fetch/display state.
type Record struct {
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content,omitempty"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Language     string     `json:"language,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
}

// NewRecord builds an unloaded record for url.
func NewRecord(url string, now time.Time) Record {
	return Record{
		URL:     url,
		Status:  StatusUnloaded,
		AddedAt: now.UTC(),
	}
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q for %s (want one of %v)", ErrInvalidRecord, r.Status, r.URL, Statuses())
	}
	if r.Status == StatusLoaded && r.Content == "" {
		return fmt.Errorf("%w: loaded record %s has no content", ErrInvalidRecord, r.URL)
	}
	if r.Status == StatusError && strings.TrimSpace(r.ErrorMessage) == "" {
		return fmt.Errorf("%w: error record %s has no error message", ErrInvalidRecord, r.URL)
	}
	if r.Status != StatusError && r.ErrorMessage != "" {
		return fmt.Errorf("%w: %s record %s carries an error message", ErrInvalidRecord, r.Status, r.URL)
	}
	return nil
}

// ValidateCollection validates every record and rejects repeated URLs.
func ValidateCollection(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record[%d]: %w", i, err)
		}
		if _, ok := seen[r.URL]; ok {
			return fmt.Errorf("record[%d]: %w: %s", i, ErrDuplicateURL, r.URL)
		}
		seen[r.URL] = struct{}{}
	}
	return nil
}

// Patch carries a partial update. Nil fields are left untouched; a pointer to
// the zero value clears the field.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Content      *string    `json:"content,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Language     *string    `json:"language,omitempty"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
}

// Apply merges p into r and returns the result. The URL is never changed.
func (r Record) Apply(p Patch) Record {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
	if p.Language != nil {
		r.Language = *p.Language
	}
	if p.FetchedAt != nil {
		t := p.FetchedAt.UTC()
		r.FetchedAt = &t
	}
	return r
}

// NormalizeURL trims raw and requires an absolute http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, trimmed)
	}
	return trimmed, nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
