package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// Package storage provides the durable keyed store for URL records.

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrReadFailed       = errors.New("read failed")
	ErrWriteFailed      = errors.New("write failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// Store persists URL records keyed by URL.
type Store interface {
	// ReadAll returns every stored record. Order is not significant.
	ReadAll() ([]domain.Record, error)
	// ReplaceAll atomically substitutes the stored collection with records.
	ReplaceAll(records []domain.Record) error
	// UpsertOne inserts or overwrites a single record by URL.
	UpsertOne(record domain.Record) error
	Close() error
}

// Options controls how concrete stores open their medium.
type Options struct {
	OpenTimeout time.Duration
}

const (
	TypeBBolt  = "bbolt"
	TypeMemory = "memory"

	defaultOpenTimeout = time.Second
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", TypeBBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("%w: bbolt storage requires a path", ErrStoreUnavailable)
		}
		return openBolt(path, opts)
	case TypeMemory:
		return newMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q", ErrStoreUnavailable, typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	return opts
}

// validateBatch checks record i of a replacement batch against the records already accepted.
func validateBatch(i int, rec domain.Record, seen map[string]struct{}) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: record[%d]: %w", ErrInvalidInput, i, err)
	}
	if _, dup := seen[rec.URL]; dup {
		return fmt.Errorf("%w: record[%d]: duplicate url %s", ErrInvalidInput, i, rec.URL)
	}
	seen[rec.URL] = struct{}{}
	return nil
}
