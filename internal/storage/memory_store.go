package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// memoryStore is a volatile Store with the same replace semantics as boltStore:
// a replacement is staged in a fresh map and swapped in only when every record is accepted.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	closed  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]domain.Record)}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ReadAll() ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}

	out := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *memoryStore) ReplaceAll(records []domain.Record) error {
	staged := make(map[string]domain.Record, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if err := validateBatch(i, rec, seen); err != nil {
			return err
		}
		staged[rec.URL] = rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	m.records = staged
	return nil
}

func (m *memoryStore) UpsertOne(record domain.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	m.records[record.URL] = record
	return nil
}
