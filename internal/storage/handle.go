package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// Opener opens the underlying Store. It is called at most once per successful open.
type Opener func() (Store, error)

// Handle is a lazily initialized Store. Every operation ensures the underlying
// store is open first, so callers never depend on an explicit init step.
type Handle struct {
	mu     sync.Mutex
	open   Opener
	store  Store
	closed bool
}

// NewHandle wraps opener in a Handle. Nothing is opened until first use.
func NewHandle(open Opener) *Handle {
	return &Handle{open: open}
}

// Initialize opens the underlying store if it is not open yet. Concurrent and
// repeated calls converge on a single store. A failed open is not remembered,
// so a later call retries.
func (h *Handle) Initialize() error {
	_, err := h.ensureOpen()
	return err
}

func (h *Handle) ensureOpen() (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("%w: handle is closed", ErrStoreUnavailable)
	}
	if h.store != nil {
		return h.store, nil
	}
	if h.open == nil {
		return nil, fmt.Errorf("%w: no opener configured", ErrStoreUnavailable)
	}

	s, err := h.open()
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	h.store = s
	return s, nil
}

func (h *Handle) ReadAll() ([]domain.Record, error) {
	s, err := h.ensureOpen()
	if err != nil {
		return nil, err
	}
	return s.ReadAll()
}

func (h *Handle) ReplaceAll(records []domain.Record) error {
	s, err := h.ensureOpen()
	if err != nil {
		return err
	}
	return s.ReplaceAll(records)
}

func (h *Handle) UpsertOne(record domain.Record) error {
	s, err := h.ensureOpen()
	if err != nil {
		return err
	}
	return s.UpsertOne(record)
}

// Close closes the underlying store if it was opened. The handle cannot be reopened.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}
