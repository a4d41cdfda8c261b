package collection

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
	"github.com/jhusain/pocket-reader/pkg/publishers"
)

var (
	// ErrNotLoaded is returned by mutations issued before Load.
	ErrNotLoaded = errors.New("collection not loaded")
	// ErrPersistFailed wraps store failures that happen after memory was updated.
	ErrPersistFailed = errors.New("collection persist failed")
)

// Controller owns the in-memory collection and mirrors every change to the store.
type Controller struct {
	store RecordStore
	log   logger.Logger
	pub   EventPublisher
	now   func() time.Time

	mu      sync.RWMutex
	records []domain.Record
	loaded  bool

	// persistMu serialises ReplaceAll calls; each call writes the latest snapshot.
	persistMu      sync.Mutex
	lastPersistErr error
}

// NewController wires a controller to its store. log and pub may be nil.
func NewController(store RecordStore, log logger.Logger, pub EventPublisher) *Controller {
	return &Controller{
		store:   store,
		log:     logger.Ensure(log),
		pub:     pub,
		now:     time.Now,
		records: []domain.Record{},
	}
}

// Load reads the stored collection. When the store is empty or unreadable the
// defaults become the collection and are written back immediately.
func (c *Controller) Load(ctx context.Context, defaults []domain.Record) error {
	stored, err := c.store.ReadAll()
	if err != nil {
		c.log.WarnObj("collection read failed, seeding defaults", "collection_load", map[string]any{
			"error": err.Error(),
		})
	}
	if err == nil && len(stored) > 0 {
		sort.SliceStable(stored, func(i, j int) bool {
			return stored[i].AddedAt.Before(stored[j].AddedAt)
		})
		c.mu.Lock()
		c.records = stored
		c.loaded = true
		c.mu.Unlock()

		c.log.InfoObj("collection loaded", "collection_load", map[string]any{
			"records": len(stored),
		})
		return nil
	}

	seeded := make([]domain.Record, 0, len(defaults))
	now := c.now().UTC()
	for _, d := range defaults {
		if d.Status == "" {
			d.Status = domain.StatusUnloaded
		}
		if d.AddedAt.IsZero() {
			d.AddedAt = now
		}
		seeded = append(seeded, d)
	}
	if err := domain.ValidateCollection(seeded); err != nil {
		return fmt.Errorf("default records: %w", err)
	}

	c.mu.Lock()
	c.records = seeded
	c.loaded = true
	c.mu.Unlock()

	c.log.InfoObj("collection seeded", "collection_load", map[string]any{
		"records": len(seeded),
	})
	return c.persist()
}

// Loaded reports whether Load has completed.
func (c *Controller) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Records returns a copy of the current collection.
func (c *Controller) Records() []domain.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneRecords(c.records)
}

// Get returns the record with exactly this URL.
func (c *Controller) Get(url string) (domain.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOf(c.records, url); i >= 0 {
		return c.records[i], true
	}
	return domain.Record{}, false
}

// LastPersistError returns the outcome of the most recent store write.
func (c *Controller) LastPersistError() error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.lastPersistErr
}

// Mutate applies transform to the collection, swaps the result in and
// persists it. Memory is not rolled back when the write fails.
func (c *Controller) Mutate(ctx context.Context, transform Transform) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	next, err := transform(cloneRecords(c.records))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if next == nil {
		next = []domain.Record{}
	}
	if err := domain.ValidateCollection(next); err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.records
	c.records = next
	c.mu.Unlock()

	persistErr := c.persist()
	c.publishChanges(ctx, prev, next)
	return persistErr
}

// Add appends an unloaded record for rawURL.
func (c *Controller) Add(ctx context.Context, rawURL string) (domain.Record, error) {
	url, err := domain.NormalizeURL(rawURL)
	if err != nil {
		return domain.Record{}, err
	}
	rec := domain.NewRecord(url, c.now())

	err = c.Mutate(ctx, func(records []domain.Record) ([]domain.Record, error) {
		if indexOf(records, url) >= 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateURL, url)
		}
		return append(records, rec), nil
	})
	if err != nil && !errors.Is(err, ErrPersistFailed) {
		return domain.Record{}, err
	}
	return rec, err
}

// AddMany appends every new, valid URL in a single mutation. Invalid and
// already present URLs are skipped; the returned slice holds what was added.
func (c *Controller) AddMany(ctx context.Context, rawURLs []string) ([]domain.Record, error) {
	now := c.now()
	var added []domain.Record

	err := c.Mutate(ctx, func(records []domain.Record) ([]domain.Record, error) {
		seen := make(map[string]struct{}, len(records)+len(rawURLs))
		for _, r := range records {
			seen[r.URL] = struct{}{}
		}
		for _, raw := range rawURLs {
			url, err := domain.NormalizeURL(raw)
			if err != nil {
				continue
			}
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			rec := domain.NewRecord(url, now)
			added = append(added, rec)
			records = append(records, rec)
		}
		if len(added) == 0 {
			return nil, errNothingToDo
		}
		return records, nil
	})
	if errors.Is(err, errNothingToDo) {
		return nil, nil
	}
	if err != nil && !errors.Is(err, ErrPersistFailed) {
		return nil, err
	}
	return added, err
}

var errNothingToDo = errors.New("no changes")

// Delete removes the record with exactly this URL.
func (c *Controller) Delete(ctx context.Context, url string) error {
	return c.Mutate(ctx, func(records []domain.Record) ([]domain.Record, error) {
		i := indexOf(records, url)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, url)
		}
		return append(records[:i], records[i+1:]...), nil
	})
}

// Update merges patch into the record with exactly this URL.
func (c *Controller) Update(ctx context.Context, url string, patch domain.Patch) (domain.Record, error) {
	var updated domain.Record
	err := c.Mutate(ctx, func(records []domain.Record) ([]domain.Record, error) {
		i := indexOf(records, url)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, url)
		}
		updated = records[i].Apply(patch)
		records[i] = updated
		return records, nil
	})
	if err != nil && !errors.Is(err, ErrPersistFailed) {
		return domain.Record{}, err
	}
	return updated, err
}

// persist writes the current snapshot. Holding persistMu while taking the
// snapshot keeps writes ordered so the store converges on memory.
func (c *Controller) persist() error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	snapshot := c.Records()
	err := c.store.ReplaceAll(snapshot)
	c.lastPersistErr = err
	if err != nil {
		c.log.ErrorObj("collection persist failed", "collection_persist", map[string]any{
			"records": len(snapshot),
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	c.log.DebugObj("collection persisted", "collection_persist", map[string]any{
		"records": len(snapshot),
	})
	return nil
}

func (c *Controller) publishChanges(ctx context.Context, prev, next []domain.Record) {
	if c.pub == nil {
		return
	}
	for _, evt := range diffEvents(prev, next) {
		if _, err := c.pub.Publish(ctx, evt); err != nil {
			c.log.WarnObj("record event publish failed", "collection_publish", map[string]any{
				"event_type": evt.Type,
				"url":        evt.URL,
				"error":      err.Error(),
			})
		}
	}
}

// diffEvents describes the change from prev to next as one event per affected record.
func diffEvents(prev, next []domain.Record) []publishers.Event {
	before := make(map[string]domain.Record, len(prev))
	for _, r := range prev {
		before[r.URL] = r
	}

	var events []publishers.Event
	for _, r := range next {
		old, ok := before[r.URL]
		switch {
		case !ok:
			events = append(events, publishers.NewEvent(publishers.EventRecordAdded, r))
		case !reflect.DeepEqual(old, r):
			events = append(events, publishers.NewEvent(publishers.EventRecordUpdated, r))
		}
		delete(before, r.URL)
	}
	for _, r := range prev {
		if _, gone := before[r.URL]; gone {
			events = append(events, publishers.NewEvent(publishers.EventRecordDeleted, r))
		}
	}
	return events
}

func indexOf(records []domain.Record, url string) int {
	for i := range records {
		if records[i].URL == url {
			return i
		}
	}
	return -1
}

func cloneRecords(in []domain.Record) []domain.Record {
	out := make([]domain.Record, len(in))
	copy(out, in)
	return out
}
