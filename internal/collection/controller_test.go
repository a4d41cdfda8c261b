package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
	"github.com/jhusain/pocket-reader/internal/storage"
	"github.com/jhusain/pocket-reader/pkg/publishers"
)

// fakeStore is an in-memory RecordStore that can be told to fail.
type fakeStore struct {
	mu         sync.Mutex
	records    []domain.Record
	readErr    error
	writeErr   error
	replaceLog [][]domain.Record
}

func (f *fakeStore) ReadAll() ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return append([]domain.Record(nil), f.records...), nil
}

func (f *fakeStore) ReplaceAll(records []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceLog = append(f.replaceLog, append([]domain.Record(nil), records...))
	if f.writeErr != nil {
		return f.writeErr
	}
	f.records = append([]domain.Record(nil), records...)
	return nil
}

func (f *fakeStore) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return urlsOf(f.records)
}

func (f *fakeStore) replaces() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replaceLog)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishers.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.err != nil {
		return 0, r.err
	}
	return 1, nil
}

func urlsOf(records []domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.URL)
	}
	return out
}

func sameURLs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func defaults() []domain.Record {
	return []domain.Record{{URL: "https://a.test"}, {URL: "https://b.test"}}
}

func newTestController(t *testing.T, store RecordStore, pub EventPublisher) *Controller {
	t.Helper()
	c := NewController(store, logger.NewZap(zaptest.NewLogger(t)), pub)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var n int
	c.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return c
}

func TestLoadSeedsEmptyStoreAndPersists(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)

	if err := c.Load(context.Background(), defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := urlsOf(c.Records()); !sameURLs(got, "https://a.test", "https://b.test") {
		t.Fatalf("memory = %v", got)
	}
	if got := store.urls(); !sameURLs(got, "https://a.test", "https://b.test") {
		t.Fatalf("store = %v", got)
	}
	for _, r := range c.Records() {
		if r.Status != domain.StatusUnloaded || r.AddedAt.IsZero() {
			t.Fatalf("seeded record not normalised: %#v", r)
		}
	}
}

func TestLoadPrefersStoredRecordsOrderedByAddedAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []domain.Record{
		{URL: "https://late.test", Status: domain.StatusUnloaded, AddedAt: t0.Add(time.Hour)},
		{URL: "https://early.test", Status: domain.StatusUnloaded, AddedAt: t0},
		{URL: "https://tie.test", Status: domain.StatusUnloaded, AddedAt: t0.Add(time.Hour)},
	}}
	c := newTestController(t, store, nil)

	if err := c.Load(context.Background(), defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := urlsOf(c.Records()); !sameURLs(got, "https://early.test", "https://late.test", "https://tie.test") {
		t.Fatalf("memory = %v", got)
	}
	if store.replaces() != 0 {
		t.Fatalf("loading stored records should not write, got %d writes", store.replaces())
	}
}

func TestLoadRecoversFromReadFailure(t *testing.T) {
	store := &fakeStore{readErr: storage.ErrReadFailed}
	c := newTestController(t, store, nil)

	if err := c.Load(context.Background(), defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Records()) != 2 || store.replaces() != 1 {
		t.Fatalf("expected defaults seeded and written once")
	}
}

func TestLoadSeedWriteFailureKeepsDefaults(t *testing.T) {
	store := &fakeStore{writeErr: storage.ErrWriteFailed}
	c := newTestController(t, store, nil)

	err := c.Load(context.Background(), defaults())
	if !errors.Is(err, ErrPersistFailed) || !errors.Is(err, storage.ErrWriteFailed) {
		t.Fatalf("expected persist failure, got %v", err)
	}
	if len(c.Records()) != 2 || !c.Loaded() {
		t.Fatalf("defaults should stay in memory")
	}
}

func TestMutationsBeforeLoadAreRejected(t *testing.T) {
	c := newTestController(t, &fakeStore{}, nil)

	if _, err := c.Add(context.Background(), "https://a.test"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Add before Load: %v", err)
	}
	if err := c.Delete(context.Background(), "https://a.test"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Delete before Load: %v", err)
	}
	if got := c.Records(); got == nil || len(got) != 0 {
		t.Fatalf("placeholder collection should be empty, got %v", got)
	}
}

func TestDeleteAndAddPersistEveryChange(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.Delete(ctx, "https://a.test"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := store.urls(); !sameURLs(got, "https://b.test") {
		t.Fatalf("store after delete = %v", got)
	}

	rec, err := c.Add(ctx, " https://c.test ")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.URL != "https://c.test" || rec.Status != domain.StatusUnloaded {
		t.Fatalf("unexpected record %#v", rec)
	}
	if got := store.urls(); !sameURLs(got, "https://b.test", "https://c.test") {
		t.Fatalf("store after add = %v", got)
	}
	if store.replaces() != 3 {
		t.Fatalf("expected one write per change, got %d", store.replaces())
	}
}

func TestDeleteLastRecordPersistsEmptyCollection(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, []domain.Record{{URL: "https://only.test"}}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Delete(ctx, "https://only.test"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := store.urls(); len(got) != 0 {
		t.Fatalf("store should be empty, got %v", got)
	}
}

func TestAddRejectsInvalidAndDuplicate(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	writes := store.replaces()

	if _, err := c.Add(ctx, "https://a.test"); !errors.Is(err, domain.ErrDuplicateURL) {
		t.Fatalf("duplicate add: %v", err)
	}
	if _, err := c.Add(ctx, "not a url"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("invalid add: %v", err)
	}
	if err := c.Delete(ctx, "https://missing.test"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("missing delete: %v", err)
	}
	if store.replaces() != writes {
		t.Fatalf("rejected mutations must not write")
	}
}

func TestAddManySkipsInvalidAndDuplicates(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	writes := store.replaces()

	added, err := c.AddMany(ctx, []string{"https://c.test", "https://a.test", "bogus", "https://c.test", "https://d.test"})
	if err != nil {
		t.Fatalf("AddMany: %v", err)
	}
	if got := urlsOf(added); !sameURLs(got, "https://c.test", "https://d.test") {
		t.Fatalf("added = %v", got)
	}
	if store.replaces() != writes+1 {
		t.Fatalf("AddMany should write once, got %d writes", store.replaces()-writes)
	}

	added, err = c.AddMany(ctx, []string{"https://a.test"})
	if err != nil || len(added) != 0 {
		t.Fatalf("AddMany with nothing new = %v, %v", added, err)
	}
	if store.replaces() != writes+1 {
		t.Fatalf("no-op AddMany should not write")
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before, _ := c.Get("https://a.test")

	got, err := c.Update(ctx, "https://a.test", domain.Patch{
		Title:   domain.Ptr("A"),
		Content: domain.Ptr("<p>a</p>"),
		Status:  domain.Ptr(domain.StatusLoaded),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "A" || got.Status != domain.StatusLoaded || !got.AddedAt.Equal(before.AddedAt) {
		t.Fatalf("unexpected update result %#v", got)
	}
	stored, _ := store.ReadAll()
	if stored[0].Content != "<p>a</p>" {
		t.Fatalf("update not persisted: %#v", stored[0])
	}

	_, err = c.Update(ctx, "https://a.test", domain.Patch{Content: domain.Ptr("")})
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("loaded record without content should be rejected, got %v", err)
	}
	if rec, _ := c.Get("https://a.test"); rec.Content != "<p>a</p>" {
		t.Fatalf("rejected update changed memory: %#v", rec)
	}
}

func TestWriteFailureKeepsMemoryAndReportsError(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	store.mu.Lock()
	store.writeErr = storage.ErrWriteFailed
	store.mu.Unlock()

	_, err := c.Add(ctx, "https://c.test")
	if !errors.Is(err, ErrPersistFailed) || !errors.Is(err, storage.ErrWriteFailed) {
		t.Fatalf("expected persist failure, got %v", err)
	}
	if got := urlsOf(c.Records()); !sameURLs(got, "https://a.test", "https://b.test", "https://c.test") {
		t.Fatalf("memory should keep the add, got %v", got)
	}
	if got := store.urls(); !sameURLs(got, "https://a.test", "https://b.test") {
		t.Fatalf("store should keep the previous set, got %v", got)
	}
	if !errors.Is(c.LastPersistError(), storage.ErrWriteFailed) {
		t.Fatalf("LastPersistError = %v", c.LastPersistError())
	}

	store.mu.Lock()
	store.writeErr = nil
	store.mu.Unlock()
	if err := c.Delete(ctx, "https://b.test"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := store.urls(); !sameURLs(got, "https://a.test", "https://c.test") {
		t.Fatalf("store should converge on memory, got %v", got)
	}
	if c.LastPersistError() != nil {
		t.Fatalf("LastPersistError should clear after a good write")
	}
}

func TestConcurrentMutationsConverge(t *testing.T) {
	store := &fakeStore{}
	c := newTestController(t, store, nil)
	ctx := context.Background()
	if err := c.Load(ctx, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	urls := []string{"https://1.test", "https://2.test", "https://3.test", "https://4.test", "https://5.test", "https://6.test"}
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := c.Add(ctx, u); err != nil {
				t.Errorf("Add(%s): %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	if len(c.Records()) != len(urls) {
		t.Fatalf("memory has %d records", len(c.Records()))
	}
	if got := store.urls(); len(got) != len(urls) {
		t.Fatalf("store has %d records, want %d", len(got), len(urls))
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("sink down")}
	c := newTestController(t, &fakeStore{}, pub)
	ctx := context.Background()
	if err := c.Load(ctx, defaults()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := c.Add(ctx, "https://c.test"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := c.Update(ctx, "https://c.test", domain.Patch{Title: domain.Ptr("C")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := c.Delete(ctx, "https://a.test"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{publishers.EventRecordAdded, publishers.EventRecordUpdated, publishers.EventRecordDeleted}
	if len(pub.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(pub.events))
	}
	for i, typ := range want {
		if pub.events[i].Type != typ {
			t.Fatalf("event[%d] = %s, want %s", i, pub.events[i].Type, typ)
		}
	}
	if pub.events[2].URL != "https://a.test" {
		t.Fatalf("delete event url = %s", pub.events[2].URL)
	}
}
