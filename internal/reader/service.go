package reader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhusain/pocket-reader/internal/collection"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
)

const defaultConcurrency = 4

// Service turns tracked URLs into readable content, recording each state
// change on the collection.
type Service struct {
	records     Collection
	fetcher     Fetcher
	simplifier  Simplifier
	log         logger.Logger
	concurrency int
	now         func() time.Time
}

// NewService wires the reader. A nil simplifier uses DocumentSimplifier.
func NewService(records Collection, fetcher Fetcher, simplifier Simplifier, log logger.Logger, concurrency int) *Service {
	if simplifier == nil {
		simplifier = NewDocumentSimplifier()
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		records:     records,
		fetcher:     fetcher,
		simplifier:  simplifier,
		log:         logger.Ensure(log),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Open returns the record for url, loading its content first when it has none.
// Loaded and in-flight records are returned unchanged. Fetch failures end up
// on the record as status error; the returned error covers lookup and store problems.
func (s *Service) Open(ctx context.Context, url string) (domain.Record, error) {
	rec, ok := s.records.Get(url)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, url)
	}
	switch rec.Status {
	case domain.StatusLoading:
		return rec, nil
	case domain.StatusLoaded:
		if rec.Content != "" {
			return rec, nil
		}
	}
	return s.load(ctx, url)
}

// Refresh re-fetches url whatever its status, including records left
// loading by an interrupted fetch.
func (s *Service) Refresh(ctx context.Context, url string) (domain.Record, error) {
	if _, ok := s.records.Get(url); !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, url)
	}
	return s.load(ctx, url)
}

// FetchPending opens every unloaded or failed record, at most concurrency at a
// time. Per-record failures stay on the records. Cancelling ctx stops scheduling
// new fetches; the count of started fetches is returned.
func (s *Service) FetchPending(ctx context.Context) (int, error) {
	var pending []string
	for _, r := range s.records.Records() {
		if r.Status == domain.StatusUnloaded || r.Status == domain.StatusError {
			pending = append(pending, r.URL)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		g       errgroup.Group
		started atomic.Int64
	)
	g.SetLimit(s.concurrency)

	for _, url := range pending {
		if ctx.Err() != nil {
			break
		}
		started.Add(1)
		g.Go(func() error {
			rec, err := s.load(ctx, url)
			if err != nil {
				s.log.WarnObj("pending fetch failed", "reader_fetch", map[string]any{
					"url":   url,
					"error": err.Error(),
				})
				return nil
			}
			s.log.DebugObj("pending fetch finished", "reader_fetch", map[string]any{
				"url":    url,
				"status": rec.Status,
			})
			return nil
		})
	}
	_ = g.Wait()

	n := int(started.Load())
	s.log.InfoObj("pending fetch pass completed", "reader_fetch_pass", map[string]any{
		"pending": len(pending),
		"started": n,
	})
	return n, ctx.Err()
}

func (s *Service) load(ctx context.Context, url string) (domain.Record, error) {
	_, err := s.records.Update(ctx, url, domain.Patch{
		Status:       domain.Ptr(domain.StatusLoading),
		ErrorMessage: domain.Ptr(""),
	})
	if err != nil && !errors.Is(err, collection.ErrPersistFailed) {
		return domain.Record{}, err
	}

	raw, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return s.fail(ctx, url, err)
	}
	simplified, err := s.simplifier.Simplify(raw)
	if err != nil {
		return s.fail(ctx, url, err)
	}
	if simplified == "" {
		return s.fail(ctx, url, errors.New("document has no readable content"))
	}

	fetchedAt := s.now().UTC()
	rec, err := s.records.Update(ctx, url, domain.Patch{
		Title:     domain.Ptr(TitleOf(simplified)),
		Content:   domain.Ptr(simplified),
		Language:  domain.Ptr(DetectLanguage(PlainText(simplified))),
		FetchedAt: &fetchedAt,
		Status:    domain.Ptr(domain.StatusLoaded),
	})
	if err == nil {
		s.log.InfoObj("record loaded", "reader_load", map[string]any{
			"url":      url,
			"title":    rec.Title,
			"language": rec.Language,
			"bytes":    len(raw),
		})
	}
	return rec, err
}

func (s *Service) fail(ctx context.Context, url string, cause error) (domain.Record, error) {
	s.log.WarnObj("record load failed", "reader_load", map[string]any{
		"url":   url,
		"error": cause.Error(),
	})
	return s.records.Update(ctx, url, domain.Patch{
		Status:       domain.Ptr(domain.StatusError),
		ErrorMessage: domain.Ptr(cause.Error()),
	})
}
