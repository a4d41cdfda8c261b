package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jhusain/pocket-reader/internal/collection"
	"github.com/jhusain/pocket-reader/internal/config"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
	"github.com/jhusain/pocket-reader/internal/reader"
	"github.com/jhusain/pocket-reader/internal/storage"
	"github.com/jhusain/pocket-reader/pkg/httpclient"
	"github.com/jhusain/pocket-reader/pkg/publishers"
	"github.com/jhusain/pocket-reader/pkg/sources"
)

// Reader is the assembled runtime: store, collection, content reader,
// sitemap importer and event publishers.
type Reader struct {
	cfg        *config.Config
	log        logger.Logger
	store      *storage.Handle
	collection *collection.Controller
	reader     *reader.Service
	importer   *sources.SitemapImporter
	fanout     *publishers.Fanout
	registry   *prometheus.Registry
}

// NewReader builds the runtime from config. The store is opened lazily on first use.
func NewReader(ctx context.Context, cfg *config.Config, log logger.Logger) (*Reader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storeOpts := storage.Options{OpenTimeout: cfg.BBoltOpenTimeout}
	handle := storage.NewHandle(func() (storage.Store, error) {
		s, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
		if err != nil {
			return nil, err
		}
		is, err := storage.Instrument(s, registry)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		log.InfoObj("storage initialized", "storage_config", map[string]any{
			"type":            cfg.StorageType,
			"path":            cfg.BBoltPath,
			"open_timeout_ms": cfg.BBoltOpenTimeoutMs,
		})
		return is, nil
	})

	fanout, err := buildPublishers(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	client := httpclient.NewRestyClient(cfg.FetchTimeout, cfg.FetchUserAgent)
	ctrl := collection.NewController(handle, log, fanout)
	svc := reader.NewService(
		ctrl,
		reader.NewHTTPFetcher(client, cfg.FetchProxyTemplate, cfg.MaxBodyBytes),
		reader.NewDocumentSimplifier(),
		log,
		cfg.FetchConcurrency,
	)

	return &Reader{
		cfg:        cfg,
		log:        log,
		store:      handle,
		collection: ctrl,
		reader:     svc,
		importer:   sources.NewSitemapImporter(client),
		fanout:     fanout,
		registry:   registry,
	}, nil
}

// buildPublishers instantiates the enabled publishers. A missing file means none.
func buildPublishers(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if path == "" {
		return publishers.NewFanout(nil), nil
	}
	reg, err := publishers.LoadRegistry(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.DebugObj("no publishers file; events disabled", "publishers_file", path)
		return publishers.NewFanout(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabled := reg.Enabled()
	clients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(clients), nil
}

// Start loads the collection, seeding it from the seeds file when the store is empty.
func (r *Reader) Start(ctx context.Context) error {
	seeds, err := sources.LoadSeeds(r.cfg.SeedsFile)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	if err := r.collection.Load(ctx, seeds); err != nil {
		if errors.Is(err, collection.ErrPersistFailed) {
			r.log.WarnObj("seeded collection not persisted", "error", err.Error())
			return nil
		}
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

// Collection exposes the collection controller.
func (r *Reader) Collection() *collection.Controller { return r.collection }

// Service exposes the content reader.
func (r *Reader) Service() *reader.Service { return r.reader }

// Metrics exposes the Prometheus registry.
func (r *Reader) Metrics() *prometheus.Registry { return r.registry }

// Import adds every URL listed in the sitemap at sitemapURL.
func (r *Reader) Import(ctx context.Context, sitemapURL string) ([]domain.Record, error) {
	urls, err := r.importer.URLs(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	added, err := r.collection.AddMany(ctx, urls)
	r.log.InfoObj("sitemap imported", "import_result", map[string]any{
		"sitemap": sitemapURL,
		"found":   len(urls),
		"added":   len(added),
	})
	return added, err
}

// Close releases the store and publishers, logging failures.
func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if err := r.fanout.Close(); err != nil {
		r.log.ErrorObj("publisher close failed", "error", err.Error())
		errs = append(errs, err)
	}
	if err := r.store.Close(); err != nil {
		r.log.ErrorObj("storage close failed", "error", err.Error())
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
