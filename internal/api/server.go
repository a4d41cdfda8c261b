package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhusain/pocket-reader/internal/collection"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
)

const (
	maxRequestBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second

	// persistErrorHeader carries the last failed store write while memory
	// and the store disagree.
	persistErrorHeader = "X-Persist-Error"
)

// Collection is the record surface served over HTTP.
type Collection interface {
	Records() []domain.Record
	Get(url string) (domain.Record, bool)
	Add(ctx context.Context, rawURL string) (domain.Record, error)
	Delete(ctx context.Context, url string) error
	Update(ctx context.Context, url string, patch domain.Patch) (domain.Record, error)
	Loaded() bool
	LastPersistError() error
}

// Reader loads record content.
type Reader interface {
	Open(ctx context.Context, url string) (domain.Record, error)
	Refresh(ctx context.Context, url string) (domain.Record, error)
	FetchPending(ctx context.Context) (int, error)
}

// Importer bulk-adds URLs from a sitemap.
type Importer interface {
	Import(ctx context.Context, sitemapURL string) ([]domain.Record, error)
}

// Server exposes the collection over HTTP.
type Server struct {
	records  Collection
	reader   Reader
	importer Importer
	metrics  prometheus.Gatherer
	log      logger.Logger
}

// NewServer wires the handlers. metrics may be nil to skip /metrics.
func NewServer(records Collection, reader Reader, importer Importer, metrics prometheus.Gatherer, log logger.Logger) *Server {
	return &Server{
		records:  records,
		reader:   reader,
		importer: importer,
		metrics:  metrics,
		log:      logger.Ensure(log),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /records", s.withLogging(s.listHandler))
	mux.HandleFunc("GET /records/content", s.withLogging(s.contentHandler))
	mux.HandleFunc("POST /records", s.withLogging(s.addHandler))
	mux.HandleFunc("DELETE /records", s.withLogging(s.deleteHandler))
	mux.HandleFunc("PATCH /records", s.withLogging(s.updateHandler))
	mux.HandleFunc("POST /records/open", s.withLogging(s.openHandler))
	mux.HandleFunc("POST /records/refresh", s.withLogging(s.refreshHandler))
	mux.HandleFunc("POST /records/fetch", s.withLogging(s.fetchHandler))
	mux.HandleFunc("POST /records/import", s.withLogging(s.importHandler))
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoObj("http server listening", "http_addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.InfoObj("http server stopped", "http_addr", addr)
	return nil
}

func (s *Server) listHandler(w http.ResponseWriter, _ *http.Request) {
	if !s.records.Loaded() {
		s.fail(w, collection.ErrNotLoaded)
		return
	}
	if err := s.records.LastPersistError(); err != nil {
		w.Header().Set(persistErrorHeader, err.Error())
	}
	writeJSON(w, http.StatusOK, s.records.Records())
}

type healthResponse struct {
	Loaded       bool   `json:"loaded"`
	Records      int    `json:"records"`
	PersistError string `json:"persist_error,omitempty"`
}

// healthHandler reports 503 until the collection is loaded and while the
// last store write is failing.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Loaded: s.records.Loaded(), Records: len(s.records.Records())}
	status := http.StatusOK
	if !resp.Loaded {
		status = http.StatusServiceUnavailable
	}
	if err := s.records.LastPersistError(); err != nil {
		resp.PersistError = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) contentHandler(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	rec, found := s.records.Get(url)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, url))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type addRequest struct {
	URL string `json:"url"`
}

func (s *Server) addHandler(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.records.Add(r.Context(), req.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	if err := s.records.Delete(r.Context(), url); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateHandler(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	var patch domain.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	rec, err := s.records.Update(r.Context(), url, patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) openHandler(w http.ResponseWriter, r *http.Request) {
	s.readHandler(w, r, s.reader.Open)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.readHandler(w, r, s.reader.Refresh)
}

func (s *Server) readHandler(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (domain.Record, error)) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	rec, err := fn(r.Context(), url)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) fetchHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.reader.FetchPending(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"started": n})
}

type importRequest struct {
	SitemapURL string `json:"sitemap_url"`
}

func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SitemapURL) == "" {
		writeError(w, http.StatusBadRequest, errors.New("sitemap_url is required"))
		return
	}
	added, err := s.importer.Import(r.Context(), req.SitemapURL)
	if err != nil {
		// Unclassified errors come from fetching or decoding the sitemap.
		if statusFor(err) == http.StatusInternalServerError {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		s.fail(w, err)
		return
	}
	if added == nil {
		added = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "count": len(added)})
}

// fail maps domain and store errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorObj("request failed", "http_error", map[string]any{
			"status": status,
			"error":  err.Error(),
		})
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateURL):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, collection.ErrPersistFailed), errors.Is(err, collection.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requireURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url query parameter is required"))
		return "", false
	}
	return url, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
