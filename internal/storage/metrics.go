package storage

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// storeMetrics holds the collectors registered by Instrument.
type storeMetrics struct {
	duration *prometheus.HistogramVec
	records  prometheus.Gauge
}

// instrumentedStore records operation latency and collection size for any Store.
type instrumentedStore struct {
	next    Store
	metrics storeMetrics
}

// Instrument wraps next so every operation is observed in reg.
// Registering the same collectors twice returns the error from reg.
func Instrument(next Store, reg prometheus.Registerer) (Store, error) {
	m := storeMetrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reader_store_operation_duration_seconds",
				Help:    "Duration of record store operations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reader_store_records",
				Help: "Number of records in the store after the last successful operation.",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.duration, m.records} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return &instrumentedStore{next: next, metrics: m}, nil
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.duration.WithLabelValues(op, outcome(err)).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) ReadAll() ([]domain.Record, error) {
	start := time.Now()
	records, err := s.next.ReadAll()
	s.observe("read_all", start, err)
	if err == nil {
		s.metrics.records.Set(float64(len(records)))
	}
	return records, err
}

func (s *instrumentedStore) ReplaceAll(records []domain.Record) error {
	start := time.Now()
	err := s.next.ReplaceAll(records)
	s.observe("replace_all", start, err)
	if err == nil {
		s.metrics.records.Set(float64(len(records)))
	}
	return err
}

func (s *instrumentedStore) UpsertOne(record domain.Record) error {
	start := time.Now()
	err := s.next.UpsertOne(record)
	s.observe("upsert_one", start, err)
	if err != nil {
		return err
	}
	// An upsert may add a key, so recount rather than guess.
	if records, readErr := s.next.ReadAll(); readErr == nil {
		s.metrics.records.Set(float64(len(records)))
	}
	return nil
}

func (s *instrumentedStore) Close() error { return s.next.Close() }

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrReadFailed):
		return "read_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	default:
		return "error"
	}
}
