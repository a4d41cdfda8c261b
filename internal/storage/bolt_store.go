package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/jhusain/pocket-reader/internal/domain"
)

const urlBucket = "urls"

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store, creating the urls bucket if absent.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create storage directory: %w", ErrStoreUnavailable, err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open bbolt db: %w", ErrStoreUnavailable, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(urlBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init bucket: %w", ErrStoreUnavailable, err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// ReadAll returns every record in key order.
func (b *boltStore) ReadAll() ([]domain.Record, error) {
	if b == nil || b.db == nil {
		return nil, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}

	records := []domain.Record{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(urlBucket))
		if bucket == nil {
			return fmt.Errorf("url bucket missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec domain.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %q: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, bolt.ErrDatabaseNotOpen) {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return records, nil
}

// ReplaceAll clears the bucket and writes records inside one transaction.
// Any failure rolls back the clear together with the writes.
func (b *boltStore) ReplaceAll(records []domain.Record) error {
	if b == nil || b.db == nil {
		return fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(urlBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("%w: clear: %w", ErrWriteFailed, err)
		}
		bucket, err := tx.CreateBucket([]byte(urlBucket))
		if err != nil {
			return fmt.Errorf("%w: recreate bucket: %w", ErrWriteFailed, err)
		}

		seen := make(map[string]struct{}, len(records))
		for i, rec := range records {
			if err := validateBatch(i, rec, seen); err != nil {
				return err
			}
			if err := putRecord(bucket, rec); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyWriteErr(err)
}

// UpsertOne writes a single record without touching other keys.
func (b *boltStore) UpsertOne(record domain.Record) error {
	if b == nil || b.db == nil {
		return fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(urlBucket))
		if bucket == nil {
			return fmt.Errorf("%w: url bucket missing", ErrWriteFailed)
		}
		return putRecord(bucket, record)
	})
	return classifyWriteErr(err)
}

func putRecord(bucket *bolt.Bucket, rec domain.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrWriteFailed, rec.URL, err)
	}
	if err := bucket.Put([]byte(rec.URL), value); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrWriteFailed, rec.URL, err)
	}
	return nil
}

// classifyWriteErr makes sure every failure leaving Update carries a storage sentinel.
func classifyWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrWriteFailed):
		return err
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
}
