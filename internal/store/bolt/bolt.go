// Package bolt persists the offline sale queue in an embedded bbolt file.
// Keys are the zero-padded snowflake local ids, which are time-ordered, so
// bucket key order is insertion order and survives process restarts.
package bolt

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	bbolt "go.etcd.io/bbolt"

	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/store"
)

var bucketOfflineSales = []byte("offline_sales")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOfflineSales)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(_ context.Context, entry domain.OfflineSale) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode offline sale %s: %w", entry.LocalID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOfflineSales).Put([]byte(entry.LocalID), payload)
	})
}

func (s *Store) Get(_ context.Context, localID string) (*domain.OfflineSale, error) {
	var entry *domain.OfflineSale
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketOfflineSales).Get([]byte(localID))
		if raw == nil {
			return store.ErrNotFound
		}
		var decoded domain.OfflineSale
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decode offline sale %s: %w", localID, err)
		}
		entry = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) List(_ context.Context) ([]domain.OfflineSale, error) {
	var entries []domain.OfflineSale
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOfflineSales).ForEach(func(k, v []byte) error {
			var decoded domain.OfflineSale
			if err := json.Unmarshal(v, &decoded); err != nil {
				return fmt.Errorf("decode offline sale %s: %w", k, err)
			}
			entries = append(entries, decoded)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Delete(_ context.Context, localID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOfflineSales)
		if b.Get([]byte(localID)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(localID))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
