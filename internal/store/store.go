// Package store defines the terminal's local persistent queue of offline
// sales. Implementations must preserve insertion order across restarts and
// support in-place update of entries; the sync engine relies on both.
package store

import (
	"context"
	"errors"

	"larispos/terminal/internal/domain"
)

var ErrNotFound = errors.New("offline sale not found")

// Queue is multi-producer (the ledger enqueues) and single-consumer (only
// the sync engine drains); draining itself is serialized by the engine, not
// here.
type Queue interface {
	// Put inserts the entry or updates it in place, keyed by LocalID.
	Put(ctx context.Context, entry domain.OfflineSale) error
	Get(ctx context.Context, localID string) (*domain.OfflineSale, error)
	// List returns all entries in insertion order.
	List(ctx context.Context) ([]domain.OfflineSale, error)
	Delete(ctx context.Context, localID string) error
	Close() error
}
