// Package syncer reconciles offline-completed sales with the sale service.
// Entries drain strictly in completion order: a retryable failure at the head
// of the queue blocks everything behind it until its backoff elapses, while a
// terminal rejection is skipped and left for manual correction.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"larispos/terminal/internal/cache"
	"larispos/terminal/internal/client"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/store"
)

// TopicSyncStatus carries a domain.OfflineSale on every status transition.
const TopicSyncStatus = "sync:status"

var ErrDrainInProgress = errors.New("drain already in progress")

// SaleService is the slice of the sale service client the engine needs.
type SaleService interface {
	CreateSale(ctx context.Context, req client.CreateSaleRequest) (*client.SaleCommitted, error)
}

// Publisher is satisfied by EventBus.Bus.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

type Config struct {
	// MaxAttempts caps automatic retries; past it an entry waits for a
	// manual Retry. Zero means 5.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt up to
	// BackoffCap. Zeroes mean 5s and 5m.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type Engine struct {
	queue store.Queue
	sales SaleService
	cache cache.ProductCache
	bus   Publisher
	node  *snowflake.Node
	cfg   Config

	drainMu sync.Mutex
	now     func() time.Time
}

func New(queue store.Queue, sales SaleService, productCache cache.ProductCache, bus Publisher, node *snowflake.Node, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	return &Engine{
		queue: queue,
		sales: sales,
		cache: productCache,
		bus:   bus,
		node:  node,
		cfg:   cfg,
		now:   time.Now,
	}
}

// NewIdempotencyKey mints the key a sale carries across every submission
// attempt, online or queued.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// Enqueue snapshots a completed sale into the local queue. The snowflake
// local id is time-ordered, so zero-padding it yields byte-ordered queue keys
// and the store's insertion order matches completion order.
func (e *Engine) Enqueue(ctx context.Context, sale domain.Sale) (domain.OfflineSale, error) {
	if sale.IdempotencyKey == "" {
		return domain.OfflineSale{}, errors.New("sale has no idempotency key")
	}
	entry := domain.OfflineSale{
		LocalID:        fmt.Sprintf("%020d", e.node.Generate().Int64()),
		IdempotencyKey: sale.IdempotencyKey,
		Sale:           sale,
		Status:         domain.SyncPending,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.queue.Put(ctx, entry); err != nil {
		return domain.OfflineSale{}, fmt.Errorf("enqueue offline sale: %w", err)
	}
	zap.S().Infow("sale queued for sync", "local_id", entry.LocalID, "items", len(sale.Items))
	e.publish(entry)
	return entry, nil
}

// List returns the queue in drain order.
func (e *Engine) List(ctx context.Context) ([]domain.OfflineSale, error) {
	return e.queue.List(ctx)
}

// Retry clears an entry's backoff and attempt count so the next drain picks
// it up immediately. Works on failed and rejected entries alike; retrying a
// rejected entry is the operator saying the server-side condition was fixed.
func (e *Engine) Retry(ctx context.Context, localID string) (domain.OfflineSale, error) {
	entry, err := e.queue.Get(ctx, localID)
	if err != nil {
		return domain.OfflineSale{}, err
	}
	entry.Status = domain.SyncPending
	entry.Attempts = 0
	entry.NextAttemptAt = time.Time{}
	entry.LastError = ""
	if err := e.queue.Put(ctx, *entry); err != nil {
		return domain.OfflineSale{}, fmt.Errorf("reset offline sale: %w", err)
	}
	e.publish(*entry)
	return *entry, nil
}

// Drain walks the queue once. Only one drain runs at a time; overlapping
// calls return ErrDrainInProgress rather than queueing up behind the lock.
func (e *Engine) Drain(ctx context.Context) error {
	if !e.drainMu.TryLock() {
		return ErrDrainInProgress
	}
	defer e.drainMu.Unlock()

	entries, err := e.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("list offline sales: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch entry.Status {
		case domain.SyncRejected:
			continue
		case domain.SyncFailed, domain.SyncPending, domain.SyncSyncing:
			if entry.Status == domain.SyncFailed && entry.Attempts >= e.cfg.MaxAttempts {
				// Out of automatic retries; holds up the queue until
				// an operator retries or the server-side cause clears.
				return nil
			}
			if !entry.NextAttemptAt.IsZero() && entry.NextAttemptAt.After(e.now()) {
				// Head-of-line blocking: later sales must not land
				// before this one.
				return nil
			}
		}
		if err := e.syncOne(ctx, entry); err != nil {
			if errors.Is(err, client.ErrUnavailable) {
				// No point hammering the same dead server for the
				// rest of the queue.
				return nil
			}
			return err
		}
	}
	return nil
}

func (e *Engine) syncOne(ctx context.Context, entry domain.OfflineSale) error {
	entry.Status = domain.SyncSyncing
	if err := e.queue.Put(ctx, entry); err != nil {
		return fmt.Errorf("mark syncing: %w", err)
	}
	e.publish(entry)

	resp, err := e.sales.CreateSale(ctx, client.NewCreateSaleRequest(entry.Sale))
	switch {
	case err == nil:
		return e.confirm(ctx, entry, resp)
	case errors.Is(err, client.ErrRejected):
		entry.Status = domain.SyncRejected
		entry.LastError = err.Error()
		zap.S().Warnw("offline sale rejected", "local_id", entry.LocalID, "error", err)
		if putErr := e.queue.Put(ctx, entry); putErr != nil {
			return fmt.Errorf("mark rejected: %w", putErr)
		}
		e.publish(entry)
		return nil
	default:
		entry.Status = domain.SyncFailed
		entry.Attempts++
		entry.LastError = err.Error()
		if entry.Attempts < e.cfg.MaxAttempts {
			entry.NextAttemptAt = e.now().Add(e.backoff(entry.Attempts))
		} else {
			// Out of automatic retries; only a manual Retry resumes.
			entry.NextAttemptAt = time.Time{}
		}
		zap.S().Warnw("offline sale sync failed",
			"local_id", entry.LocalID, "attempts", entry.Attempts, "error", err)
		if putErr := e.queue.Put(ctx, entry); putErr != nil {
			return fmt.Errorf("mark failed: %w", putErr)
		}
		e.publish(entry)
		if entry.Attempts >= e.cfg.MaxAttempts {
			return nil
		}
		return err
	}
}

func (e *Engine) confirm(ctx context.Context, entry domain.OfflineSale, resp *client.SaleCommitted) error {
	entry.Status = domain.SyncSynced
	entry.ServerSaleID = resp.SaleID
	entry.LastError = ""

	// Record the confirmation first; the delete below is the point of no
	// return, and a crash between the two leaves a synced entry whose
	// replay the server deduplicates by idempotency key.
	if err := e.queue.Put(ctx, entry); err != nil {
		return fmt.Errorf("record confirmation: %w", err)
	}
	for _, figure := range resp.Stock {
		if err := e.cache.ApplyStock(ctx, figure.SKU, figure.StockQuantity, figure.DomainBatches()); err != nil {
			zap.S().Warnw("stock writeback failed", "sku", figure.SKU, "error", err)
		}
	}
	if err := e.queue.Delete(ctx, entry.LocalID); err != nil {
		return fmt.Errorf("remove synced sale: %w", err)
	}
	zap.S().Infow("offline sale synced",
		"local_id", entry.LocalID, "server_sale_id", resp.SaleID, "duplicate", resp.Duplicate)
	e.publish(entry)
	return nil
}

func (e *Engine) backoff(attempts int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return d
}

func (e *Engine) publish(entry domain.OfflineSale) {
	if e.bus != nil {
		e.bus.Publish(TopicSyncStatus, entry)
	}
}
