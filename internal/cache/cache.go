// Package cache holds the terminal's read-mostly product/stock cache. Stock
// figures are only ever written from confirmed server responses; local
// speculative arithmetic never lands here.
package cache

import (
	"context"
	"slices"
	"sync"

	"larispos/terminal/internal/domain"
)

type ProductCache interface {
	Get(ctx context.Context, sku string) (*domain.Product, bool, error)
	Put(ctx context.Context, p domain.Product) error
	List(ctx context.Context) ([]domain.Product, error)
	// ApplyStock overwrites a product's stock figures with the authoritative
	// post-sale numbers returned by the server. A non-nil batches slice
	// replaces the cached batch list wholesale.
	ApplyStock(ctx context.Context, sku string, stockQty int64, batches []domain.Batch) error
}

type MemoryProductCache struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryProductCache() *MemoryProductCache {
	return &MemoryProductCache{products: make(map[string]domain.Product)}
}

func (c *MemoryProductCache) Get(_ context.Context, sku string) (*domain.Product, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[sku]
	if !ok {
		return nil, false, nil
	}
	cloned := cloneProduct(p)
	return &cloned, true, nil
}

func (c *MemoryProductCache) Put(_ context.Context, p domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products[p.SKU] = cloneProduct(p)
	return nil
}

func (c *MemoryProductCache) List(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		result = append(result, cloneProduct(p))
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		switch {
		case a.SKU < b.SKU:
			return -1
		case a.SKU > b.SKU:
			return 1
		}
		return 0
	})
	return result, nil
}

func (c *MemoryProductCache) ApplyStock(_ context.Context, sku string, stockQty int64, batches []domain.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[sku]
	if !ok {
		return nil
	}
	p.StockQty = stockQty
	if batches != nil {
		p.Batches = slices.Clone(batches)
	}
	c.products[sku] = p
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	p.Batches = slices.Clone(p.Batches)
	return p
}
