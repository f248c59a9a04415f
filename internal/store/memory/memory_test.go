package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/store"
)

func TestListPreservesInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Put(ctx, domain.OfflineSale{
			LocalID: fmt.Sprintf("%020d", i),
			Status:  domain.SyncPending,
		})
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.LocalID != fmt.Sprintf("%020d", i) {
			t.Fatalf("entry %d out of order: %s", i, e.LocalID)
		}
	}
}

func TestPutUpdatesInPlace(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, domain.OfflineSale{LocalID: "a", Status: domain.SyncPending}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, domain.OfflineSale{LocalID: "b", Status: domain.SyncPending}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, domain.OfflineSale{LocalID: "a", Status: domain.SyncFailed, Attempts: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].LocalID != "a" {
		t.Fatalf("update must not reorder: %+v", entries)
	}
	if entries[0].Status != domain.SyncFailed || entries[0].Attempts != 2 {
		t.Fatalf("update not applied: %+v", entries[0])
	}
}

func TestGetAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found delete, got %v", err)
	}

	if err := s.Put(ctx, domain.OfflineSale{LocalID: "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || got.LocalID != "a" {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGetReturnsClone(t *testing.T) {
	s := New()
	ctx := context.Background()

	entry := domain.OfflineSale{
		LocalID: "a",
		Sale: domain.Sale{
			Items: []domain.CartItem{{ID: "line-1", SellableQty: 2}},
		},
	}
	if err := s.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Sale.Items[0].SellableQty = 99

	again, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Sale.Items[0].SellableQty != 2 {
		t.Fatalf("stored entry mutated through returned copy")
	}
}
