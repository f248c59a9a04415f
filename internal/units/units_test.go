package units

import (
	"errors"
	"testing"
	"time"

	"larispos/terminal/internal/domain"
)

func testProduct() domain.Product {
	return domain.Product{
		ID:               "prod-1",
		SKU:              "PARA-500",
		Name:             "Paracetamol 500mg",
		StockingUnit:     "box",
		SellableUnit:     "strip",
		UnitsPerStocking: 12,
		StockQty:         15,
		PriceCents:       450,
		Batches: []domain.Batch{
			{ID: "b2", Number: "B-0602", Expiry: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Remaining: 10, PriceCents: 450},
			{ID: "b1", Number: "B-0101", Expiry: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Remaining: 5, PriceCents: 420},
		},
	}
}

func TestToSellable(t *testing.T) {
	if got, err := ToSellable("3", domain.UnitSellable, 12); err != nil || got != 3 {
		t.Fatalf("sellable 3 = %d, %v", got, err)
	}
	if got, err := ToSellable("2", domain.UnitStocking, 12); err != nil || got != 24 {
		t.Fatalf("stocking 2x12 = %d, %v", got, err)
	}
	if got, err := ToSellable("2.5", domain.UnitStocking, 12); err != nil || got != 30 {
		t.Fatalf("stocking 2.5x12 = %d, %v", got, err)
	}
	if _, err := ToSellable("2.5", domain.UnitStocking, 3); !errors.Is(err, ErrFractionalQuantity) {
		t.Fatalf("expected fractional quantity error, got %v", err)
	}
	if _, err := ToSellable("1.5", domain.UnitSellable, 12); !errors.Is(err, ErrFractionalQuantity) {
		t.Fatalf("expected fractional sellable rejection, got %v", err)
	}
	if _, err := ToSellable("0", domain.UnitSellable, 12); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected zero rejection, got %v", err)
	}
	if _, err := ToSellable("-1", domain.UnitSellable, 12); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
}

func TestUnitRoundTripIsExact(t *testing.T) {
	for factor := int64(1); factor <= 24; factor++ {
		for _, sellable := range []int64{1, 5, 7, 12, 100, 12345} {
			num, den := ToStocking(sellable, factor)
			back, err := StockingToSellable(num, den, factor)
			if err != nil {
				t.Fatalf("factor=%d sellable=%d: %v", factor, sellable, err)
			}
			if back != sellable {
				t.Fatalf("factor=%d: %d -> %d/%d -> %d", factor, sellable, num, den, back)
			}
		}
	}
}

func TestDisplayQuantity(t *testing.T) {
	if got := DisplayQuantity(24, 12, domain.UnitStocking); got != "2" {
		t.Fatalf("24/12 stocking = %q", got)
	}
	if got := DisplayQuantity(30, 12, domain.UnitStocking); got != "2.5" {
		t.Fatalf("30/12 stocking = %q", got)
	}
	if got := DisplayQuantity(24, 12, domain.UnitSellable); got != "24" {
		t.Fatalf("24 sellable = %q", got)
	}
}

func TestAllocateFEFO(t *testing.T) {
	p := testProduct()
	now := time.Date(2023, 12, 1, 10, 0, 0, 0, time.UTC)

	// First 5 units come from the earliest-expiring batch.
	allocs, err := Allocate(p, "", 5, now)
	if err != nil {
		t.Fatalf("allocate 5: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Batch.ID != "b1" || allocs[0].Qty != 5 {
		t.Fatalf("expected 5 from b1, got %+v", allocs)
	}

	// Unit 6 onward rolls to the next-earliest batch.
	allocs, err = Allocate(p, "", 6, now)
	if err != nil {
		t.Fatalf("allocate 6: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected split allocation, got %+v", allocs)
	}
	if allocs[0].Batch.ID != "b1" || allocs[0].Qty != 5 {
		t.Fatalf("first part should be 5 from b1, got %+v", allocs[0])
	}
	if allocs[1].Batch.ID != "b2" || allocs[1].Qty != 1 {
		t.Fatalf("second part should be 1 from b2, got %+v", allocs[1])
	}

	if _, err := Allocate(p, "", 16, now); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestAllocateSkipsExpiredBatches(t *testing.T) {
	p := testProduct()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) // b1 expired

	allocs, err := Allocate(p, "", 5, now)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Batch.ID != "b2" {
		t.Fatalf("expected b2 only, got %+v", allocs)
	}

	if _, err := Allocate(p, "", 11, now); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock with b1 expired, got %v", err)
	}
}

func TestAllocatePinnedBatch(t *testing.T) {
	p := testProduct()
	now := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	allocs, err := Allocate(p, "b2", 8, now)
	if err != nil {
		t.Fatalf("pinned allocate: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Batch.ID != "b2" || allocs[0].Qty != 8 {
		t.Fatalf("expected 8 from pinned b2, got %+v", allocs)
	}

	// A pinned batch is validated against its own remaining stock, not the
	// aggregate: 6 units fit the aggregate but not batch b1.
	if _, err := Allocate(p, "b1", 6, now); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected pinned batch overflow, got %v", err)
	}
	if _, err := Allocate(p, "missing", 1, now); !errors.Is(err, ErrUnknownBatch) {
		t.Fatalf("expected unknown batch, got %v", err)
	}
}

func TestAllocateWithoutBatches(t *testing.T) {
	p := testProduct()
	p.Batches = nil
	now := time.Now().UTC()

	allocs, err := Allocate(p, "", 15, now)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if allocs != nil {
		t.Fatalf("expected no batch allocation for untracked product, got %+v", allocs)
	}
	if _, err := Allocate(p, "", 16, now); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected aggregate stock rejection, got %v", err)
	}
}

func TestConsumeMirrorsAllocation(t *testing.T) {
	p := testProduct()
	now := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	// 7 units FEFO: drains b1 and takes 2 from b2.
	Consume(&p, "", 7, now)
	if p.StockQty != 8 {
		t.Fatalf("stock after consume = %d, want 8", p.StockQty)
	}
	for _, b := range p.Batches {
		switch b.ID {
		case "b1":
			if b.Remaining != 0 {
				t.Fatalf("b1 remaining = %d, want 0", b.Remaining)
			}
		case "b2":
			if b.Remaining != 8 {
				t.Fatalf("b2 remaining = %d, want 8", b.Remaining)
			}
		}
	}

	// What is left only admits allocations that fit.
	if _, err := Allocate(p, "", 9, now); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock after consume, got %v", err)
	}
	if _, err := Allocate(p, "", 8, now); err != nil {
		t.Fatalf("remaining 8 should allocate: %v", err)
	}

	// A pinned consume hits only its own batch.
	p2 := testProduct()
	Consume(&p2, "b2", 4, now)
	if p2.Batches[0].Remaining != 6 || p2.Batches[1].Remaining != 5 {
		t.Fatalf("pinned consume touched the wrong batch: %+v", p2.Batches)
	}
}

func TestResolvePrimaryBatch(t *testing.T) {
	p := testProduct()
	now := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	b, err := Resolve(p, "", 3, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b == nil || b.ID != "b1" {
		t.Fatalf("expected b1 primary, got %+v", b)
	}

	p.Batches = nil
	b, err = Resolve(p, "", 3, now)
	if err != nil || b != nil {
		t.Fatalf("expected nil batch for untracked product, got %+v, %v", b, err)
	}
}
