// Package units translates between a product's stocking and sellable units
// and resolves which inventory batches back a cart line. The canonical
// quantity everywhere else in the core is integer sellable units; this
// package owns the only conversions in or out of that representation.
package units

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"larispos/terminal/internal/domain"
)

var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrFractionalQuantity = errors.New("quantity does not resolve to whole sellable units")
	ErrUnknownBatch       = errors.New("unknown batch")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

// parseQty parses a decimal quantity with at most three fraction digits into
// thousandths. Three digits covers every stocking-unit factor worth entering
// by hand; finer input is rejected rather than silently rounded.
func parseQty(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidQuantity
	}
	whole, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	for len(frac) < 3 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	return w*1000 + f, nil
}

// ToSellable converts a quantity entered in the given unit kind into whole
// sellable units. A stocking quantity like "2.5" against a factor of 12
// resolves to 30; "2.5" against a factor of 3 is rejected because 7.5
// sellable units cannot exist.
func ToSellable(qty string, unit domain.UnitKind, factor int64) (int64, error) {
	if factor < 1 {
		return 0, fmt.Errorf("%w: conversion factor %d", ErrInvalidQuantity, factor)
	}
	milli, err := parseQty(qty)
	if err != nil {
		return 0, err
	}
	if milli == 0 {
		return 0, ErrInvalidQuantity
	}
	switch unit {
	case domain.UnitSellable:
		if milli%1000 != 0 {
			return 0, ErrFractionalQuantity
		}
		return milli / 1000, nil
	case domain.UnitStocking:
		n := milli * factor
		if n%1000 != 0 {
			return 0, ErrFractionalQuantity
		}
		return n / 1000, nil
	default:
		return 0, fmt.Errorf("%w: unit %q", ErrInvalidQuantity, unit)
	}
}

// ToStocking expresses a sellable quantity in stocking units as a reduced
// rational. Keeping the rational (rather than a decimal rendering) is what
// makes the conversion exactly reversible for every integer factor.
func ToStocking(sellable, factor int64) (num, den int64) {
	if factor < 1 {
		factor = 1
	}
	g := gcd(sellable, factor)
	if g == 0 {
		return 0, 1
	}
	return sellable / g, factor / g
}

// StockingToSellable is the inverse of ToStocking.
func StockingToSellable(num, den, factor int64) (int64, error) {
	if den < 1 || factor < 1 {
		return 0, ErrInvalidQuantity
	}
	n := num * factor
	if n%den != 0 {
		return 0, ErrFractionalQuantity
	}
	return n / den, nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// DisplayQuantity renders the canonical sellable quantity in the active unit
// kind for the UI. Stocking quantities that do not divide evenly are shown at
// three decimals; the canonical quantity is never derived back from this.
func DisplayQuantity(sellable, factor int64, unit domain.UnitKind) string {
	if unit != domain.UnitStocking || factor <= 1 {
		return strconv.FormatInt(sellable, 10)
	}
	if sellable%factor == 0 {
		return strconv.FormatInt(sellable/factor, 10)
	}
	milli := (sellable*1000 + factor/2) / factor
	s := fmt.Sprintf("%d.%03d", milli/1000, milli%1000)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Allocation assigns part of a line's quantity to one batch.
type Allocation struct {
	Batch domain.Batch
	Qty   int64
}

// fefoLess orders batches first-expiring-first-out. Batches without an
// expiry date sort last; ties break on batch number for determinism.
func fefoLess(a, b domain.Batch) int {
	switch {
	case a.Expiry.IsZero() && b.Expiry.IsZero():
	case a.Expiry.IsZero():
		return 1
	case b.Expiry.IsZero():
		return -1
	case a.Expiry.Before(b.Expiry):
		return -1
	case b.Expiry.Before(a.Expiry):
		return 1
	}
	return strings.Compare(a.Number, b.Number)
}

// Allocate resolves which batches back qty sellable units of the product.
// With a pinned batch the whole quantity must fit in that batch's remaining
// stock. Otherwise batches are consumed first-expiring-first-out, rolling to
// the next-earliest batch when one is exhausted. Expired batches never back
// a sale. The error is raised locally, before any network call.
func Allocate(p domain.Product, pinnedBatchID string, qty int64, now time.Time) ([]Allocation, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	if pinnedBatchID != "" {
		for _, b := range p.Batches {
			if b.ID != pinnedBatchID {
				continue
			}
			if qty > b.Remaining {
				return nil, fmt.Errorf("%w: batch %s has %d, need %d", ErrInsufficientStock, b.Number, b.Remaining, qty)
			}
			return []Allocation{{Batch: b, Qty: qty}}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownBatch, pinnedBatchID)
	}

	if len(p.Batches) == 0 {
		if qty > p.StockQty {
			return nil, fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientStock, p.SKU, p.StockQty, qty)
		}
		return nil, nil
	}

	today := now.UTC().Truncate(24 * time.Hour)
	batches := slices.Clone(p.Batches)
	slices.SortFunc(batches, fefoLess)

	allocations := make([]Allocation, 0, 2)
	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		if b.Remaining < 1 {
			continue
		}
		if !b.Expiry.IsZero() && b.Expiry.Before(today) {
			continue
		}
		used := remaining
		if used > b.Remaining {
			used = b.Remaining
		}
		allocations = append(allocations, Allocation{Batch: b, Qty: used})
		remaining -= used
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: %s short %d sellable units", ErrInsufficientStock, p.SKU, remaining)
	}
	return allocations, nil
}

// Consume deducts qty sellable units from a product view: from the pinned
// batch when one is set, otherwise in FEFO order, mirroring how Allocate
// assigns them. Callers use it to subtract the demand other cart lines
// already hold against the same product before validating a new line.
func Consume(p *domain.Product, pinnedBatchID string, qty int64, now time.Time) {
	if qty < 1 {
		return
	}
	p.StockQty -= qty
	if len(p.Batches) == 0 {
		return
	}
	if pinnedBatchID != "" {
		for i := range p.Batches {
			if p.Batches[i].ID == pinnedBatchID {
				p.Batches[i].Remaining -= qty
				return
			}
		}
		return
	}
	today := now.UTC().Truncate(24 * time.Hour)
	order := make([]int, 0, len(p.Batches))
	for i := range p.Batches {
		order = append(order, i)
	}
	slices.SortFunc(order, func(a, b int) int { return fefoLess(p.Batches[a], p.Batches[b]) })
	remaining := qty
	for _, i := range order {
		if remaining == 0 {
			return
		}
		b := &p.Batches[i]
		if b.Remaining < 1 {
			continue
		}
		if !b.Expiry.IsZero() && b.Expiry.Before(today) {
			continue
		}
		used := remaining
		if used > b.Remaining {
			used = b.Remaining
		}
		b.Remaining -= used
		remaining -= used
	}
}

// Resolve returns the batch a line displays: the pinned batch when one is
// set, otherwise the first batch of the FEFO allocation. A nil batch with a
// nil error means the product is not batch-tracked.
func Resolve(p domain.Product, pinnedBatchID string, qty int64, now time.Time) (*domain.Batch, error) {
	allocations, err := Allocate(p, pinnedBatchID, qty, now)
	if err != nil {
		return nil, err
	}
	if len(allocations) == 0 {
		return nil, nil
	}
	b := allocations[0].Batch
	return &b, nil
}
