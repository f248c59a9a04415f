// Package discount computes the cart-level discount value and post-discount
// total. There is no tax step anywhere in this system.
package discount

import (
	"errors"
	"fmt"

	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/money"
)

var (
	ErrPercentOutOfRange = errors.New("percentage discount out of range")
	ErrNegativeAmount    = errors.New("fixed discount amount must not be negative")
	ErrExceedsSubtotal   = errors.New("fixed discount exceeds subtotal")
)

// Value computes the discount in cents, clamped to [0, subtotal]. Clamping
// keeps derived totals well-formed even while the cashier is mid-edit; the
// range violations themselves are reported by Validate.
func Value(subtotalCents int64, d domain.Discount) int64 {
	var v int64
	switch d.Type {
	case domain.DiscountPercentage:
		v = money.Percent(subtotalCents, d.Percent)
	case domain.DiscountFixed:
		v = d.AmountCents
	default:
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > subtotalCents {
		return subtotalCents
	}
	return v
}

// GrandTotal is the subtotal minus the clamped discount value.
func GrandTotal(subtotalCents int64, d domain.Discount) int64 {
	return subtotalCents - Value(subtotalCents, d)
}

// Validate reports discount parameters that must block sale completion.
func Validate(subtotalCents int64, d domain.Discount) error {
	switch d.Type {
	case domain.DiscountPercentage:
		if d.Percent < 0 || d.Percent > 100 {
			return fmt.Errorf("%w: %.2f%%", ErrPercentOutOfRange, d.Percent)
		}
	case domain.DiscountFixed:
		if d.AmountCents < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeAmount, money.Format(d.AmountCents))
		}
		if d.AmountCents > subtotalCents {
			return fmt.Errorf("%w: %s > %s", ErrExceedsSubtotal, money.Format(d.AmountCents), money.Format(subtotalCents))
		}
	case "":
		// No discount set.
	default:
		return fmt.Errorf("unknown discount type %q", d.Type)
	}
	return nil
}
