package discount

import (
	"errors"
	"testing"

	"larispos/terminal/internal/domain"
)

func TestPercentageValue(t *testing.T) {
	d := domain.Discount{Type: domain.DiscountPercentage, Percent: 10}
	if got := Value(10000, d); got != 1000 {
		t.Fatalf("10%% of 100.00 = %d, want 1000", got)
	}
	if got := GrandTotal(10000, d); got != 9000 {
		t.Fatalf("grand total = %d, want 9000", got)
	}
}

func TestFixedValueClamped(t *testing.T) {
	d := domain.Discount{Type: domain.DiscountFixed, AmountCents: 2500}
	if got := Value(10000, d); got != 2500 {
		t.Fatalf("fixed = %d, want 2500", got)
	}
	if got := Value(2000, d); got != 2000 {
		t.Fatalf("clamped fixed = %d, want 2000", got)
	}
	if got := Value(2000, domain.Discount{Type: domain.DiscountFixed, AmountCents: -100}); got != 0 {
		t.Fatalf("negative fixed = %d, want 0", got)
	}
}

func TestValueBounds(t *testing.T) {
	// 0 <= discountValue <= subtotal for any input.
	cases := []domain.Discount{
		{Type: domain.DiscountPercentage, Percent: 150},
		{Type: domain.DiscountPercentage, Percent: -5},
		{Type: domain.DiscountFixed, AmountCents: 99999},
		{},
	}
	for _, d := range cases {
		for _, subtotal := range []int64{0, 1, 9999} {
			v := Value(subtotal, d)
			if v < 0 || v > subtotal {
				t.Fatalf("Value(%d, %+v) = %d out of bounds", subtotal, d, v)
			}
			if GrandTotal(subtotal, d) != subtotal-v {
				t.Fatalf("grand total drifted for %+v", d)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(10000, domain.Discount{Type: domain.DiscountPercentage, Percent: 101}); !errors.Is(err, ErrPercentOutOfRange) {
		t.Fatalf("expected percent range error, got %v", err)
	}
	if err := Validate(10000, domain.Discount{Type: domain.DiscountFixed, AmountCents: 10001}); !errors.Is(err, ErrExceedsSubtotal) {
		t.Fatalf("expected exceeds subtotal error, got %v", err)
	}
	if err := Validate(10000, domain.Discount{Type: domain.DiscountFixed, AmountCents: -100}); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative amount error, got %v", err)
	}
	if errors.Is(Validate(10000, domain.Discount{Type: domain.DiscountFixed, AmountCents: -100}), ErrExceedsSubtotal) {
		t.Fatal("negative amount must not report as exceeding the subtotal")
	}
	if err := Validate(10000, domain.Discount{Type: domain.DiscountPercentage, Percent: 100}); err != nil {
		t.Fatalf("100%% is valid: %v", err)
	}
	if err := Validate(10000, domain.Discount{}); err != nil {
		t.Fatalf("empty discount is valid: %v", err)
	}
}
