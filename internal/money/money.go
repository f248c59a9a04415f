// Package money implements the fixed-scale cent arithmetic shared by every
// pricing component. All amounts are int64 minor units at scale 2, matching
// the sale service, so client-displayed totals never drift from the server's.
//
// Rounding is pinned to half away from zero ("half up" for the positive
// amounts the backend deals in) and applied at every fractional operation.
// Changing this rule is the single most common source of off-by-one-cent
// reconciliation failures against the server ledger.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// divRound divides n by d (d > 0) rounding half away from zero.
func divRound(n, d int64) int64 {
	q := n / d
	r := n % d
	if r < 0 {
		r = -r
		if 2*r >= d {
			return q - 1
		}
		return q
	}
	if 2*r >= d {
		return q + 1
	}
	return q
}

// Sum adds already-rounded cent amounts. Each operand is at scale 2 by
// construction, so no re-rounding happens on the way in.
func Sum(values ...int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// Mul computes unitCents x (num/den) cents. den must be positive; quantities
// expressed in stocking units arrive as rationals (sellable/factor) and the
// product is rounded once, at the end.
func Mul(unitCents, num, den int64) int64 {
	if den <= 0 {
		return 0
	}
	return divRound(unitCents*num, den)
}

// Percent computes pct% of amountCents. pct is held to two decimals before
// the multiplication, mirroring how the server evaluates percentage
// discounts.
func Percent(amountCents int64, pct float64) int64 {
	bp := int64(pct*100 + 0.5)
	if pct < 0 {
		bp = int64(pct*100 - 0.5)
	}
	return divRound(amountCents*bp, 10000)
}

// Parse converts a fixed-scale-2 decimal string ("12.34", "-0.50", "7") into
// cents. More than two fraction digits is an error, not a rounding site:
// wire amounts are already at scale 2.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q exceeds scale 2", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// Format renders cents as a fixed-scale-2 decimal string.
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
