// Package payment maintains the payment lines of a sale against its grand
// total and enforces the completion invariants.
package payment

import (
	"errors"
	"fmt"
	"slices"

	"larispos/terminal/internal/discount"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/money"
	"larispos/terminal/internal/xid"
)

var (
	ErrNothingDue     = errors.New("nothing due")
	ErrLineLocked     = errors.New("payment line is persisted server-side")
	ErrUnknownLine    = errors.New("unknown payment line")
	ErrNegativeAmount = errors.New("payment amount cannot be negative")
	ErrInvalidMethod  = errors.New("unsupported payment method")
	ErrOverpayment    = errors.New("edit would overpay the sale")
	ErrNoPaymentLines = errors.New("at least one payment line is required")
	ErrUnderpaid      = errors.New("paid total is below the grand total")
	ErrOverpaid       = errors.New("paid total exceeds the grand total")
)

// centTolerance is the reconciliation slack between paid and grand totals:
// one cent, matching the server's fully-paid check.
const centTolerance = 1

// Allocator owns the payment lines of one sale. It is not safe for
// concurrent use; the cart ledger serializes access.
type Allocator struct {
	lines []domain.PaymentLine
	// lastEdited is the id of the most recently added or edited unlocked
	// line. Rebalancing after a totals change targets this line, never
	// whichever line happens to sit last in the slice.
	lastEdited string
}

// New builds an allocator over existing payment lines. Lines fetched from an
// already persisted sale must arrive with Locked set; they are immutable and
// excluded from rebalancing.
func New(existing []domain.PaymentLine) *Allocator {
	return &Allocator{lines: slices.Clone(existing)}
}

func (a *Allocator) Lines() []domain.PaymentLine {
	return slices.Clone(a.lines)
}

// Paid sums all line amounts. Refund lines participate with their negative
// amounts.
func (a *Allocator) Paid() int64 {
	amounts := make([]int64, 0, len(a.lines))
	for _, l := range a.lines {
		amounts = append(amounts, l.AmountCents)
	}
	return money.Sum(amounts...)
}

func (a *Allocator) Due(grandTotalCents int64) int64 {
	return grandTotalCents - a.Paid()
}

// AddLine appends a new line defaulting to the current amount due.
func (a *Allocator) AddLine(method domain.PaymentMethod, grandTotalCents int64) (domain.PaymentLine, error) {
	if !method.Valid() {
		return domain.PaymentLine{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	due := a.Due(grandTotalCents)
	if due <= 0 {
		return domain.PaymentLine{}, ErrNothingDue
	}
	line := domain.PaymentLine{
		ID:          xid.New("pay"),
		Method:      method,
		AmountCents: due,
	}
	if method.IsRefund() {
		// A refund line never defaults to the amount due; the cashier sets
		// its magnitude explicitly.
		line.AmountCents = 0
	}
	a.lines = append(a.lines, line)
	a.lastEdited = line.ID
	return line, nil
}

func (a *Allocator) RemoveLine(id string) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	if a.lines[idx].Locked {
		return fmt.Errorf("%w: %s", ErrLineLocked, id)
	}
	a.lines = append(a.lines[:idx], a.lines[idx+1:]...)
	if a.lastEdited == id {
		a.lastEdited = ""
	}
	return nil
}

// UpdateAmount changes a line's amount. For non-refund lines the amount must
// be non-negative and a single edit may not push the paid total above the
// grand total by more than the line's own prior contribution. Refund amounts
// are normalized to negative.
func (a *Allocator) UpdateAmount(id string, amountCents, grandTotalCents int64) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	line := &a.lines[idx]
	if line.Locked {
		return fmt.Errorf("%w: %s", ErrLineLocked, id)
	}

	if line.Method.IsRefund() {
		if amountCents > 0 {
			amountCents = -amountCents
		}
	} else {
		if amountCents < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeAmount, money.Format(amountCents))
		}
		others := a.Paid() - line.AmountCents
		if amountCents > line.AmountCents && others+amountCents > grandTotalCents {
			return fmt.Errorf("%w: %s would pay %s against %s",
				ErrOverpayment, money.Format(amountCents),
				money.Format(others+amountCents), money.Format(grandTotalCents))
		}
	}

	line.AmountCents = amountCents
	a.lastEdited = id
	return nil
}

func (a *Allocator) UpdateMethod(id string, method domain.PaymentMethod) error {
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	if a.lines[idx].Locked {
		return fmt.Errorf("%w: %s", ErrLineLocked, id)
	}
	a.lines[idx].Method = method
	if method.IsRefund() && a.lines[idx].AmountCents > 0 {
		a.lines[idx].AmountCents = -a.lines[idx].AmountCents
	}
	a.lastEdited = id
	return nil
}

func (a *Allocator) UpdateReference(id, reference string) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	if a.lines[idx].Locked {
		return fmt.Errorf("%w: %s", ErrLineLocked, id)
	}
	a.lines[idx].Reference = reference
	return nil
}

// Rebalance absorbs a totals change into the most recently edited unlocked
// line, falling back to the newest unlocked non-refund line when that one is
// gone. Earlier lines and server-persisted lines are never touched.
func (a *Allocator) Rebalance(grandTotalCents int64) {
	idx := -1
	if a.lastEdited != "" {
		i := a.indexOf(a.lastEdited)
		if i >= 0 && !a.lines[i].Locked && !a.lines[i].Method.IsRefund() {
			idx = i
		}
	}
	if idx < 0 {
		for i := len(a.lines) - 1; i >= 0; i-- {
			if !a.lines[i].Locked && !a.lines[i].Method.IsRefund() {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return
	}
	others := a.Paid() - a.lines[idx].AmountCents
	amount := grandTotalCents - others
	if amount < 0 {
		amount = 0
	}
	a.lines[idx].AmountCents = amount
}

// RemoveServerLine removes a persisted line after the sale service has
// confirmed its deletion. The lock only guards against purely local removal.
func (a *Allocator) RemoveServerLine(id string) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	a.lines = append(a.lines[:idx], a.lines[idx+1:]...)
	if a.lastEdited == id {
		a.lastEdited = ""
	}
	return nil
}

// MarkPersisted records the server id for a line and locks it against
// further local edits and rebalancing.
func (a *Allocator) MarkPersisted(id, serverID string) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLine, id)
	}
	a.lines[idx].ServerID = serverID
	a.lines[idx].Locked = true
	if a.lastEdited == id {
		a.lastEdited = ""
	}
	return nil
}

// Status derives the payment leg of the sale state machine. Completed is set
// by the ledger once the server commits the sale, never here.
func (a *Allocator) Status(grandTotalCents int64) domain.SaleStatus {
	if len(a.lines) == 0 {
		return domain.SaleDraft
	}
	due := a.Due(grandTotalCents)
	if due >= -centTolerance && due <= centTolerance {
		return domain.SaleFullyPaid
	}
	return domain.SalePartiallyPaid
}

// Validate returns one error per violated completion invariant. Underpaid
// and overpaid are distinct kinds and never reported together; the remedy
// the cashier needs differs.
func (a *Allocator) Validate(subtotalCents int64, d domain.Discount, grandTotalCents int64) []error {
	var errs []error
	if len(a.lines) == 0 {
		errs = append(errs, ErrNoPaymentLines)
	}
	if err := discount.Validate(subtotalCents, d); err != nil {
		errs = append(errs, err)
	}
	due := a.Due(grandTotalCents)
	switch {
	case due > centTolerance:
		errs = append(errs, fmt.Errorf("%w: %s outstanding", ErrUnderpaid, money.Format(due)))
	case due < -centTolerance:
		errs = append(errs, fmt.Errorf("%w: %s over", ErrOverpaid, money.Format(-due)))
	}
	return errs
}

func (a *Allocator) indexOf(id string) int {
	for i := range a.lines {
		if a.lines[i].ID == id {
			return i
		}
	}
	return -1
}
