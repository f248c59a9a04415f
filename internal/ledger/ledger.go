// Package ledger owns the in-progress sale: its cart lines, discount and
// payment lines, and the derived totals. Every mutation either fully
// succeeds or leaves the sale untouched, and at most one mutation per cart
// item may be in flight at a time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"larispos/terminal/internal/cache"
	"larispos/terminal/internal/client"
	"larispos/terminal/internal/discount"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/money"
	"larispos/terminal/internal/payment"
	"larispos/terminal/internal/syncer"
	"larispos/terminal/internal/units"
	"larispos/terminal/internal/xid"
)

var (
	ErrMutationInFlight   = errors.New("another mutation for this item is in flight")
	ErrCompletionInFlight = errors.New("sale completion is in flight")
	ErrItemNotFound       = errors.New("cart item not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrSaleCompleted      = errors.New("sale already completed")
	ErrNegativePrice      = errors.New("unit price must not be negative")
	ErrInsufficientTender = errors.New("tendered amount is below the amount due")
)

// Inventory is the product-lookup slice of the inventory client.
type Inventory interface {
	GetProduct(ctx context.Context, sku string) (*domain.Product, error)
}

// SaleService is the slice of the sale client the ledger calls directly:
// submission plus the item and payment edits that must route through the
// server once a sale is persisted there.
type SaleService interface {
	CreateSale(ctx context.Context, req client.CreateSaleRequest) (*client.SaleCommitted, error)
	PatchSaleItem(ctx context.Context, saleID, itemID string, patch client.SaleItemPatch) error
	DeleteSaleItem(ctx context.Context, saleID, itemID string) error
	AddSalePayment(ctx context.Context, saleID string, payment client.PaymentPayload) (string, error)
	DeleteSalePayment(ctx context.Context, saleID, paymentID string) error
}

// Enqueuer accepts a completed sale for offline reconciliation.
type Enqueuer interface {
	Enqueue(ctx context.Context, sale domain.Sale) (domain.OfflineSale, error)
}

type Ledger struct {
	mu       sync.Mutex
	sale     domain.Sale
	payments *payment.Allocator
	inFlight map[string]domain.MutationKind
	// completing freezes the sale while a submission round-trip is in
	// flight, so the snapshot sent to the server is the sale that gets
	// stamped completed.
	completing bool

	inventory Inventory
	sales     SaleService
	offline   Enqueuer
	cache     cache.ProductCache
	format    domain.Formatting
	now       func() time.Time
}

func New(inventory Inventory, sales SaleService, offline Enqueuer, productCache cache.ProductCache, format domain.Formatting) *Ledger {
	l := &Ledger{
		inventory: inventory,
		sales:     sales,
		offline:   offline,
		cache:     productCache,
		format:    format,
		now:       time.Now,
	}
	l.reset()
	return l
}

func (l *Ledger) reset() {
	l.sale = domain.Sale{Status: domain.SaleDraft, CreatedAt: l.now().UTC()}
	l.payments = payment.New(nil)
	l.inFlight = make(map[string]domain.MutationKind)
}

// NewSale discards the current sale and starts a fresh draft. It is rejected
// while a completion submit is in flight; a completed sale may be discarded.
func (l *Ledger) NewSale() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.completing {
		return ErrCompletionInFlight
	}
	l.reset()
	return nil
}

// Resume loads a sale fetched from the sale service. Its payment lines are
// locked against edits and excluded from rebalancing.
func (l *Ledger) Resume(sale domain.Sale) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range sale.Payments {
		if sale.Payments[i].ServerID != "" {
			sale.Payments[i].Locked = true
		}
	}
	l.sale = sale
	l.payments = payment.New(sale.Payments)
	l.inFlight = make(map[string]domain.MutationKind)
}

// begin claims the per-item mutation slot. Callers must release with end.
func (l *Ledger) begin(itemID string, kind domain.MutationKind) error {
	if existing, ok := l.inFlight[itemID]; ok {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, existing)
	}
	l.inFlight[itemID] = kind
	return nil
}

func (l *Ledger) end(itemID string) {
	delete(l.inFlight, itemID)
}

func (l *Ledger) lookupProduct(ctx context.Context, sku string) (*domain.Product, error) {
	if p, ok, err := l.cache.Get(ctx, sku); err == nil && ok {
		return p, nil
	}
	p, err := l.inventory.GetProduct(ctx, sku)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, sku)
		}
		return nil, err
	}
	if err := l.cache.Put(ctx, *p); err != nil {
		zap.S().Warnw("product cache put failed", "sku", sku, "error", err)
	}
	return p, nil
}

// canonicalPrice returns the price a line's totals derive from, falling back
// to the active-unit price for lines loaded without the canonical fields.
func canonicalPrice(item domain.CartItem) (int64, domain.UnitKind) {
	if item.PriceUnit.Valid() {
		return item.PriceCents, item.PriceUnit
	}
	return item.UnitPriceCents, item.Unit
}

// lineTotal recomputes an item's total from its quantity and canonical unit
// price: total = round(quantity × unitPrice). With a sellable-unit price the
// product is exact; with a stocking-unit price the quantity is the rational
// sellableQty/factor and the single rounding happens here.
func lineTotal(item domain.CartItem) int64 {
	price, unit := canonicalPrice(item)
	if unit == domain.UnitStocking && item.UnitsPerStock > 1 {
		return money.Mul(price, item.SellableQty, item.UnitsPerStock)
	}
	return item.SellableQty * price
}

// displayPrice renders the canonical price in the line's active unit kind.
// Going up to stocking units is exact; going down rounds for display only
// and is never fed back into the canonical price.
func displayPrice(item domain.CartItem) int64 {
	price, unit := canonicalPrice(item)
	if unit == item.Unit || item.UnitsPerStock <= 1 {
		return price
	}
	if item.Unit == domain.UnitStocking {
		return price * item.UnitsPerStock
	}
	return money.Mul(price, 1, item.UnitsPerStock)
}

// applyBatch stamps the resolved batch (or clears it) and re-derives the
// line's price from the batch's sale price.
func applyBatch(item *domain.CartItem, b *domain.Batch, pinned bool) {
	if b == nil {
		item.BatchID, item.BatchNumber, item.BatchExpiry = "", "", nil
		item.BatchPinned = false
		return
	}
	item.BatchID = b.ID
	item.BatchNumber = b.Number
	if b.Expiry.IsZero() {
		item.BatchExpiry = nil
	} else {
		expiry := b.Expiry
		item.BatchExpiry = &expiry
	}
	item.BatchPinned = pinned
	if b.PriceCents > 0 {
		item.PriceCents = b.PriceCents
		item.PriceUnit = domain.UnitSellable
		item.UnitPriceCents = displayPrice(*item)
	}
}

// AddItem adds a product to the sale. The quantity is a decimal string in
// the given unit kind; stock is validated locally against the cached figures
// before the line is committed.
func (l *Ledger) AddItem(ctx context.Context, sku, qty string, unit domain.UnitKind) (domain.CartItem, error) {
	if unit == "" {
		unit = domain.UnitSellable
	}
	if !unit.Valid() {
		return domain.CartItem{}, fmt.Errorf("%w: unit %q", units.ErrInvalidQuantity, unit)
	}

	p, err := l.lookupProduct(ctx, sku)
	if err != nil {
		return domain.CartItem{}, err
	}
	factor := p.UnitsPerStocking
	if factor < 1 {
		factor = 1
	}
	sellable, err := units.ToSellable(qty, unit, factor)
	if err != nil {
		return domain.CartItem{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.editableLocked(); err != nil {
		return domain.CartItem{}, err
	}
	view := l.availableStockLocked(p, "")
	batch, err := units.Resolve(view, "", sellable, l.now())
	if err != nil {
		return domain.CartItem{}, err
	}

	item := domain.CartItem{
		ID:            xid.New("item_"),
		ProductID:     p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		UnitsPerStock: factor,
		SellableQty:   sellable,
		Unit:          unit,
		PriceCents:    p.PriceCents,
		PriceUnit:     domain.UnitSellable,
	}
	item.UnitPriceCents = displayPrice(item)
	applyBatch(&item, batch, false)
	item.TotalCents = lineTotal(item)
	l.sale.Items = append(l.sale.Items, item)
	l.afterTotalsChange()
	return item, nil
}

// editableLocked rejects mutations once the sale is completed or while a
// completion submit is in flight.
func (l *Ledger) editableLocked() error {
	if l.sale.Status == domain.SaleCompleted {
		return ErrSaleCompleted
	}
	if l.completing {
		return ErrCompletionInFlight
	}
	return nil
}

// availableStockLocked returns a view of the product with the quantities the
// sale's other lines already claim deducted, so every line validates against
// what is genuinely left rather than the full cached stock.
func (l *Ledger) availableStockLocked(p *domain.Product, excludeItemID string) domain.Product {
	view := *p
	view.Batches = slices.Clone(p.Batches)
	for _, it := range l.sale.Items {
		if it.ID == excludeItemID || it.ProductID != p.ID {
			continue
		}
		pinned := ""
		if it.BatchPinned {
			pinned = it.BatchID
		}
		units.Consume(&view, pinned, it.SellableQty, l.now())
	}
	return view
}

func (l *Ledger) availableStock(p *domain.Product, excludeItemID string) domain.Product {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableStockLocked(p, excludeItemID)
}

// UpdateQuantity changes a line's quantity, given in the line's active unit
// kind. A pinned batch is re-validated against its own remaining quantity;
// otherwise the FEFO resolution is redone. For server-persisted items the
// server is patched first and the local state only commits on success.
func (l *Ledger) UpdateQuantity(ctx context.Context, itemID, qty string) (domain.CartItem, error) {
	return l.mutateItem(ctx, itemID, domain.MutationUpdating, func(ctx context.Context, item *domain.CartItem) error {
		sellable, err := units.ToSellable(qty, item.Unit, item.UnitsPerStock)
		if err != nil {
			return err
		}
		if err := l.revalidateBatch(ctx, item, sellable); err != nil {
			return err
		}
		if item.ServerItemID != "" {
			total := money.Format(lineTotalFor(*item, sellable))
			patch := client.SaleItemPatch{Quantity: &sellable, Total: &total}
			if err := l.sales.PatchSaleItem(ctx, l.saleID(), item.ServerItemID, patch); err != nil {
				return err
			}
		}
		item.SellableQty = sellable
		item.TotalCents = lineTotal(*item)
		return nil
	})
}

func lineTotalFor(item domain.CartItem, sellable int64) int64 {
	item.SellableQty = sellable
	return lineTotal(item)
}

// UpdateUnitKind switches the line between stocking and sellable display.
// The canonical quantity and price are unchanged; only their renderings move,
// so toggling back and forth never shifts the total.
func (l *Ledger) UpdateUnitKind(ctx context.Context, itemID string, unit domain.UnitKind) (domain.CartItem, error) {
	if !unit.Valid() {
		return domain.CartItem{}, fmt.Errorf("%w: unit %q", units.ErrInvalidQuantity, unit)
	}
	return l.mutateItem(ctx, itemID, domain.MutationUpdating, func(ctx context.Context, item *domain.CartItem) error {
		if item.Unit == unit {
			return nil
		}
		if err := l.revalidateBatch(ctx, item, item.SellableQty); err != nil {
			return err
		}
		// Pin down the canonical price before the active unit moves, for
		// lines loaded without the canonical fields.
		item.PriceCents, item.PriceUnit = canonicalPrice(*item)
		item.Unit = unit
		item.UnitPriceCents = displayPrice(*item)
		item.TotalCents = lineTotal(*item)
		return nil
	})
}

// UpdateUnitPrice overrides a line's price in its active unit kind.
func (l *Ledger) UpdateUnitPrice(ctx context.Context, itemID, price string) (domain.CartItem, error) {
	cents, err := money.Parse(price)
	if err != nil {
		return domain.CartItem{}, err
	}
	if cents < 0 {
		return domain.CartItem{}, ErrNegativePrice
	}
	return l.mutateItem(ctx, itemID, domain.MutationUpdating, func(ctx context.Context, item *domain.CartItem) error {
		if item.ServerItemID != "" {
			unitPrice := money.Format(cents)
			patch := client.SaleItemPatch{UnitPrice: &unitPrice}
			if err := l.sales.PatchSaleItem(ctx, l.saleID(), item.ServerItemID, patch); err != nil {
				return err
			}
		}
		item.PriceCents = cents
		item.PriceUnit = item.Unit
		item.UnitPriceCents = cents
		item.TotalCents = lineTotal(*item)
		return nil
	})
}

// UpdateBatch pins a line to a specific batch. The pin is sticky: quantity
// and unit edits keep validating against this batch until ClearBatch.
func (l *Ledger) UpdateBatch(ctx context.Context, itemID, batchID string) (domain.CartItem, error) {
	return l.mutateItem(ctx, itemID, domain.MutationUpdating, func(ctx context.Context, item *domain.CartItem) error {
		p, err := l.lookupProduct(ctx, item.SKU)
		if err != nil {
			return err
		}
		view := l.availableStock(p, item.ID)
		batch, err := units.Resolve(view, batchID, item.SellableQty, l.now())
		if err != nil {
			return err
		}
		if item.ServerItemID != "" {
			patch := client.SaleItemPatch{BatchID: &batchID}
			if err := l.sales.PatchSaleItem(ctx, l.saleID(), item.ServerItemID, patch); err != nil {
				return err
			}
		}
		applyBatch(item, batch, true)
		item.TotalCents = lineTotal(*item)
		return nil
	})
}

// ClearBatch removes a manual pin and falls back to FEFO resolution.
func (l *Ledger) ClearBatch(ctx context.Context, itemID string) (domain.CartItem, error) {
	return l.mutateItem(ctx, itemID, domain.MutationUpdating, func(ctx context.Context, item *domain.CartItem) error {
		p, err := l.lookupProduct(ctx, item.SKU)
		if err != nil {
			return err
		}
		view := l.availableStock(p, item.ID)
		batch, err := units.Resolve(view, "", item.SellableQty, l.now())
		if err != nil {
			return err
		}
		applyBatch(item, batch, false)
		item.TotalCents = lineTotal(*item)
		return nil
	})
}

// RemoveItem deletes a line. An item already persisted server-side routes
// the removal through the sale service so the committed stock deduction is
// reversed there; it is never removed purely locally.
func (l *Ledger) RemoveItem(ctx context.Context, itemID string) error {
	l.mu.Lock()
	if err := l.editableLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	idx := l.indexOf(itemID)
	if idx < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err := l.begin(itemID, domain.MutationDeleting); err != nil {
		l.mu.Unlock()
		return err
	}
	item := l.sale.Items[idx]
	saleID := l.sale.ID
	l.mu.Unlock()

	if item.ServerItemID != "" {
		if err := l.sales.DeleteSaleItem(ctx, saleID, item.ServerItemID); err != nil {
			l.mu.Lock()
			l.end(itemID)
			l.mu.Unlock()
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.end(itemID)
	if idx = l.indexOf(itemID); idx >= 0 {
		l.sale.Items = append(l.sale.Items[:idx], l.sale.Items[idx+1:]...)
	}
	l.afterTotalsChange()
	return nil
}

// mutateItem runs fn against a copy of the item under the per-item guard and
// commits the copy back only when fn succeeds. The ledger lock is dropped
// while fn runs so other items stay editable during network round-trips.
func (l *Ledger) mutateItem(ctx context.Context, itemID string, kind domain.MutationKind, fn func(context.Context, *domain.CartItem) error) (domain.CartItem, error) {
	l.mu.Lock()
	if err := l.editableLocked(); err != nil {
		l.mu.Unlock()
		return domain.CartItem{}, err
	}
	idx := l.indexOf(itemID)
	if idx < 0 {
		l.mu.Unlock()
		return domain.CartItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err := l.begin(itemID, kind); err != nil {
		l.mu.Unlock()
		return domain.CartItem{}, err
	}
	work := l.sale.Items[idx]
	l.mu.Unlock()

	err := fn(ctx, &work)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.end(itemID)
	if err != nil {
		return domain.CartItem{}, err
	}
	if idx = l.indexOf(itemID); idx < 0 {
		return domain.CartItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	l.sale.Items[idx] = work
	l.afterTotalsChange()
	return work, nil
}

// revalidateBatch checks the new quantity against the pinned batch's own
// remaining quantity when a pin is set, or redoes FEFO resolution otherwise.
func (l *Ledger) revalidateBatch(ctx context.Context, item *domain.CartItem, sellable int64) error {
	p, err := l.lookupProduct(ctx, item.SKU)
	if err != nil {
		return err
	}
	pinned := ""
	if item.BatchPinned {
		pinned = item.BatchID
	}
	view := l.availableStock(p, item.ID)
	batch, err := units.Resolve(view, pinned, sellable, l.now())
	if err != nil {
		return err
	}
	if !item.BatchPinned {
		resolvedID := ""
		if batch != nil {
			resolvedID = batch.ID
		}
		// Restamp only on an actual change so a manual price override
		// survives quantity edits within the same batch.
		if resolvedID != item.BatchID {
			applyBatch(item, batch, false)
		}
	}
	return nil
}

func (l *Ledger) saleID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sale.ID
}

func (l *Ledger) indexOf(itemID string) int {
	for i := range l.sale.Items {
		if l.sale.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// afterTotalsChange is called with the lock held after any mutation that can
// move the subtotal or discount: it rebalances the unlocked payment lines and
// invalidates the idempotency key, since the sale is no longer the same
// logical submission.
func (l *Ledger) afterTotalsChange() {
	l.payments.Rebalance(l.grandTotalLocked())
	l.sale.Payments = l.payments.Lines()
	l.sale.Status = l.payments.Status(l.grandTotalLocked())
	l.sale.IdempotencyKey = ""
}

func (l *Ledger) subtotalLocked() int64 {
	totals := make([]int64, 0, len(l.sale.Items))
	for _, item := range l.sale.Items {
		totals = append(totals, item.TotalCents)
	}
	return money.Sum(totals...)
}

func (l *Ledger) grandTotalLocked() int64 {
	return discount.GrandTotal(l.subtotalLocked(), l.sale.Discount)
}

// SetDiscount replaces the sale-level discount after validating it against
// the current subtotal.
func (l *Ledger) SetDiscount(d domain.Discount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.editableLocked(); err != nil {
		return err
	}
	if err := discount.Validate(l.subtotalLocked(), d); err != nil {
		return err
	}
	l.sale.Discount = d
	l.afterTotalsChange()
	return nil
}

// AddPayment appends a payment line defaulting to the current amount due.
// On a sale already persisted server-side the line is pushed to the sale
// service as well; the server's payment id locks it against local edits.
func (l *Ledger) AddPayment(ctx context.Context, method domain.PaymentMethod) (domain.PaymentLine, error) {
	l.mu.Lock()
	if err := l.editableLocked(); err != nil {
		l.mu.Unlock()
		return domain.PaymentLine{}, err
	}
	line, err := l.payments.AddLine(method, l.grandTotalLocked())
	if err != nil {
		l.mu.Unlock()
		return domain.PaymentLine{}, err
	}
	l.syncPaymentsLocked()
	saleID := l.sale.ID
	l.mu.Unlock()

	if saleID == "" {
		return line, nil
	}
	serverID, err := l.sales.AddSalePayment(ctx, saleID, client.PaymentPayload{
		Method:    string(line.Method),
		Amount:    money.Format(line.AmountCents),
		Reference: line.Reference,
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		// Roll the local line back so failure leaves no partial state.
		_ = l.payments.RemoveLine(line.ID)
		l.syncPaymentsLocked()
		return domain.PaymentLine{}, err
	}
	_ = l.payments.MarkPersisted(line.ID, serverID)
	l.sale.Payments = l.payments.Lines()
	line.ServerID = serverID
	line.Locked = true
	return line, nil
}

// RemovePayment deletes an unlocked payment line. A server-persisted line is
// deleted on the server first.
func (l *Ledger) RemovePayment(ctx context.Context, lineID string) error {
	l.mu.Lock()
	if err := l.editableLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	var serverID string
	for _, line := range l.payments.Lines() {
		if line.ID == lineID {
			serverID = line.ServerID
		}
	}
	saleID := l.sale.ID
	l.mu.Unlock()

	if serverID != "" {
		if err := l.sales.DeleteSalePayment(ctx, saleID, serverID); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if serverID != "" {
		if err := l.payments.RemoveServerLine(lineID); err != nil {
			return err
		}
	} else if err := l.payments.RemoveLine(lineID); err != nil {
		return err
	}
	l.syncPaymentsLocked()
	return nil
}

func (l *Ledger) UpdatePaymentAmount(lineID, amount string) error {
	cents, err := money.Parse(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.editableLocked(); err != nil {
		return err
	}
	if err := l.payments.UpdateAmount(lineID, cents, l.grandTotalLocked()); err != nil {
		return err
	}
	l.syncPaymentsLocked()
	return nil
}

func (l *Ledger) UpdatePaymentMethod(lineID string, method domain.PaymentMethod) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.editableLocked(); err != nil {
		return err
	}
	if err := l.payments.UpdateMethod(lineID, method); err != nil {
		return err
	}
	l.syncPaymentsLocked()
	return nil
}

func (l *Ledger) UpdatePaymentReference(lineID, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.editableLocked(); err != nil {
		return err
	}
	if err := l.payments.UpdateReference(lineID, reference); err != nil {
		return err
	}
	l.syncPaymentsLocked()
	return nil
}

func (l *Ledger) syncPaymentsLocked() {
	l.sale.Payments = l.payments.Lines()
	l.sale.Status = l.payments.Status(l.grandTotalLocked())
	l.sale.IdempotencyKey = ""
}

// Totals returns the derived figures; they are computed fresh on every call
// and never stored.
func (l *Ledger) Totals() domain.SaleTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalsLocked()
}

func (l *Ledger) totalsLocked() domain.SaleTotals {
	subtotal := l.subtotalLocked()
	discountValue := discount.Value(subtotal, l.sale.Discount)
	grand := subtotal - discountValue
	paid := l.payments.Paid()
	return domain.SaleTotals{
		SubtotalCents:   subtotal,
		DiscountCents:   discountValue,
		GrandTotalCents: grand,
		PaidCents:       paid,
		DueCents:        grand - paid,
	}
}

// Sale returns a snapshot of the current sale.
func (l *Ledger) Sale() domain.Sale {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() domain.Sale {
	snap := l.sale
	snap.Items = append([]domain.CartItem(nil), l.sale.Items...)
	snap.Payments = l.payments.Lines()
	return snap
}

// MutationStates reports the per-item in-flight flags for the UI.
func (l *Ledger) MutationStates() map[string]domain.MutationKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.MutationKind, len(l.inFlight))
	for id, kind := range l.inFlight {
		out[id] = kind
	}
	return out
}

// Validate returns every violated completion invariant, one error each.
func (l *Ledger) Validate() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validateLocked()
}

func (l *Ledger) validateLocked() []error {
	subtotal := l.subtotalLocked()
	return l.payments.Validate(subtotal, l.sale.Discount, discount.GrandTotal(subtotal, l.sale.Discount))
}

// CashChange computes the change owed when the cashier takes tendered cash
// against the current amount due. The tendered amount never becomes a payment
// line by itself; the cashier records the due amount on the cash line and
// hands back the difference.
func (l *Ledger) CashChange(tenderedCents int64) (int64, error) {
	if tenderedCents < 0 {
		return 0, ErrNegativePrice
	}
	due := l.Totals().DueCents
	if due < 0 {
		due = 0
	}
	if tenderedCents < due {
		return 0, fmt.Errorf("%w: tendered %s against %s due",
			ErrInsufficientTender, money.Format(tenderedCents), money.Format(due))
	}
	return tenderedCents - due, nil
}

// FormatAmount renders cents with the configured currency symbol.
func (l *Ledger) FormatAmount(cents int64) string {
	s := money.Format(cents)
	if l.format.CurrencySymbol == "" {
		return s
	}
	if l.format.SymbolSuffix {
		return s + " " + l.format.CurrencySymbol
	}
	return l.format.CurrencySymbol + " " + s
}

// CompletionResult reports how a completed sale was committed: directly to
// the sale service, or durably queued for later sync.
type CompletionResult struct {
	Sale    domain.Sale        `json:"sale"`
	Queued  bool               `json:"queued"`
	Offline domain.OfflineSale `json:"offline,omitempty"`
}

// Complete validates the sale and submits it. A transient network failure is
// not an error at the point of sale: the sale is enqueued offline and the
// terminal moves on. The idempotency key is minted once per logical sale and
// reused by every retry, so a submission that actually landed before a
// timeout is deduplicated server-side.
func (l *Ledger) Complete(ctx context.Context) (CompletionResult, error) {
	l.mu.Lock()
	if err := l.editableLocked(); err != nil {
		l.mu.Unlock()
		return CompletionResult{}, err
	}
	if len(l.inFlight) > 0 {
		l.mu.Unlock()
		return CompletionResult{}, fmt.Errorf("%w: cannot submit", ErrMutationInFlight)
	}
	if errs := l.validateLocked(); len(errs) > 0 {
		l.mu.Unlock()
		return CompletionResult{}, errors.Join(errs...)
	}
	if l.sale.IdempotencyKey == "" {
		l.sale.IdempotencyKey = syncer.NewIdempotencyKey()
	}
	// Freeze the sale for the duration of the round-trip: the snapshot sent
	// to the server must be the sale that gets stamped completed.
	l.completing = true
	snapshot := l.snapshotLocked()
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.completing = false
		l.mu.Unlock()
	}()

	resp, err := l.sales.CreateSale(ctx, client.NewCreateSaleRequest(snapshot))
	switch {
	case err == nil:
		for _, figure := range resp.Stock {
			if cacheErr := l.cache.ApplyStock(ctx, figure.SKU, figure.StockQuantity, figure.DomainBatches()); cacheErr != nil {
				zap.S().Warnw("stock writeback failed", "sku", figure.SKU, "error", cacheErr)
			}
		}
		l.mu.Lock()
		l.sale.ID = resp.SaleID
		l.sale.Status = domain.SaleCompleted
		done := l.snapshotLocked()
		l.mu.Unlock()
		zap.S().Infow("sale completed online", "sale_id", resp.SaleID, "duplicate", resp.Duplicate)
		return CompletionResult{Sale: done}, nil

	case errors.Is(err, client.ErrUnavailable):
		snapshot.Status = domain.SaleCompleted
		entry, qErr := l.offline.Enqueue(ctx, snapshot)
		if qErr != nil {
			return CompletionResult{}, fmt.Errorf("offline enqueue after %v: %w", err, qErr)
		}
		l.mu.Lock()
		l.sale.Status = domain.SaleCompleted
		l.mu.Unlock()
		zap.S().Infow("sale completed offline", "local_id", entry.LocalID)
		return CompletionResult{Sale: snapshot, Queued: true, Offline: entry}, nil

	default:
		// Rejections and malformed responses abort only this attempt; the
		// sale stays editable with its state intact.
		return CompletionResult{}, err
	}
}
