package domain

import "time"

// Batch is one inventory batch backing a product, as reported by the
// inventory service. Remaining is counted in sellable units.
type Batch struct {
	ID         string    `json:"id"`
	Number     string    `json:"batch_number"`
	Expiry     time.Time `json:"expiry_date"`
	Remaining  int64     `json:"remaining_quantity"`
	PriceCents int64     `json:"sale_price_cents"`
}

// Product is a cached read of the inventory service's record. The terminal
// never mutates stock figures locally; they are overwritten from confirmed
// server responses only.
type Product struct {
	ID               string  `json:"id"`
	SKU              string  `json:"sku"`
	Name             string  `json:"name"`
	StockingUnit     string  `json:"stocking_unit"`
	SellableUnit     string  `json:"sellable_unit"`
	UnitsPerStocking int64   `json:"units_per_stocking_unit"`
	StockQty         int64   `json:"stock_quantity"`
	StockAlertLevel  int64   `json:"stock_alert_level"`
	PriceCents       int64   `json:"price_cents"`
	Batches          []Batch `json:"available_batches"`
}

type UnitKind string

const (
	UnitStocking UnitKind = "stocking"
	UnitSellable UnitKind = "sellable"
)

func (u UnitKind) Valid() bool {
	return u == UnitStocking || u == UnitSellable
}

// CartItem is one priced line of an in-progress sale. SellableQty is the
// canonical quantity; the active unit kind only controls how the quantity and
// unit price are presented and entered.
type CartItem struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"product_id"`
	SKU           string   `json:"sku"`
	Name          string   `json:"name"`
	UnitsPerStock int64    `json:"units_per_stocking_unit"`
	SellableQty   int64    `json:"sellable_qty"`
	Unit          UnitKind `json:"unit"`

	// PriceCents and PriceUnit hold the canonical unit price in the unit
	// kind it was last set in. UnitPriceCents is the active-unit rendering;
	// totals always derive from the canonical price.
	PriceCents     int64      `json:"price_cents"`
	PriceUnit      UnitKind   `json:"price_unit,omitempty"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	TotalCents     int64      `json:"total_cents"`
	BatchID        string     `json:"batch_id,omitempty"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	BatchExpiry    *time.Time `json:"batch_expiry,omitempty"`
	// BatchPinned marks a manual batch choice; it stays in force until
	// explicitly cleared, even when quantity or unit kind change.
	BatchPinned  bool   `json:"batch_pinned,omitempty"`
	ServerItemID string `json:"server_item_id,omitempty"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount applies to the cart subtotal, never per line.
type Discount struct {
	Type        DiscountType `json:"type"`
	Percent     float64      `json:"percent,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
}

type PaymentMethod string

const (
	PayCash         PaymentMethod = "cash"
	PayVisa         PaymentMethod = "visa"
	PayMastercard   PaymentMethod = "mastercard"
	PayBankTransfer PaymentMethod = "bank_transfer"
	PayMada         PaymentMethod = "mada"
	PayStoreCredit  PaymentMethod = "store_credit"
	PayOther        PaymentMethod = "other"
	PayRefund       PaymentMethod = "refund"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PayCash: {}, PayVisa: {}, PayMastercard: {}, PayBankTransfer: {},
	PayMada: {}, PayStoreCredit: {}, PayOther: {}, PayRefund: {},
}

func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethods[m]
	return ok
}

// IsRefund reports whether the method carries a negative contribution to the
// paid total.
func (m PaymentMethod) IsRefund() bool {
	return m == PayRefund
}

// PaymentLine is one payment against a sale. AmountCents is signed: refund
// lines carry a negative amount. Locked lines were fetched from an already
// persisted sale and are excluded from edits and rebalancing.
type PaymentLine struct {
	ID          string        `json:"id"`
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
	Reference   string        `json:"reference,omitempty"`
	Locked      bool          `json:"locked,omitempty"`
	ServerID    string        `json:"server_id,omitempty"`
}

type SaleStatus string

const (
	SaleDraft         SaleStatus = "draft"
	SalePartiallyPaid SaleStatus = "partially_paid"
	SaleFullyPaid     SaleStatus = "fully_paid"
	SaleCompleted     SaleStatus = "completed"
)

// Sale is the aggregate root of one checkout. ID is absent until the sale
// service first persists it. All totals are derived, never stored.
type Sale struct {
	ID             string        `json:"id,omitempty"`
	Items          []CartItem    `json:"items"`
	Discount       Discount      `json:"discount"`
	Payments       []PaymentLine `json:"payments"`
	Status         SaleStatus    `json:"status"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SaleTotals is the derived view exposed to the UI layer.
type SaleTotals struct {
	SubtotalCents   int64 `json:"subtotal_cents"`
	DiscountCents   int64 `json:"discount_cents"`
	GrandTotalCents int64 `json:"grand_total_cents"`
	PaidCents       int64 `json:"paid_cents"`
	DueCents        int64 `json:"due_cents"`
}

type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncSynced   SyncStatus = "synced"
	SyncFailed   SyncStatus = "failed"
	SyncRejected SyncStatus = "rejected"
)

// OfflineSale is a completed sale waiting for reconciliation with the sale
// service. LocalID orders the queue; the entry is deleted only after the
// server confirms the sale.
type OfflineSale struct {
	LocalID        string     `json:"local_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Sale           Sale       `json:"sale"`
	Status         SyncStatus `json:"sync_status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ServerSaleID   string     `json:"server_sale_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type MutationKind string

const (
	MutationUpdating MutationKind = "updating"
	MutationDeleting MutationKind = "deleting"
)

// Formatting is passed explicitly into display helpers so the core carries no
// process-wide formatting state.
type Formatting struct {
	CurrencySymbol string `json:"currency_symbol"`
	SymbolSuffix   bool   `json:"symbol_suffix"`
}
