// Package httpapi exposes the terminal core to the register UI over local
// HTTP. Handlers translate between wire payloads and ledger/sync calls; all
// business rules live below this layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"larispos/terminal/internal/cache"
	"larispos/terminal/internal/client"
	"larispos/terminal/internal/discount"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/ledger"
	"larispos/terminal/internal/money"
	"larispos/terminal/internal/payment"
	"larispos/terminal/internal/store"
	"larispos/terminal/internal/syncer"
	"larispos/terminal/internal/units"
)

// Inventory is the product-lookup surface the API needs for cache refresh.
type Inventory interface {
	GetProduct(ctx context.Context, sku string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type API struct {
	ledger    *ledger.Ledger
	engine    *syncer.Engine
	inventory Inventory
	cache     cache.ProductCache
	format    domain.Formatting
}

func New(l *ledger.Ledger, engine *syncer.Engine, inventory Inventory, productCache cache.ProductCache, format domain.Formatting) *API {
	return &API{
		ledger:    l,
		engine:    engine,
		inventory: inventory,
		cache:     productCache,
		format:    format,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc("/api/v1/products/", a.handleProductBySKU)

	mux.HandleFunc("/api/v1/cart", a.handleCart)
	mux.HandleFunc("/api/v1/cart/items", a.handleCartItems)
	mux.HandleFunc("/api/v1/cart/items/", a.handleCartItemActions)
	mux.HandleFunc("/api/v1/cart/discount", a.handleDiscount)
	mux.HandleFunc("/api/v1/cart/payments", a.handlePayments)
	mux.HandleFunc("/api/v1/cart/payments/", a.handlePaymentActions)
	mux.HandleFunc("/api/v1/cart/change", a.handleCashChange)
	mux.HandleFunc("/api/v1/cart/validate", a.handleValidate)
	mux.HandleFunc("/api/v1/cart/complete", a.handleComplete)

	mux.HandleFunc("/api/v1/sync/queue", a.handleSyncQueue)
	mux.HandleFunc("/api/v1/sync/queue/", a.handleSyncQueueActions)
	mux.HandleFunc("/api/v1/sync/drain", a.handleSyncDrain)

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		products, err := a.inventory.ListProducts(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, p := range products {
			if err := a.cache.Put(r.Context(), p); err != nil {
				zap.S().Warnw("product cache refresh failed", "sku", p.SKU, "error", err)
			}
		}
	}
	products, err := a.cache.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleProductBySKU(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sku := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	if sku == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing sku"))
		return
	}
	if p, ok, err := a.cache.Get(r.Context(), sku); err == nil && ok {
		writeJSON(w, http.StatusOK, p)
		return
	}
	p, err := a.inventory.GetProduct(r.Context(), sku)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := a.cache.Put(r.Context(), *p); err != nil {
		zap.S().Warnw("product cache put failed", "sku", sku, "error", err)
	}
	writeJSON(w, http.StatusOK, p)
}

// cartItemView is the UI-facing rendering of a line: quantity and price in
// the active unit kind, amounts pre-formatted with the configured currency.
type cartItemView struct {
	domain.CartItem
	DisplayQuantity  string `json:"display_quantity"`
	DisplayUnitPrice string `json:"display_unit_price"`
	DisplayTotal     string `json:"display_total"`
	Mutation         string `json:"mutation,omitempty"`
}

type cartView struct {
	Sale       domain.Sale       `json:"sale"`
	Items      []cartItemView    `json:"items"`
	Totals     domain.SaleTotals `json:"totals"`
	Formatted  map[string]string `json:"formatted"`
	InProgress map[string]string `json:"in_progress,omitempty"`
}

func (a *API) cartView() cartView {
	sale := a.ledger.Sale()
	totals := a.ledger.Totals()
	states := a.ledger.MutationStates()

	items := make([]cartItemView, 0, len(sale.Items))
	inProgress := make(map[string]string, len(states))
	for _, item := range sale.Items {
		view := cartItemView{
			CartItem:         item,
			DisplayQuantity:  units.DisplayQuantity(item.SellableQty, item.UnitsPerStock, item.Unit),
			DisplayUnitPrice: a.ledger.FormatAmount(item.UnitPriceCents),
			DisplayTotal:     a.ledger.FormatAmount(item.TotalCents),
		}
		if kind, ok := states[item.ID]; ok {
			view.Mutation = string(kind)
			inProgress[item.ID] = string(kind)
		}
		items = append(items, view)
	}

	return cartView{
		Sale:   sale,
		Items:  items,
		Totals: totals,
		Formatted: map[string]string{
			"subtotal":    a.ledger.FormatAmount(totals.SubtotalCents),
			"discount":    a.ledger.FormatAmount(totals.DiscountCents),
			"grand_total": a.ledger.FormatAmount(totals.GrandTotalCents),
			"paid":        a.ledger.FormatAmount(totals.PaidCents),
			"due":         a.ledger.FormatAmount(totals.DueCents),
		},
		InProgress: inProgress,
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.cartView())
	case http.MethodDelete:
		if err := a.ledger.NewSale(); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.cartView())
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		SKU      string `json:"sku"`
		Quantity string `json:"quantity"`
		Unit     string `json:"unit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.ledger.AddItem(r.Context(), req.SKU, req.Quantity, domain.UnitKind(req.Unit))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if itemID == "" || strings.Contains(itemID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("missing item id"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Quantity   *string `json:"quantity,omitempty"`
			UnitPrice  *string `json:"unit_price,omitempty"`
			Unit       *string `json:"unit,omitempty"`
			BatchID    *string `json:"batch_id,omitempty"`
			ClearBatch bool    `json:"clear_batch,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.patchItem(r.Context(), itemID, req.Quantity, req.UnitPrice, req.Unit, req.BatchID, req.ClearBatch)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodDelete:
		if err := a.ledger.RemoveItem(r.Context(), itemID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.cartView())

	default:
		writeMethodNotAllowed(w)
	}
}

// patchItem applies one edit per request. Combining edits in a single patch
// would break the one-in-flight-mutation-per-item contract, so multiple set
// fields are rejected.
func (a *API) patchItem(ctx context.Context, itemID string, quantity, unitPrice, unit, batchID *string, clearBatch bool) (domain.CartItem, error) {
	set := 0
	for _, p := range []*string{quantity, unitPrice, unit, batchID} {
		if p != nil {
			set++
		}
	}
	if clearBatch {
		set++
	}
	if set != 1 {
		return domain.CartItem{}, errors.New("exactly one of quantity, unit_price, unit, batch_id, clear_batch must be set")
	}

	switch {
	case quantity != nil:
		return a.ledger.UpdateQuantity(ctx, itemID, *quantity)
	case unitPrice != nil:
		return a.ledger.UpdateUnitPrice(ctx, itemID, *unitPrice)
	case unit != nil:
		return a.ledger.UpdateUnitKind(ctx, itemID, domain.UnitKind(*unit))
	case batchID != nil:
		return a.ledger.UpdateBatch(ctx, itemID, *batchID)
	default:
		return a.ledger.ClearBatch(ctx, itemID)
	}
}

func (a *API) handleDiscount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Type    string  `json:"type"`
			Percent float64 `json:"percent,omitempty"`
			Amount  string  `json:"amount,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d := domain.Discount{Type: domain.DiscountType(req.Type), Percent: req.Percent}
		if req.Amount != "" {
			cents, err := money.Parse(req.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			d.AmountCents = cents
		}
		if err := a.ledger.SetDiscount(d); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.cartView())

	case http.MethodDelete:
		if err := a.ledger.SetDiscount(domain.Discount{}); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.cartView())

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Method string `json:"method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := a.ledger.AddPayment(r.Context(), domain.PaymentMethod(req.Method))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (a *API) handlePaymentActions(w http.ResponseWriter, r *http.Request) {
	lineID := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/payments/")
	if lineID == "" || strings.Contains(lineID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("missing payment line id"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Amount    *string `json:"amount,omitempty"`
			Method    *string `json:"method,omitempty"`
			Reference *string `json:"reference,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Amount != nil {
			if err := a.ledger.UpdatePaymentAmount(lineID, *req.Amount); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		if req.Method != nil {
			if err := a.ledger.UpdatePaymentMethod(lineID, domain.PaymentMethod(*req.Method)); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		if req.Reference != nil {
			if err := a.ledger.UpdatePaymentReference(lineID, *req.Reference); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, a.cartView())

	case http.MethodDelete:
		if err := a.ledger.RemovePayment(r.Context(), lineID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.cartView())

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCashChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	tendered, err := money.Parse(r.URL.Query().Get("tendered"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	change, err := a.ledger.CashChange(tendered)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"change_cents":   change,
		"display_change": a.ledger.FormatAmount(change),
	})
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	errs := a.ledger.Validate()
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  len(errs) == 0,
		"errors": messages,
	})
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	res, err := a.ledger.Complete(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSyncQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	entries, err := a.engine.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleSyncQueueActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sync/queue/")
	localID, action, _ := strings.Cut(rest, "/")
	if localID == "" || action != "retry" {
		writeError(w, http.StatusNotFound, errors.New("unknown sync action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	entry, err := a.engine.Retry(r.Context(), localID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Kick a drain so the retried entry does not wait for the next tick.
	go func() {
		if err := a.engine.Drain(context.Background()); err != nil && !errors.Is(err, syncer.ErrDrainInProgress) {
			zap.S().Warnw("drain after retry failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, entry)
}

func (a *API) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.engine.Drain(r.Context()); err != nil {
		if errors.Is(err, syncer.ErrDrainInProgress) {
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "already draining"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "drained"})
}

// writeDomainError maps core errors onto HTTP statuses so the UI can tell
// "fix your input" from "try again" from "someone else got there first".
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrMutationInFlight),
		errors.Is(err, ledger.ErrCompletionInFlight),
		errors.Is(err, payment.ErrLineLocked),
		errors.Is(err, units.ErrInsufficientStock),
		errors.Is(err, syncer.ErrDrainInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrItemNotFound),
		errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, units.ErrUnknownBatch),
		errors.Is(err, payment.ErrUnknownLine),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, client.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, client.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, client.ErrRejected),
		errors.Is(err, payment.ErrUnderpaid),
		errors.Is(err, payment.ErrOverpaid),
		errors.Is(err, payment.ErrNoPaymentLines):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, units.ErrInvalidQuantity),
		errors.Is(err, units.ErrFractionalQuantity),
		errors.Is(err, discount.ErrPercentOutOfRange),
		errors.Is(err, discount.ErrNegativeAmount),
		errors.Is(err, discount.ErrExceedsSubtotal),
		errors.Is(err, payment.ErrNothingDue),
		errors.Is(err, payment.ErrNegativeAmount),
		errors.Is(err, payment.ErrInvalidMethod),
		errors.Is(err, payment.ErrOverpayment),
		errors.Is(err, ledger.ErrNegativePrice),
		errors.Is(err, ledger.ErrInsufficientTender),
		errors.Is(err, ledger.ErrSaleCompleted):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		zap.S().Errorw("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
