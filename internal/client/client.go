// Package client talks to the inventory and sale services. It is the only
// place that maps transport failures into the taxonomy the rest of the core
// branches on: ErrRejected (the server understood and refused; fix the
// input) versus ErrUnavailable (timeout, connection failure, 5xx; retry
// later). Local validation errors never reach this package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/money"
)

var (
	ErrRejected    = errors.New("rejected by server")
	ErrUnavailable = errors.New("server unavailable")
	ErrNotFound    = errors.New("not found on server")
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

const expiryLayout = "2006-01-02"

type batchPayload struct {
	ID                string `json:"id"`
	BatchNumber       string `json:"batch_number"`
	ExpiryDate        string `json:"expiry_date,omitempty"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	SalePrice         string `json:"sale_price"`
}

type productPayload struct {
	ID                   string         `json:"id"`
	SKU                  string         `json:"sku"`
	Name                 string         `json:"name"`
	StockingUnit         string         `json:"stocking_unit"`
	SellableUnit         string         `json:"sellable_unit"`
	UnitsPerStockingUnit int64          `json:"units_per_stocking_unit"`
	StockQuantity        int64          `json:"stock_quantity"`
	StockAlertLevel      int64          `json:"stock_alert_level"`
	SalePrice            string         `json:"sale_price"`
	AvailableBatches     []batchPayload `json:"available_batches"`
}

func (p productPayload) toDomain() (domain.Product, error) {
	price, err := money.Parse(p.SalePrice)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s sale_price: %w", p.SKU, err)
	}
	out := domain.Product{
		ID:               p.ID,
		SKU:              p.SKU,
		Name:             p.Name,
		StockingUnit:     p.StockingUnit,
		SellableUnit:     p.SellableUnit,
		UnitsPerStocking: p.UnitsPerStockingUnit,
		StockQty:         p.StockQuantity,
		StockAlertLevel:  p.StockAlertLevel,
		PriceCents:       price,
	}
	if out.UnitsPerStocking < 1 {
		out.UnitsPerStocking = 1
	}
	for _, b := range p.AvailableBatches {
		batch, err := b.toDomain()
		if err != nil {
			return domain.Product{}, fmt.Errorf("product %s: %w", p.SKU, err)
		}
		out.Batches = append(out.Batches, batch)
	}
	return out, nil
}

func (b batchPayload) toDomain() (domain.Batch, error) {
	price, err := money.Parse(b.SalePrice)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("batch %s sale_price: %w", b.BatchNumber, err)
	}
	batch := domain.Batch{
		ID:         b.ID,
		Number:     b.BatchNumber,
		Remaining:  b.RemainingQuantity,
		PriceCents: price,
	}
	if b.ExpiryDate != "" {
		expiry, err := time.Parse(expiryLayout, b.ExpiryDate)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("batch %s expiry_date: %w", b.BatchNumber, err)
		}
		batch.Expiry = expiry.UTC()
	}
	return batch, nil
}

type SaleItemPayload struct {
	SKU       string `json:"sku"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Unit      string `json:"unit"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
	BatchID   string `json:"batch_id,omitempty"`
}

type DiscountPayload struct {
	Type    string  `json:"type,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Amount  string  `json:"amount,omitempty"`
}

type PaymentPayload struct {
	Method    string `json:"method"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type CreateSaleRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      string            `json:"created_at"`
	Items          []SaleItemPayload `json:"items"`
	Discount       DiscountPayload   `json:"discount"`
	Payments       []PaymentPayload  `json:"payments"`
}

type StockBatchFigure struct {
	ID                string `json:"id"`
	BatchNumber       string `json:"batch_number"`
	ExpiryDate        string `json:"expiry_date,omitempty"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	SalePrice         string `json:"sale_price"`
}

type StockFigure struct {
	SKU           string             `json:"sku"`
	StockQuantity int64              `json:"stock_quantity"`
	Batches       []StockBatchFigure `json:"available_batches"`
}

// SaleCommitted is the server's confirmation. Stock carries the
// authoritative post-sale figures that overwrite the local cache.
type SaleCommitted struct {
	SaleID    string        `json:"sale_id"`
	Status    string        `json:"status"`
	Duplicate bool          `json:"duplicate"`
	Stock     []StockFigure `json:"stock"`
}

// DomainBatches converts a stock figure's batches for the cache.
func (f StockFigure) DomainBatches() []domain.Batch {
	if f.Batches == nil {
		return nil
	}
	out := make([]domain.Batch, 0, len(f.Batches))
	for _, b := range f.Batches {
		batch := domain.Batch{ID: b.ID, Number: b.BatchNumber, Remaining: b.RemainingQuantity}
		if cents, err := money.Parse(b.SalePrice); err == nil {
			batch.PriceCents = cents
		}
		if b.ExpiryDate != "" {
			if expiry, err := time.Parse(expiryLayout, b.ExpiryDate); err == nil {
				batch.Expiry = expiry.UTC()
			}
		}
		out = append(out, batch)
	}
	return out
}

// NewCreateSaleRequest serializes a sale for submission. All monetary
// fields go on the wire as fixed-scale-2 decimal strings.
func NewCreateSaleRequest(sale domain.Sale) CreateSaleRequest {
	req := CreateSaleRequest{
		IdempotencyKey: sale.IdempotencyKey,
		CreatedAt:      sale.CreatedAt.UTC().Format(time.RFC3339),
		Discount: DiscountPayload{
			Type:    string(sale.Discount.Type),
			Percent: sale.Discount.Percent,
		},
	}
	if sale.Discount.Type == domain.DiscountFixed {
		req.Discount.Amount = money.Format(sale.Discount.AmountCents)
	}
	for _, item := range sale.Items {
		req.Items = append(req.Items, SaleItemPayload{
			SKU:       item.SKU,
			ProductID: item.ProductID,
			Quantity:  item.SellableQty,
			Unit:      string(item.Unit),
			UnitPrice: money.Format(item.UnitPriceCents),
			Total:     money.Format(item.TotalCents),
			BatchID:   item.BatchID,
		})
	}
	for _, line := range sale.Payments {
		req.Payments = append(req.Payments, PaymentPayload{
			Method:    string(line.Method),
			Amount:    money.Format(line.AmountCents),
			Reference: line.Reference,
		})
	}
	return req
}

func (c *Client) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	var payload productPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(sku), nil, &payload); err != nil {
		return nil, err
	}
	p, err := payload.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var payload struct {
		Products []productPayload `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(payload.Products))
	for _, pp := range payload.Products {
		p, err := pp.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) CreateSale(ctx context.Context, req CreateSaleRequest) (*SaleCommitted, error) {
	var resp SaleCommitted
	if err := c.do(ctx, http.MethodPost, "/api/v1/sales", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type SaleItemPatch struct {
	Quantity  *int64  `json:"quantity,omitempty"`
	UnitPrice *string `json:"unit_price,omitempty"`
	Total     *string `json:"total,omitempty"`
	BatchID   *string `json:"batch_id,omitempty"`
}

func (c *Client) PatchSaleItem(ctx context.Context, saleID, itemID string, patch SaleItemPatch) error {
	path := fmt.Sprintf("/api/v1/sales/%s/items/%s", url.PathEscape(saleID), url.PathEscape(itemID))
	return c.do(ctx, http.MethodPatch, path, patch, nil)
}

func (c *Client) DeleteSaleItem(ctx context.Context, saleID, itemID string) error {
	path := fmt.Sprintf("/api/v1/sales/%s/items/%s", url.PathEscape(saleID), url.PathEscape(itemID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) AddSalePayment(ctx context.Context, saleID string, payment PaymentPayload) (string, error) {
	var resp struct {
		PaymentID string `json:"payment_id"`
	}
	path := fmt.Sprintf("/api/v1/sales/%s/payments", url.PathEscape(saleID))
	if err := c.do(ctx, http.MethodPost, path, payment, &resp); err != nil {
		return "", err
	}
	return resp.PaymentID, nil
}

func (c *Client) DeleteSalePayment(ctx context.Context, saleID, paymentID string) error {
	path := fmt.Sprintf("/api/v1/sales/%s/payments/%s", url.PathEscape(saleID), url.PathEscape(paymentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: all transient from
		// the terminal's point of view.
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}

	message := readErrorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, message)
	default:
		return fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, resp.StatusCode)
	}
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "request rejected"
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "request rejected"
}
