package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"larispos/terminal/internal/cache"
	"larispos/terminal/internal/client"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/ledger"
	"larispos/terminal/internal/store/memory"
	"larispos/terminal/internal/syncer"
)

type fakeInventory struct {
	products map[string]domain.Product
}

func (f *fakeInventory) GetProduct(_ context.Context, sku string) (*domain.Product, error) {
	p, ok := f.products[sku]
	if !ok {
		return nil, fmt.Errorf("%w: %s", client.ErrNotFound, sku)
	}
	return &p, nil
}

func (f *fakeInventory) ListProducts(_ context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

type fakeSales struct {
	createErr error
}

func (f *fakeSales) CreateSale(_ context.Context, req client.CreateSaleRequest) (*client.SaleCommitted, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &client.SaleCommitted{SaleID: "srv-1", Status: "completed"}, nil
}

func (f *fakeSales) PatchSaleItem(context.Context, string, string, client.SaleItemPatch) error {
	return nil
}
func (f *fakeSales) DeleteSaleItem(context.Context, string, string) error    { return nil }
func (f *fakeSales) DeleteSalePayment(context.Context, string, string) error { return nil }

func (f *fakeSales) AddSalePayment(context.Context, string, client.PaymentPayload) (string, error) {
	return "srv-pay-1", nil
}

func newTestServer(t *testing.T, sales *fakeSales) *httptest.Server {
	t.Helper()
	inv := &fakeInventory{products: map[string]domain.Product{
		"WIDGET": {
			ID: "prod-w", SKU: "WIDGET", Name: "Widget",
			StockingUnit: "box", SellableUnit: "piece",
			UnitsPerStocking: 10, StockQty: 500, PriceCents: 1000,
		},
	}}
	productCache := cache.NewMemoryProductCache()
	format := domain.Formatting{CurrencySymbol: "$"}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	engine := syncer.New(memory.New(), sales, productCache, nil, node, syncer.Config{})
	l := ledger.New(inv, sales, engine, productCache, format)
	api := New(l, engine, inv, productCache, format)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	var payload map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestCartLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeSales{})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/items",
		`{"sku": "WIDGET", "quantity": "2", "unit": "sellable"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item status = %d, body %v", resp.StatusCode, payload)
	}
	var item domain.CartItem
	if err := json.Unmarshal(mustRaw(t, payload), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if full, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/cart", ""); full.StatusCode != http.StatusOK {
		t.Fatalf("get cart status = %d", full.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/v1/cart/items/"+item.ID,
		`{"quantity": "3"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch quantity status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/cart/discount",
		`{"type": "percentage", "percent": 10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set discount status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/payments", `{"method": "cash"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add payment status = %d", resp.StatusCode)
	}

	_, validation := doJSON(t, http.MethodGet, srv.URL+"/api/v1/cart/validate", "")
	var valid bool
	_ = json.Unmarshal(validation["valid"], &valid)
	if !valid {
		t.Fatalf("cart should validate, got %s", validation["errors"])
	}

	resp, completion := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/complete", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, body %v", resp.StatusCode, completion)
	}
	var queued bool
	_ = json.Unmarshal(completion["queued"], &queued)
	if queued {
		t.Fatal("online completion reported as queued")
	}
}

// mustRaw re-encodes the decoded top-level object so it can be unmarshalled
// into a typed struct.
func mustRaw(t *testing.T, payload map[string]json.RawMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	return raw
}

func TestPatchRejectsMultipleEdits(t *testing.T) {
	srv := newTestServer(t, &fakeSales{})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/items",
		`{"sku": "WIDGET", "quantity": "1", "unit": "sellable"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item status = %d", resp.StatusCode)
	}
	var id string
	_ = json.Unmarshal(payload["id"], &id)

	resp, body := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/cart/items/"+id,
		`{"quantity": "2", "unit_price": "9.99"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("multi-field patch status = %d, body %v", resp.StatusCode, body)
	}
}

func TestInsufficientStockIsConflict(t *testing.T) {
	srv := newTestServer(t, &fakeSales{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/items",
		`{"sku": "WIDGET", "quantity": "501", "unit": "sellable"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, body %v, want 409", resp.StatusCode, body)
	}
}

func TestUnknownProductIsNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSales{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/items",
		`{"sku": "NOPE", "quantity": "1", "unit": "sellable"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOfflineCompletionShowsInSyncQueue(t *testing.T) {
	sales := &fakeSales{createErr: fmt.Errorf("%w: timeout", client.ErrUnavailable)}
	srv := newTestServer(t, sales)

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/items",
		`{"sku": "WIDGET", "quantity": "1", "unit": "sellable"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item status = %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/payments", `{"method": "cash"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("add payment status = %d", resp.StatusCode)
	}

	resp, completion := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cart/complete", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offline complete status = %d, body %v", resp.StatusCode, completion)
	}
	var queued bool
	_ = json.Unmarshal(completion["queued"], &queued)
	if !queued {
		t.Fatal("offline completion should report queued")
	}

	_, list := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/queue", "")
	var entries []domain.OfflineSale
	if err := json.Unmarshal(list["entries"], &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != domain.SyncPending {
		t.Fatalf("queue = %+v, want one pending entry", entries)
	}

	// Server recovers; a manual drain clears the queue.
	sales.createErr = nil
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/drain", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("drain status = %d", resp.StatusCode)
	}
	waitFor(t, time.Second, func() bool {
		_, list := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/queue", "")
		var left []domain.OfflineSale
		_ = json.Unmarshal(list["entries"], &left)
		return len(left) == 0
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
