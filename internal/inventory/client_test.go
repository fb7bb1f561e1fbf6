package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/retry"
)

func noSleepPolicy() retry.Policy {
	return retry.Policy{
		Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Sleep:  func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		Logger: logx.Discard(),
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Options)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts := Options{
		BaseURL:          server.URL + "/api/",
		Token:            "tok-123",
		SuppliersMethods: []string{"suppliers.getSuppliers", "clients.getSuppliers"},
		ProductsMethod:   "menu.getProducts",
		CreateMethods:    []string{"storage.createSupply", "incomingOrders.createIncomingOrder"},
		HTTPClient:       server.Client(),
		Policy:           noSleepPolicy(),
		Logger:           logx.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewClient(opts)
}

func TestListSuppliersFallsBackToNextMethod(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()
		if got := r.URL.Query().Get("token"); got != "tok-123" {
			t.Errorf("unexpected token: %q", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("unexpected format: %q", got)
		}
		switch r.URL.Path {
		case "/api/suppliers.getSuppliers":
			http.Error(w, `{"error":"unknown method"}`, http.StatusNotFound)
		case "/api/clients.getSuppliers":
			_, _ = w.Write([]byte(`{"response":{"suppliers":[
				{"supplier_id":7,"supplier_name":"Acme Ltd"},
				{"supplier_id":"8","name":"Globex"},
				{"supplier_id":"9"}
			]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, nil)

	got, err := c.ListSuppliers(context.Background())
	if err != nil {
		t.Fatalf("ListSuppliers failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "7" || got[0].Name != "Acme Ltd" || got[1].ID != "8" {
		t.Fatalf("unexpected suppliers: %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %v", calls)
	}
}

func TestListSuppliersAllMethodsFail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":[]}`))
	}, nil)
	if _, err := c.ListSuppliers(context.Background()); err == nil {
		t.Fatal("expected error when every method returns nothing")
	}
}

func TestListProductsDecodesBarcodeAndSKU(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("with_barcode") != "1" {
			t.Errorf("expected with_barcode=1")
		}
		_, _ = w.Write([]byte(`{"response":[
			{"product_id":"101","product_name":"Milk 1L","barcode":"4820000000017","product_code":"MLK-1","unit":"pcs","price":"32.50"},
			{"id":102,"name":"Flour","barcode":4820000000024,"sku":"FL-5","unit":"kg"}
		]}`))
	}, nil)

	got, err := c.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %d", len(got))
	}
	milk := got[0]
	if milk.ID != "101" || milk.Barcode != "4820000000017" || milk.SKU != "MLK-1" || milk.Unit != "pcs" {
		t.Fatalf("unexpected milk entry: %+v", milk)
	}
	if !milk.UnitPrice.Valid || !milk.UnitPrice.Decimal.Equal(decimal.RequireFromString("32.5")) {
		t.Fatalf("unexpected milk price: %+v", milk.UnitPrice)
	}
	if got[1].Barcode != "4820000000024" || got[1].UnitPrice.Valid {
		t.Fatalf("unexpected flour entry: %+v", got[1])
	}
}

func TestListProductsRetriesTransientFailures(t *testing.T) {
	var n int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":[{"id":"1","name":"Salt"}]}`))
	}, nil)

	got, err := c.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(got) != 1 || atomic.LoadInt32(&n) != 3 {
		t.Fatalf("expected success on third attempt, got %d products after %d calls", len(got), n)
	}
}

func TestListProductsExhaustsRetries(t *testing.T) {
	var n int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	_, err := c.ListProducts(context.Background())
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if atomic.LoadInt32(&n) != 4 {
		t.Fatalf("expected 4 attempts, got %d", n)
	}
}

func TestCreateSupplyDefiniteFailureIsNotRetried(t *testing.T) {
	var n int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		http.Error(w, `{"message":"supplier_id is invalid"}`, http.StatusBadRequest)
	}, nil)

	_, err := c.CreateSupply(context.Background(), domain.Supply{Number: "INV-1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if !strings.Contains(apiErr.Body, "supplier_id is invalid") {
		t.Fatalf("expected body to be kept, got %q", apiErr.Body)
	}
	if atomic.LoadInt32(&n) != 1 {
		t.Fatalf("expected exactly one call, got %d", n)
	}
}

func TestCreateSupplyFallsBackOnlyOn404(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var generic map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("unexpected Idempotency-Key: %q", got)
		}
		if r.URL.Path == "/api/storage.createSupply" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&generic); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":{"supply_id":555}}`))
	}, nil)

	supply := domain.Supply{
		IdempotencyKey: "key-1",
		SupplierID:     "7",
		Number:         "INV-42",
		Date:           "2024-01-05",
		Currency:       "UAH",
		Lines: []domain.SupplyLine{
			{ProductID: "101", Name: "Milk 1L", Quantity: decimal.RequireFromString("10"), UnitPrice: decimal.RequireFromString("32.50")},
		},
	}
	id, err := c.CreateSupply(context.Background(), supply)
	if err != nil {
		t.Fatalf("CreateSupply failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if id != "555" {
		t.Fatalf("expected supply id 555, got %q", id)
	}
	if len(paths) != 2 || paths[1] != "/api/incomingOrders.createIncomingOrder" {
		t.Fatalf("unexpected call sequence: %v", paths)
	}
	if generic["invoice_number"] != "INV-42" || generic["supplier_id"] != "7" {
		t.Fatalf("unexpected generic payload: %v", generic)
	}
	items, _ := generic["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one item, got %v", generic["items"])
	}
	if price := items[0].(map[string]any)["price"]; price != 32.5 {
		t.Fatalf("expected numeric price, got %#v", price)
	}
}

func TestCreateSupplyStoragePayload(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":[{"id":"77"}]}`))
	}, func(o *Options) { o.StorageID = "3" })

	id, err := c.CreateSupply(context.Background(), domain.Supply{
		SupplierName: "New Supplier",
		Number:       "A-1",
		Date:         "2024-02-01",
		Lines: []domain.SupplyLine{
			{Name: "Unknown thing", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(5), TaxRate: decimal.NewNullDecimal(decimal.NewFromInt(20))},
		},
	})
	if err != nil || id != "77" {
		t.Fatalf("CreateSupply = %q, %v", id, err)
	}
	mu.Lock()
	defer mu.Unlock()
	supply := body["supply"].(map[string]any)
	if supply["date"] != "2024-02-01 12:00:00" || supply["supplier_name"] != "New Supplier" || supply["storage_id"] != float64(3) {
		t.Fatalf("unexpected supply block: %v", supply)
	}
	row := body["ingredient"].([]any)[0].(map[string]any)
	if _, hasID := row["id"]; hasID {
		t.Fatalf("create-new line must not carry a product id: %v", row)
	}
	if row["tax"] != float64(20) {
		t.Fatalf("expected tax 20, got %v", row["tax"])
	}
}

func TestErrorFieldInBodyIsDefinite(t *testing.T) {
	var n int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		_, _ = w.Write([]byte(`{"error":{"code":10,"message":"access denied"}}`))
	}, nil)
	_, err := c.ListProducts(context.Background())
	if err == nil || !retry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if atomic.LoadInt32(&n) != 1 {
		t.Fatalf("expected one call, got %d", n)
	}
}

func TestSupplyIDFrom(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"supply_id":12}`, "12"},
		{`{"number":"N-5"}`, "N-5"},
		{`[{"id":"9"}]`, "9"},
		{`31`, "31"},
		{`{}`, "unknown"},
	}
	for _, tt := range tests {
		if got := supplyIDFrom(json.RawMessage(tt.in)); got != tt.want {
			t.Fatalf("supplyIDFrom(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
