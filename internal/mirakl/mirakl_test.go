package mirakl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

func TestMockOrdersDeterministic(t *testing.T) {
	a := New(config.MiraklConfig{Mock: true}, zap.NewNop())
	first, err := a.GetOrders(context.Background(), "PENDING", 10, 0)
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	second, _ := a.GetOrders(context.Background(), "PENDING", 10, 0)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("want 2 mock orders, got %d and %d", len(first), len(second))
	}
	if first[0].OrderID != "MIR-001" || first[1].OrderID != "MIR-002" {
		t.Fatalf("unexpected order ids: %s %s", first[0].OrderID, first[1].OrderID)
	}
	if first[0].Shipping.PostalCode != second[0].Shipping.PostalCode {
		t.Fatal("mock orders not deterministic across calls")
	}
}

func TestMockOrdersPagination(t *testing.T) {
	a := New(config.MiraklConfig{Mock: true}, zap.NewNop())
	page, err := a.GetOrders(context.Background(), "PENDING", 1, 1)
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	if len(page) != 1 || page[0].OrderID != "MIR-002" {
		t.Fatalf("want MIR-002 at offset 1, got %+v", page)
	}
	empty, _ := a.GetOrders(context.Background(), "PENDING", 10, 5)
	if len(empty) != 0 {
		t.Fatalf("want empty page past end, got %d", len(empty))
	}
}

func TestGetOrdersNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "key-123" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("order_state_codes"); got != "SHIPPING" {
			t.Errorf("order_state_codes = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{{
				"order_id":          "ORD-7",
				"created_date":      "2025-09-20T10:00:00Z",
				"total_price":       19.90,
				"currency_iso_code": "EUR",
				"payment_type":      "COD",
				"customer": map[string]any{
					"firstname": "Ana", "lastname": "Ruiz", "email": "ana@example.com",
				},
				"shipping_address": map[string]any{
					"name": "Ana Ruiz", "street_1": "Gran Vía 1", "city": "Madrid",
					"zip_code": "28013", "country_iso_code": "ES",
				},
			}},
			"total_count": 1,
		})
	}))
	defer srv.Close()

	a := New(config.MiraklConfig{BaseURL: srv.URL, APIKey: "key-123"}, zap.NewNop())
	orders, err := a.GetOrders(context.Background(), "SHIPPING", 10, 0)
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("want 1 order, got %d", len(orders))
	}
	o := orders[0]
	if o.BuyerName != "Ana Ruiz" {
		t.Errorf("buyer name = %q", o.BuyerName)
	}
	if !o.COD() {
		t.Error("payment_type COD not carried through")
	}
	if o.Packages != 1 {
		t.Errorf("packages defaulted to %d, want 1", o.Packages)
	}
	if o.Shipping.PostalCode != "28013" || o.Shipping.Country != "ES" {
		t.Errorf("address not normalized: %+v", o.Shipping)
	}
}

func TestGetOrdersErrorTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(config.MiraklConfig{BaseURL: srv.URL, APIKey: "bad"}, zap.NewNop())
	_, err := a.GetOrders(context.Background(), "PENDING", 10, 0)
	var fe *model.MarketplaceFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("want MarketplaceFetchError, got %T: %v", err, err)
	}
	if fe.StatusCode != http.StatusUnauthorized {
		t.Errorf("status code = %d", fe.StatusCode)
	}
}

func TestUpdateTrackingThenShip(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/api/orders/ORD-7/tracking" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["tracking_number"] != "1Z999" || body["carrier_code"] != "tipsa" {
				t.Errorf("tracking payload = %v", body)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := New(config.MiraklConfig{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	if err := a.UpdateTracking(context.Background(), "ORD-7", "1Z999", "tipsa", "TIPSA"); err != nil {
		t.Fatalf("update tracking: %v", err)
	}
	if err := a.MarkShipped(context.Background(), "ORD-7"); err != nil {
		t.Fatalf("mark shipped: %v", err)
	}
	want := []string{"PUT /api/orders/ORD-7/tracking", "PUT /api/orders/ORD-7/ship"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestMarkShippedErrorTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tracking required", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := New(config.MiraklConfig{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	err := a.MarkShipped(context.Background(), "ORD-9")
	var ue *model.MarketplaceUpdateError
	if !errors.As(err, &ue) {
		t.Fatalf("want MarketplaceUpdateError, got %T: %v", err, err)
	}
	if ue.OrderID != "ORD-9" || ue.StatusCode != http.StatusBadRequest {
		t.Errorf("error fields = %+v", ue)
	}
}
