package carriers

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

func validOrder() model.Order {
	return model.Order{
		OrderID:     "MIR-100",
		Marketplace: "mirakl",
		BuyerName:   "Juan Pérez",
		TotalAmount: 45.99,
		Currency:    "EUR",
		WeightKg:    2.5,
		Packages:    1,
		Shipping: model.Address{
			Name: "Juan Pérez", Street: "Calle Mayor 123", City: "Madrid",
			PostalCode: "28001", Country: "ES",
		},
	}
}

func mockRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(config.Config{}, NewClient(0), zap.NewNop())
}

func TestMockShipmentsDeterministic(t *testing.T) {
	reg := mockRegistry(t)
	for _, code := range reg.Codes() {
		adapter, err := reg.Get(code)
		if err != nil {
			t.Fatal(err)
		}
		first, err := adapter.CreateShipment(context.Background(), validOrder())
		if err != nil {
			t.Fatalf("%s: create shipment: %v", code, err)
		}
		second, _ := adapter.CreateShipment(context.Background(), validOrder())
		if first.TrackingNumber == "" || first.TrackingNumber != second.TrackingNumber {
			t.Errorf("%s: tracking numbers differ: %q vs %q", code, first.TrackingNumber, second.TrackingNumber)
		}
		if first.ShipmentID != second.ShipmentID {
			t.Errorf("%s: shipment ids differ", code)
		}
		if first.Carrier != code {
			t.Errorf("%s: carrier field = %s", code, first.Carrier)
		}
	}
}

func TestMockShipmentsVaryByOrder(t *testing.T) {
	reg := mockRegistry(t)
	adapter, _ := reg.Get("tipsa")
	a, _ := adapter.CreateShipment(context.Background(), validOrder())
	other := validOrder()
	other.OrderID = "MIR-999"
	b, _ := adapter.CreateShipment(context.Background(), other)
	if a.TrackingNumber == b.TrackingNumber {
		t.Fatalf("different orders produced identical tracking %q", a.TrackingNumber)
	}
}

func TestValidationRejectsIncompleteAddress(t *testing.T) {
	reg := mockRegistry(t)
	cases := []struct {
		name  string
		field string
		mut   func(*model.Order)
	}{
		{"missing postal code", "shipping.postal_code", func(o *model.Order) { o.Shipping.PostalCode = "" }},
		{"missing name", "shipping.name", func(o *model.Order) { o.Shipping.Name = "" }},
		{"missing street", "shipping.street", func(o *model.Order) { o.Shipping.Street = "" }},
		{"missing city", "shipping.city", func(o *model.Order) { o.Shipping.City = "" }},
		{"missing country", "shipping.country", func(o *model.Order) { o.Shipping.Country = "" }},
		{"missing order id", "order_id", func(o *model.Order) { o.OrderID = "" }},
	}
	adapter, _ := reg.Get("tipsa")
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			o := validOrder()
			c.mut(&o)
			_, err := adapter.CreateShipment(context.Background(), o)
			var ce *model.CarrierRequestError
			if !errors.As(err, &ce) {
				t.Fatalf("want CarrierRequestError, got %T: %v", err, err)
			}
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want wrapped ValidationError, got %v", err)
			}
			if ve.Field != c.field {
				t.Errorf("field = %s, want %s", ve.Field, c.field)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want model.ShipmentStatus
	}{
		{"GRABADO", model.StatusCreated},
		{"PENDIENTE DE RECOGIDA", model.StatusCreated},
		{"RECOGIDO", model.StatusPickedUp},
		{"PICKED UP", model.StatusPickedUp},
		{"EN TRANSITO", model.StatusInTransit},
		{"EN REPARTO", model.StatusOutForDelivery},
		{"OUT FOR DELIVERY", model.StatusOutForDelivery},
		{"ENTREGADO", model.StatusDelivered},
		{"DELIVERED", model.StatusDelivered},
		{"something unknown", model.StatusInTransit},
	}
	for _, c := range cases {
		if got := NormalizeStatus(c.raw); got != c.want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestTIPSACreateShipmentHTTP(t *testing.T) {
	var got tipsaShipment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/shipments" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(tipsaShipmentResp{
			Albaran:     "ALB-1",
			Localizador: "1Z555",
			Estado:      "GRABADO",
			EtiquetaURL: "https://tipsa.example/labels/ALB-1",
			Coste:       12.40,
			Moneda:      "EUR",
		})
	}))
	defer srv.Close()

	adapter := NewTIPSA(config.CarrierConfig{BaseURL: srv.URL, APIKey: "key-1"}, NewClient(0), zap.NewNop())
	res, err := adapter.CreateShipment(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if res.TrackingNumber != "1Z555" || res.Status != model.StatusCreated {
		t.Fatalf("result = %+v", res)
	}
	if got.CP != "28001" || got.Servicio != "48" || got.Peso != "2.50" {
		t.Errorf("request payload = %+v", got)
	}
	if got.Reembolso != "" {
		t.Errorf("non-COD order carries reembolso %q", got.Reembolso)
	}
}

func TestTIPSACODSetsReembolso(t *testing.T) {
	var got tipsaShipment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(tipsaShipmentResp{Localizador: "1Z556", Estado: "GRABADO"})
	}))
	defer srv.Close()

	adapter := NewTIPSA(config.CarrierConfig{BaseURL: srv.URL, APIKey: "k"}, NewClient(0), zap.NewNop())
	o := validOrder()
	o.PaymentMethod = "COD"
	if _, err := adapter.CreateShipment(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if got.Reembolso != "45.99" {
		t.Errorf("reembolso = %q, want 45.99", got.Reembolso)
	}
}

func TestCarrierErrorOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	adapter := NewTIPSA(config.CarrierConfig{BaseURL: srv.URL, APIKey: "k"}, NewClient(0), zap.NewNop())
	_, err := adapter.CreateShipment(context.Background(), validOrder())
	var ce *model.CarrierRequestError
	if !errors.As(err, &ce) {
		t.Fatalf("want CarrierRequestError, got %T: %v", err, err)
	}
	if ce.Carrier != "tipsa" || ce.StatusCode != http.StatusBadRequest {
		t.Errorf("error = %+v", ce)
	}
}

func TestMockStatusStablePerTracking(t *testing.T) {
	reg := mockRegistry(t)
	adapter, _ := reg.Get("gls")
	first, err := adapter.GetShipmentStatus(context.Background(), "ZZMIR-10000001")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := adapter.GetShipmentStatus(context.Background(), "ZZMIR-10000001")
	if first != second {
		t.Fatalf("mock status unstable: %s vs %s", first, second)
	}
}
