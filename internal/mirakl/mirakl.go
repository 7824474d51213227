// Package mirakl implements the marketplace adapter: order fetch plus
// the two separate tracking/ship confirmation pushes (OR23 / OR24
// style).
package mirakl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

const Name = "mirakl"

// Adapter talks to one Mirakl shop. In mock mode it serves a fixed,
// deterministic order set without touching the network.
type Adapter struct {
	cfg  config.MiraklConfig
	http *http.Client
	log  *zap.Logger
}

func New(cfg config.MiraklConfig, log *zap.Logger) *Adapter {
	return &Adapter{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log.Named("mirakl"),
	}
}

func (a *Adapter) Marketplace() string { return Name }
func (a *Adapter) MockMode() bool      { return a.cfg.Mock }

// miraklOrder is the wire shape of one order in the OR12 listing.
type miraklOrder struct {
	OrderID      string `json:"order_id"`
	CreatedDate  string `json:"created_date"`
	Customer     struct {
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
		Email     string `json:"email"`
	} `json:"customer"`
	TotalPrice   float64 `json:"total_price"`
	CurrencyCode string  `json:"currency_iso_code"`
	PaymentType  string  `json:"payment_type"`
	ShippingType string  `json:"shipping_type_code"`
	Weight       float64 `json:"shipping_weight"`
	Quantity     int     `json:"shipping_packages"`
	Shipping     struct {
		Name    string `json:"name"`
		Street1 string `json:"street_1"`
		City    string `json:"city"`
		ZipCode string `json:"zip_code"`
		Country string `json:"country_iso_code"`
		Phone   string `json:"phone"`
	} `json:"shipping_address"`
}

type ordersResponse struct {
	Orders     []miraklOrder `json:"orders"`
	TotalCount int           `json:"total_count"`
}

// GetOrders fetches orders in the given state, normalized to the
// internal Order shape.
func (a *Adapter) GetOrders(ctx context.Context, status string, limit, offset int) ([]model.Order, error) {
	if a.cfg.Mock {
		return mockOrders(status, limit, offset), nil
	}
	q := url.Values{}
	q.Set("order_state_codes", status)
	q.Set("max", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	endpoint := a.cfg.BaseURL + "/api/orders?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &model.MarketplaceFetchError{Marketplace: Name, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.MarketplaceFetchError{Marketplace: Name, StatusCode: resp.StatusCode, Detail: "orders request rejected"}
	}
	var body ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &model.MarketplaceFetchError{Marketplace: Name, StatusCode: resp.StatusCode, Detail: "malformed orders response: " + err.Error()}
	}
	out := make([]model.Order, 0, len(body.Orders))
	for _, mo := range body.Orders {
		out = append(out, normalize(mo))
	}
	return out, nil
}

func normalize(mo miraklOrder) model.Order {
	created, _ := time.Parse(time.RFC3339, mo.CreatedDate)
	name := mo.Customer.Firstname
	if mo.Customer.Lastname != "" {
		if name != "" {
			name += " "
		}
		name += mo.Customer.Lastname
	}
	return model.Order{
		OrderID:       mo.OrderID,
		Marketplace:   Name,
		BuyerName:     name,
		BuyerEmail:    mo.Customer.Email,
		TotalAmount:   mo.TotalPrice,
		Currency:      mo.CurrencyCode,
		WeightKg:      mo.Weight,
		Packages:      max(mo.Quantity, 1),
		PaymentMethod: mo.PaymentType,
		ServiceLevel:  serviceLevel(mo.ShippingType),
		CreatedAt:     created,
		Shipping: model.Address{
			Name:       mo.Shipping.Name,
			Street:     mo.Shipping.Street1,
			City:       mo.Shipping.City,
			PostalCode: mo.Shipping.ZipCode,
			Country:    mo.Shipping.Country,
			Phone:      mo.Shipping.Phone,
		},
	}
}

func serviceLevel(shippingType string) string {
	if shippingType == "EXPRESS" || shippingType == "express" {
		return "EXPRESS"
	}
	return "STANDARD"
}

// UpdateTracking attaches the carrier and tracking number to an order.
// This is a distinct call from MarkShipped; Mirakl models "tracking
// attached" and "shipped" as separate facts.
func (a *Adapter) UpdateTracking(ctx context.Context, orderID, trackingNumber, carrierCode, carrierName string) error {
	if a.cfg.Mock {
		a.log.Debug("mock tracking update", zap.String("order_id", orderID), zap.String("tracking", trackingNumber))
		return nil
	}
	payload := map[string]string{
		"carrier_code":    carrierCode,
		"carrier_name":    carrierName,
		"tracking_number": trackingNumber,
	}
	endpoint := fmt.Sprintf("%s/api/orders/%s/tracking", a.cfg.BaseURL, orderID)
	return a.put(ctx, orderID, endpoint, payload)
}

// MarkShipped confirms shipment of an order. Must be called after
// UpdateTracking; Mirakl rejects ship confirmations without tracking.
func (a *Adapter) MarkShipped(ctx context.Context, orderID string) error {
	if a.cfg.Mock {
		a.log.Debug("mock ship confirmation", zap.String("order_id", orderID))
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/orders/%s/ship", a.cfg.BaseURL, orderID)
	return a.put(ctx, orderID, endpoint, nil)
}

func (a *Adapter) put(ctx context.Context, orderID, endpoint string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	a.setHeaders(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return &model.MarketplaceUpdateError{Marketplace: Name, OrderID: orderID, Detail: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.MarketplaceUpdateError{Marketplace: Name, OrderID: orderID, StatusCode: resp.StatusCode, Detail: "update rejected"}
	}
	return nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.ShopID != "" {
		req.Header.Set("X-Shop-Id", a.cfg.ShopID)
	}
}

// mockOrders returns the fixed development order set: two pending
// domestic standard orders.
func mockOrders(status string, limit, offset int) []model.Order {
	if status != "" && status != "PENDING" && status != "SHIPPING" {
		return nil
	}
	all := []model.Order{
		{
			OrderID:       "MIR-001",
			Marketplace:   Name,
			BuyerName:     "Juan Pérez",
			BuyerEmail:    "juan.perez@example.com",
			TotalAmount:   45.99,
			Currency:      "EUR",
			WeightKg:      2.5,
			Packages:      1,
			PaymentMethod: "CARD",
			ServiceLevel:  "STANDARD",
			CreatedAt:     time.Date(2025, 9, 19, 20, 0, 0, 0, time.UTC),
			Shipping: model.Address{
				Name:       "Juan Pérez",
				Street:     "Calle Mayor 123",
				City:       "Madrid",
				PostalCode: "28001",
				Country:    "ES",
			},
		},
		{
			OrderID:       "MIR-002",
			Marketplace:   Name,
			BuyerName:     "María García",
			BuyerEmail:    "maria.garcia@example.com",
			TotalAmount:   32.50,
			Currency:      "EUR",
			WeightKg:      1.8,
			Packages:      1,
			PaymentMethod: "CARD",
			ServiceLevel:  "STANDARD",
			CreatedAt:     time.Date(2025, 9, 19, 21, 0, 0, 0, time.UTC),
			Shipping: model.Address{
				Name:       "María García",
				Street:     "Avenida de la Paz 456",
				City:       "Barcelona",
				PostalCode: "08001",
				Country:    "ES",
			},
		},
	}
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
