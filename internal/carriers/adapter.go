// Package carriers implements one adapter per shipping carrier. Each
// adapter translates a normalized order into the carrier's shipment
// request schema and normalizes the carrier's status vocabulary back.
package carriers

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// Adapter is the contract every carrier implements. Adapters perform a
// single HTTP exchange per call and never retry; retry policy belongs
// to the caller.
type Adapter interface {
	Code() string
	Name() string
	CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error)
	GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error)
	CancelShipment(ctx context.Context, shipmentID, reason string) error
	GetLabel(ctx context.Context, shipmentID string) (content []byte, format string, err error)
}

// Registry holds the configured adapters keyed by carrier code.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds the five production adapters from config.
func NewRegistry(cfg config.Config, hc *Client, log *zap.Logger) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	r.Register(NewTIPSA(cfg.Carrier("tipsa"), hc, log))
	r.Register(NewGLS(cfg.Carrier("gls"), hc, log))
	r.Register(NewOnTime(cfg.Carrier("ontime"), hc, log))
	r.Register(NewSEUR(cfg.Carrier("seur"), hc, log))
	r.Register(NewCorreosExpress(cfg.Carrier("correosex"), hc, log))
	return r
}

// NewEmptyRegistry returns a registry without adapters, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) { r.adapters[a.Code()] = a }

// Get returns the adapter for code or an error for unknown carriers.
func (r *Registry) Get(code string) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("unknown carrier: %s", code)
	}
	return a, nil
}

// Codes returns the registered carrier codes, sorted.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// validateForShipment checks the address fields every carrier requires.
func validateForShipment(carrier string, o model.Order) error {
	missing := func(field string) error {
		return &model.CarrierRequestError{
			Carrier: carrier,
			Detail:  "invalid order",
			Err:     &model.ValidationError{OrderID: o.OrderID, Field: field, Detail: "required"},
		}
	}
	if o.OrderID == "" {
		return missing("order_id")
	}
	if o.Shipping.Name == "" {
		return missing("shipping.name")
	}
	if o.Shipping.Street == "" {
		return missing("shipping.street")
	}
	if o.Shipping.City == "" {
		return missing("shipping.city")
	}
	if o.Shipping.PostalCode == "" {
		return missing("shipping.postal_code")
	}
	if o.Shipping.Country == "" {
		return missing("shipping.country")
	}
	return nil
}
