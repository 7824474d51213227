// Package store persists the orders-view table and the append-only
// operations log. The CSV store is the canonical implementation; Memory
// and Postgres implement the same contract.
package store

import (
	"context"
	"errors"

	"shipflow/internal/model"
)

// Store is the persistence interface used by the orchestrator, the
// poller and the API server. UpsertOrder has upsert-by-order-id
// semantics: exactly one record per order id, last write wins.
// AppendOp is append-only, no update or delete exists.
type Store interface {
	UpsertOrder(ctx context.Context, rec model.OrderView) error
	GetOrder(ctx context.Context, orderID string) (model.OrderView, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]model.OrderView, error)

	AppendOp(ctx context.Context, e model.OpEntry) error
	ListOps(ctx context.Context, f OpFilter) ([]model.OpEntry, error)

	Close() error
}

var ErrNotFound = errors.New("not found")

// OrderFilter selects orders-view records. Zero value matches all.
type OrderFilter struct {
	States         []model.State
	ExcludeStates  []model.State
	Carrier        string
	RequireCarrier bool
	Limit          int
}

// Match reports whether rec passes the filter.
func (f OrderFilter) Match(rec model.OrderView) bool {
	if f.RequireCarrier && rec.CarrierCode == "" {
		return false
	}
	if f.Carrier != "" && rec.CarrierCode != f.Carrier {
		return false
	}
	for _, s := range f.ExcludeStates {
		if rec.State == s {
			return false
		}
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if rec.State == s {
			return true
		}
	}
	return false
}

// OpFilter selects operation log entries. Zero value matches all.
type OpFilter struct {
	Scope   model.Scope
	Action  string
	Status  model.OpStatus
	OrderID string
	Limit   int
}

// Match reports whether e passes the filter.
func (f OpFilter) Match(e model.OpEntry) bool {
	if f.Scope != "" && e.Scope != f.Scope {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.OrderID != "" && e.OrderID != f.OrderID {
		return false
	}
	return true
}
