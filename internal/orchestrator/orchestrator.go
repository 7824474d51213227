// Package orchestrator drives orders through the pipeline: fetch from
// the marketplace, post to a carrier, push tracking back. Each step is
// a batch operation over the orders-view table; failures mark the
// order with a FAILED_* state and are retried on the next invocation.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipflow/internal/carriers"
	"shipflow/internal/events"
	"shipflow/internal/metrics"
	"shipflow/internal/model"
	"shipflow/internal/selector"
	"shipflow/internal/store"
)

// Marketplace is the subset of the marketplace adapter the
// orchestrator needs.
type Marketplace interface {
	Marketplace() string
	GetOrders(ctx context.Context, status string, limit, offset int) ([]model.Order, error)
	UpdateTracking(ctx context.Context, orderID, trackingNumber, carrierCode, carrierName string) error
	MarkShipped(ctx context.Context, orderID string) error
}

// Orchestrator coordinates the marketplace, the carrier registry and
// the store. Safe for concurrent use; per-order writes go through the
// store's own locking.
type Orchestrator struct {
	store    store.Store
	carriers *carriers.Registry
	market   Marketplace
	rules    selector.Rules
	broker   events.Broker
	log      *zap.Logger

	now func() time.Time
}

func New(st store.Store, reg *carriers.Registry, mk Marketplace, rules selector.Rules, broker events.Broker, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		carriers: reg,
		market:   mk,
		rules:    rules,
		broker:   broker,
		log:      log.Named("orchestrator"),
		now:      time.Now,
	}
}

const (
	ActionFetchOrders  = "fetch_orders"
	ActionPostShipment = "post_shipment"
	ActionPushTracking = "push_tracking"
)

// FetchOrders pulls marketplace orders and inserts the new ones into
// the orders view in PENDING_POST. Idempotent: an order already known
// is left untouched regardless of its current state.
func (o *Orchestrator) FetchOrders(ctx context.Context, status string, limit, offset int) (model.BatchResult, error) {
	started := o.now()
	res := model.BatchResult{Operation: ActionFetchOrders}

	orders, err := o.market.GetOrders(ctx, status, limit, offset)
	if err != nil {
		o.appendOp(ctx, model.OpEntry{
			Scope: model.ScopeMirakl, Action: ActionFetchOrders,
			Marketplace: o.market.Marketplace(), Status: model.OpError,
			Message: err.Error(), DurationMs: o.since(started),
		})
		metrics.OrchestratorOps.WithLabelValues(ActionFetchOrders, "error").Inc()
		return res, err
	}

	inserted := 0
	for _, ord := range orders {
		res.Processed++
		if _, err := o.store.GetOrder(ctx, ord.OrderID); err == nil {
			res.Succeeded++
			res.Details = append(res.Details, model.OrderResult{OrderID: ord.OrderID, OK: true, Error: "already known"})
			continue
		}
		view := o.viewFromOrder(ord)
		if err := o.store.UpsertOrder(ctx, view); err != nil {
			res.Failed++
			res.Details = append(res.Details, model.OrderResult{OrderID: ord.OrderID, Error: err.Error()})
			continue
		}
		inserted++
		res.Succeeded++
		res.Details = append(res.Details, model.OrderResult{OrderID: ord.OrderID, State: model.StatePendingPost, OK: true})
		o.publish("order.fetched", ord.OrderID, map[string]any{"state": model.StatePendingPost})
	}

	o.appendOp(ctx, model.OpEntry{
		Scope: model.ScopeMirakl, Action: ActionFetchOrders,
		Marketplace: o.market.Marketplace(), Status: model.OpOK,
		Message:    fmt.Sprintf("fetched %d orders, %d new", len(orders), inserted),
		DurationMs: o.since(started),
		Meta:       map[string]any{"fetched": len(orders), "inserted": inserted},
	})
	metrics.OrchestratorOps.WithLabelValues(ActionFetchOrders, "ok").Inc()
	o.log.Info("fetched orders", zap.Int("fetched", len(orders)), zap.Int("inserted", inserted))
	return res, nil
}

// PostToCarrier posts every PENDING_POST or FAILED_POST order to its
// selected carrier. carrierFilter, when non-empty, restricts the batch
// to orders the rules route to that carrier. Partial failure is
// normal: each failed order is marked FAILED_POST and the batch
// continues.
func (o *Orchestrator) PostToCarrier(ctx context.Context, carrierFilter string) (model.BatchResult, error) {
	started := o.now()
	res := model.BatchResult{Operation: ActionPostShipment}

	views, err := o.store.ListOrders(ctx, store.OrderFilter{
		States: []model.State{model.StatePendingPost, model.StateFailedPost},
	})
	if err != nil {
		return res, err
	}

	for _, view := range views {
		ord := orderFromView(view)
		code, reason := o.rules.Select(ord)
		if carrierFilter != "" && code != carrierFilter {
			continue
		}
		res.Processed++
		opStart := o.now()
		result, postErr := o.postOne(ctx, ord, code)
		now := o.now()
		view.UpdatedAt = now
		view.CarrierCode = code

		if postErr != nil {
			view.State = model.StateFailedPost
			view.LastError = postErr.Error()
			view.RetryCount++
			res.Failed++
			res.Details = append(res.Details, model.OrderResult{
				OrderID: ord.OrderID, Carrier: code, State: view.State, Error: postErr.Error(),
			})
			o.appendOp(ctx, model.OpEntry{
				Scope: model.ScopeCarrier, Action: ActionPostShipment,
				OrderID: ord.OrderID, Carrier: code, Status: model.OpError,
				Message: postErr.Error(), DurationMs: sinceMs(opStart, now),
				Meta: map[string]any{"reason": reason, "retry_count": view.RetryCount},
			})
			metrics.OrchestratorOps.WithLabelValues(ActionPostShipment, "error").Inc()
			o.log.Warn("post to carrier failed",
				zap.String("order_id", ord.OrderID), zap.String("carrier", code), zap.Error(postErr))
		} else {
			view.State = model.StatePosted
			view.CarrierName = mustName(o.carriers, code)
			view.TrackingNumber = result.TrackingNumber
			view.LabelURL = result.LabelURL
			view.CarrierStatus = result.Status
			view.ShippingCost = result.Cost
			view.LastError = ""
			res.Succeeded++
			res.Details = append(res.Details, model.OrderResult{
				OrderID: ord.OrderID, Carrier: code, TrackingNumber: result.TrackingNumber,
				State: view.State, OK: true,
			})
			o.appendOp(ctx, model.OpEntry{
				Scope: model.ScopeCarrier, Action: ActionPostShipment,
				OrderID: ord.OrderID, Carrier: code, Status: model.OpOK,
				Message: "shipment " + result.ShipmentID, DurationMs: sinceMs(opStart, now),
				Meta: map[string]any{"reason": reason, "tracking_number": result.TrackingNumber},
			})
			metrics.OrchestratorOps.WithLabelValues(ActionPostShipment, "ok").Inc()
			o.publish("order.posted", ord.OrderID, map[string]any{
				"carrier": code, "trackingNumber": result.TrackingNumber,
			})
		}
		if err := o.store.UpsertOrder(ctx, view); err != nil {
			return res, err
		}
	}

	o.appendOp(ctx, model.OpEntry{
		Scope: model.ScopeOrchestrator, Action: ActionPostShipment,
		Status:     batchStatus(res),
		Message:    fmt.Sprintf("posted %d/%d orders", res.Succeeded, res.Processed),
		DurationMs: o.since(started),
		Meta:       map[string]any{"processed": res.Processed, "succeeded": res.Succeeded, "failed": res.Failed},
	})
	return res, nil
}

func (o *Orchestrator) postOne(ctx context.Context, ord model.Order, code string) (model.ShipmentResult, error) {
	adapter, err := o.carriers.Get(code)
	if err != nil {
		return model.ShipmentResult{}, err
	}
	return adapter.CreateShipment(ctx, ord)
}

// PushTracking reports tracking numbers back to the marketplace for
// every TRACKED or FAILED_PUSH order. Tracking attach and ship
// confirmation are separate marketplace calls; each is performed at
// most once per order.
func (o *Orchestrator) PushTracking(ctx context.Context) (model.BatchResult, error) {
	started := o.now()
	res := model.BatchResult{Operation: ActionPushTracking}

	views, err := o.store.ListOrders(ctx, store.OrderFilter{
		States: []model.State{model.StateTracked, model.StateFailedPush},
	})
	if err != nil {
		return res, err
	}

	for _, view := range views {
		if view.TrackingNumber == "" {
			continue
		}
		res.Processed++
		opStart := o.now()
		pushErr := o.pushOne(ctx, &view)
		now := o.now()
		view.UpdatedAt = now

		if pushErr != nil {
			view.State = model.StateFailedPush
			view.LastError = pushErr.Error()
			view.RetryCount++
			res.Failed++
			res.Details = append(res.Details, model.OrderResult{
				OrderID: view.OrderID, Carrier: view.CarrierCode, State: view.State, Error: pushErr.Error(),
			})
			o.appendOp(ctx, model.OpEntry{
				Scope: model.ScopeMirakl, Action: ActionPushTracking,
				OrderID: view.OrderID, Carrier: view.CarrierCode,
				Marketplace: o.market.Marketplace(), Status: model.OpError,
				Message: pushErr.Error(), DurationMs: sinceMs(opStart, now),
				Meta: map[string]any{"retry_count": view.RetryCount},
			})
			metrics.OrchestratorOps.WithLabelValues(ActionPushTracking, "error").Inc()
		} else {
			view.State = model.StateMiraklOK
			view.LastError = ""
			res.Succeeded++
			res.Details = append(res.Details, model.OrderResult{
				OrderID: view.OrderID, Carrier: view.CarrierCode,
				TrackingNumber: view.TrackingNumber, State: view.State, OK: true,
			})
			o.appendOp(ctx, model.OpEntry{
				Scope: model.ScopeMirakl, Action: ActionPushTracking,
				OrderID: view.OrderID, Carrier: view.CarrierCode,
				Marketplace: o.market.Marketplace(), Status: model.OpOK,
				Message: "tracking " + view.TrackingNumber, DurationMs: sinceMs(opStart, now),
			})
			metrics.OrchestratorOps.WithLabelValues(ActionPushTracking, "ok").Inc()
			o.publish("order.mirakl_ok", view.OrderID, map[string]any{
				"trackingNumber": view.TrackingNumber,
			})
		}
		if err := o.store.UpsertOrder(ctx, view); err != nil {
			return res, err
		}
	}

	o.appendOp(ctx, model.OpEntry{
		Scope: model.ScopeOrchestrator, Action: ActionPushTracking,
		Status:     batchStatus(res),
		Message:    fmt.Sprintf("pushed %d/%d orders", res.Succeeded, res.Processed),
		DurationMs: o.since(started),
		Meta:       map[string]any{"processed": res.Processed, "succeeded": res.Succeeded, "failed": res.Failed},
	})
	return res, nil
}

// pushOne performs the two marketplace calls, skipping the ones
// already confirmed on a previous attempt.
func (o *Orchestrator) pushOne(ctx context.Context, view *model.OrderView) error {
	if !view.MiraklTrackingUpdated {
		if err := o.market.UpdateTracking(ctx, view.OrderID, view.TrackingNumber, view.CarrierCode, view.CarrierName); err != nil {
			return err
		}
		view.MiraklTrackingUpdated = true
	}
	if !view.MiraklShipUpdated {
		if err := o.market.MarkShipped(ctx, view.OrderID); err != nil {
			return err
		}
		view.MiraklShipUpdated = true
	}
	return nil
}

// RunAll executes the full pipeline once: fetch, post, push.
func (o *Orchestrator) RunAll(ctx context.Context, status string, limit int) ([]model.BatchResult, error) {
	fetch, err := o.FetchOrders(ctx, status, limit, 0)
	if err != nil {
		return nil, err
	}
	post, err := o.PostToCarrier(ctx, "")
	if err != nil {
		return []model.BatchResult{fetch}, err
	}
	push, err := o.PushTracking(ctx)
	if err != nil {
		return []model.BatchResult{fetch, post}, err
	}
	return []model.BatchResult{fetch, post, push}, nil
}

func (o *Orchestrator) viewFromOrder(ord model.Order) model.OrderView {
	now := o.now()
	cod := 0.0
	if ord.COD() {
		cod = ord.TotalAmount
	}
	return model.OrderView{
		OrderID:     ord.OrderID,
		Marketplace: ord.Marketplace,
		BuyerEmail:  ord.BuyerEmail,
		BuyerName:   ord.BuyerName,
		TotalAmount: ord.TotalAmount,
		Currency:    ord.Currency,
		State:       model.StatePendingPost,
		CreatedAt:   now,
		UpdatedAt:   now,

		Reference:        ord.OrderID,
		ConsigneeName:    ord.Shipping.Name,
		ConsigneeAddress: ord.Shipping.Street,
		ConsigneeCity:    ord.Shipping.City,
		ConsigneePostal:  ord.Shipping.PostalCode,
		ConsigneeCountry: ord.Shipping.Country,
		ConsigneePhone:   ord.Shipping.Phone,
		Packages:         ord.Packages,
		WeightKg:         ord.WeightKg,
		ProductType:      ord.ServiceLevel,
		CODAmount:        cod,
		Observations:     ord.Notes,
		OrderDate:        ord.CreatedAt.Format(time.RFC3339),
	}
}

// orderFromView rebuilds the normalized order from its stored view so
// later steps do not need a second marketplace fetch.
func orderFromView(v model.OrderView) model.Order {
	created, _ := time.Parse(time.RFC3339, v.OrderDate)
	payment := ""
	if v.CODAmount > 0 {
		payment = "COD"
	}
	return model.Order{
		OrderID:       v.OrderID,
		Marketplace:   v.Marketplace,
		BuyerName:     v.BuyerName,
		BuyerEmail:    v.BuyerEmail,
		TotalAmount:   v.TotalAmount,
		Currency:      v.Currency,
		WeightKg:      v.WeightKg,
		Packages:      v.Packages,
		PaymentMethod: payment,
		ServiceLevel:  v.ProductType,
		Notes:         v.Observations,
		CreatedAt:     created,
		Shipping: model.Address{
			Name:       v.ConsigneeName,
			Street:     v.ConsigneeAddress,
			City:       v.ConsigneeCity,
			PostalCode: v.ConsigneePostal,
			Country:    v.ConsigneeCountry,
			Phone:      v.ConsigneePhone,
		},
	}
}

func (o *Orchestrator) appendOp(ctx context.Context, e model.OpEntry) {
	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now()
	}
	if err := o.store.AppendOp(ctx, e); err != nil {
		o.log.Error("append operation log", zap.String("action", e.Action), zap.Error(err))
	}
}

func (o *Orchestrator) publish(typ, orderID string, data map[string]any) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(events.Event{Type: typ, OrderID: orderID, At: o.now(), Data: data})
}

func (o *Orchestrator) since(start time.Time) int64 { return sinceMs(start, o.now()) }

func sinceMs(start, end time.Time) int64 { return end.Sub(start).Milliseconds() }

func batchStatus(res model.BatchResult) model.OpStatus {
	switch {
	case res.Failed == 0:
		return model.OpOK
	case res.Succeeded == 0 && res.Processed > 0:
		return model.OpError
	default:
		return model.OpWarning
	}
}

func mustName(reg *carriers.Registry, code string) string {
	if a, err := reg.Get(code); err == nil {
		return a.Name()
	}
	return code
}
