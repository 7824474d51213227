// Package poller periodically polls carriers for tracking updates and
// applies status changes to the orders view.
package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipflow/internal/carriers"
	"shipflow/internal/events"
	"shipflow/internal/metrics"
	"shipflow/internal/model"
	"shipflow/internal/store"
)

// Marketplace is the tracking push surface the poller needs when a
// shipment status progresses.
type Marketplace interface {
	UpdateTracking(ctx context.Context, orderID, trackingNumber, carrierCode, carrierName string) error
}

// Poller owns the background tracking loop. One goroutine, stopped via
// the Stop channel.
type Poller struct {
	Store    store.Store
	Carriers *carriers.Registry
	Market   Marketplace
	Broker   events.Broker
	Interval time.Duration
	Stop     chan struct{}

	log *zap.Logger
	now func() time.Time
}

func New(st store.Store, reg *carriers.Registry, mk Marketplace, broker events.Broker, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		Store:    st,
		Carriers: reg,
		Market:   mk,
		Broker:   broker,
		Interval: interval,
		Stop:     make(chan struct{}),
		log:      log.Named("poller"),
		now:      time.Now,
	}
}

func (p *Poller) Start() {
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.Stop:
				return
			case <-ticker.C:
				p.RunOnce(context.Background())
			}
		}
	}()
}

// CycleResult summarizes one polling pass.
type CycleResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// RunOnce polls every order that has a carrier and is still in flight.
// Orders in MIRAKL_OK or pre-post states are skipped.
func (p *Poller) RunOnce(ctx context.Context) CycleResult {
	var res CycleResult
	views, err := p.Store.ListOrders(ctx, store.OrderFilter{
		RequireCarrier: true,
		ExcludeStates: []model.State{
			model.StateMiraklOK, model.StatePendingPost, model.StateFailedPost,
		},
	})
	if err != nil {
		p.log.Error("list orders", zap.Error(err))
		return res
	}
	for _, view := range views {
		if view.TrackingNumber == "" {
			continue
		}
		res.Checked++
		changed, err := p.PollOrder(ctx, view)
		switch {
		case err != nil:
			res.Errors++
		case changed:
			res.Updated++
		}
	}
	metrics.PollerCycles.Inc()
	p.log.Info("poll cycle done",
		zap.Int("checked", res.Checked), zap.Int("updated", res.Updated), zap.Int("errors", res.Errors))
	return res
}

// PollOrder fetches the current carrier status for one order and
// applies it. Returns whether the stored status changed.
func (p *Poller) PollOrder(ctx context.Context, view model.OrderView) (bool, error) {
	adapter, err := p.Carriers.Get(view.CarrierCode)
	if err != nil {
		return false, err
	}
	status, err := adapter.GetShipmentStatus(ctx, view.TrackingNumber)
	if err != nil {
		p.markTrackingFailed(ctx, &view, err)
		return false, err
	}
	return p.ApplyStatus(ctx, view, status)
}

// ApplyStatus records a carrier status for an order: promotes POSTED to
// AWAITING_TRACKING on the first unchanged check, to TRACKED on a
// change, and pushes the tracking number to the marketplace when the
// status meaningfully progressed. Orders already in MIRAKL_OK keep
// their state; a late carrier update only refreshes the recorded
// status. Shared with the webhook ingest path.
func (p *Poller) ApplyStatus(ctx context.Context, view model.OrderView, status model.ShipmentStatus) (bool, error) {
	prev := view.CarrierStatus
	changed := status != prev
	now := p.now()
	view.UpdatedAt = now

	switch {
	case changed:
		view.CarrierStatus = status
		view.LastError = ""
		if view.State != model.StateMiraklOK {
			view.State = model.StateTracked
		}
	case view.State == model.StatePosted:
		// first check with no movement; the shipment is confirmed live
		view.State = model.StateAwaitingTracking
	}

	if changed {
		metrics.PollerUpdates.WithLabelValues(view.CarrierCode).Inc()
		p.appendOp(ctx, model.OpEntry{
			Timestamp: now, Scope: model.ScopeCarrier, Action: "tracking_update",
			OrderID: view.OrderID, Carrier: view.CarrierCode, Status: model.OpOK,
			Message: string(prev) + " -> " + string(status),
			Meta:    map[string]any{"previous": prev, "current": status},
		})
		p.publish("order.status", view.OrderID, map[string]any{
			"previous": prev, "current": status,
		})
		if status.Progressed(prev) && p.Market != nil && !view.MiraklTrackingUpdated {
			if err := p.Market.UpdateTracking(ctx, view.OrderID, view.TrackingNumber, view.CarrierCode, view.CarrierName); err != nil {
				p.log.Warn("push tracking on progress",
					zap.String("order_id", view.OrderID), zap.Error(err))
			} else {
				view.MiraklTrackingUpdated = true
			}
		}
	}

	if err := p.Store.UpsertOrder(ctx, view); err != nil {
		return changed, err
	}
	return changed, nil
}

// markTrackingFailed moves an AWAITING_TRACKING order to
// FAILED_TRACKING after a carrier error. Orders already TRACKED keep
// their state; a transient status query failure does not undo progress.
func (p *Poller) markTrackingFailed(ctx context.Context, view *model.OrderView, cause error) {
	now := p.now()
	view.UpdatedAt = now
	view.LastError = cause.Error()
	if view.State == model.StateAwaitingTracking || view.State == model.StatePosted {
		view.State = model.StateFailedTracking
		view.RetryCount++
	}
	p.appendOp(ctx, model.OpEntry{
		Timestamp: now, Scope: model.ScopeCarrier, Action: "tracking_update",
		OrderID: view.OrderID, Carrier: view.CarrierCode, Status: model.OpError,
		Message: cause.Error(),
	})
	if err := p.Store.UpsertOrder(ctx, *view); err != nil {
		p.log.Error("store tracking failure", zap.String("order_id", view.OrderID), zap.Error(err))
	}
}

func (p *Poller) appendOp(ctx context.Context, e model.OpEntry) {
	e.ID = uuid.NewString()
	if err := p.Store.AppendOp(ctx, e); err != nil {
		p.log.Error("append operation log", zap.Error(err))
	}
}

func (p *Poller) publish(typ, orderID string, data map[string]any) {
	if p.Broker == nil {
		return
	}
	p.Broker.Publish(events.Event{Type: typ, OrderID: orderID, At: p.now(), Data: data})
}
