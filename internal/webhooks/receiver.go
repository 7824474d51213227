package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shipflow/internal/carriers"
	"shipflow/internal/model"
	"shipflow/internal/store"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrStale        = errors.New("webhook timestamp outside allowed window")
	ErrReplay       = errors.New("webhook event already processed")
	ErrUnknownOrder = errors.New("no order matches tracking number")
)

// StatusApplier applies a normalized carrier status to an order. The
// tracking poller provides the production implementation so webhook
// pushes and polling share one code path.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, view model.OrderView, status model.ShipmentStatus) (bool, error)
}

// Payload is the carrier push body. Carriers that send their native
// status vocabulary get it normalized on ingest.
type Payload struct {
	EventID        string `json:"event_id"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
}

// Receiver validates and applies carrier webhook pushes. Replay
// protection remembers event ids for twice the timestamp window.
type Receiver struct {
	Store   store.Store
	Applier StatusApplier
	Secret  func(carrier string) string

	mu   sync.Mutex
	seen map[string]time.Time

	log *zap.Logger
	now func() time.Time
}

func NewReceiver(st store.Store, applier StatusApplier, secret func(string) string, log *zap.Logger) *Receiver {
	return &Receiver{
		Store:   st,
		Applier: applier,
		Secret:  secret,
		seen:    map[string]time.Time{},
		log:     log.Named("webhooks"),
		now:     time.Now,
	}
}

// Ingest verifies signature, timestamp and replay, resolves the order
// by tracking number, and applies the status update.
func (r *Receiver) Ingest(ctx context.Context, carrier string, body []byte, signature, timestamp string) error {
	if secret := r.Secret(carrier); secret != "" {
		if !VerifyHMAC(secret, body, signature) {
			return ErrBadSignature
		}
		if !VerifyTimestamp(timestamp, r.now()) {
			return ErrStale
		}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("malformed webhook body: %w", err)
	}
	if p.TrackingNumber == "" || p.Status == "" {
		return errors.New("webhook body missing tracking_number or status")
	}
	if p.EventID != "" && !r.remember(p.EventID) {
		return ErrReplay
	}

	view, err := r.findByTracking(ctx, carrier, p.TrackingNumber)
	if err != nil {
		return err
	}
	status := carriers.NormalizeStatus(p.Status)
	changed, err := r.Applier.ApplyStatus(ctx, view, status)
	if err != nil {
		return err
	}
	r.log.Info("webhook applied",
		zap.String("carrier", carrier), zap.String("order_id", view.OrderID),
		zap.String("status", string(status)), zap.Bool("changed", changed))
	return nil
}

func (r *Receiver) findByTracking(ctx context.Context, carrier, tracking string) (model.OrderView, error) {
	views, err := r.Store.ListOrders(ctx, store.OrderFilter{Carrier: carrier})
	if err != nil {
		return model.OrderView{}, err
	}
	for _, v := range views {
		if v.TrackingNumber == tracking {
			return v, nil
		}
	}
	return model.OrderView{}, ErrUnknownOrder
}

// remember reports whether the event id is new, recording it if so.
func (r *Receiver) remember(eventID string) bool {
	now := r.now()
	cutoff := now.Add(-2 * MaxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, at := range r.seen {
		if at.Before(cutoff) {
			delete(r.seen, id)
		}
	}
	if _, dup := r.seen[eventID]; dup {
		return false
	}
	r.seen[eventID] = now
	return true
}
