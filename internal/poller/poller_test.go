package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"shipflow/internal/carriers"
	"shipflow/internal/events"
	"shipflow/internal/model"
	"shipflow/internal/store"
)

type stubAdapter struct {
	code   string
	status model.ShipmentStatus
	err    error
	calls  int
}

func (s *stubAdapter) Code() string { return s.code }
func (s *stubAdapter) Name() string { return s.code }

func (s *stubAdapter) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	return model.ShipmentResult{}, errors.New("not used")
}

func (s *stubAdapter) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.status, nil
}

func (s *stubAdapter) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	return errors.New("not used")
}

func (s *stubAdapter) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	return nil, "", errors.New("not used")
}

type pushRecorder struct {
	calls []string
	err   error
}

func (r *pushRecorder) UpdateTracking(ctx context.Context, orderID, tracking, code, name string) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, orderID)
	return nil
}

func newTestPoller(t *testing.T, adapter *stubAdapter, mk Marketplace) (*Poller, store.Store) {
	t.Helper()
	st := store.NewMemory()
	reg := carriers.NewEmptyRegistry()
	reg.Register(adapter)
	return New(st, reg, mk, events.NewMemoryBroker(), time.Minute, zap.NewNop()), st
}

func seedOrder(t *testing.T, st store.Store, state model.State, status model.ShipmentStatus) {
	t.Helper()
	err := st.UpsertOrder(context.Background(), model.OrderView{
		OrderID: "MIR-100", Marketplace: "mirakl", State: state,
		CarrierCode: "tipsa", CarrierName: "TIPSA",
		TrackingNumber: "1Z123", CarrierStatus: status,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceUnchangedPromotesToAwaiting(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", status: model.StatusCreated}
	p, st := newTestPoller(t, adapter, &pushRecorder{})
	seedOrder(t, st, model.StatePosted, model.StatusCreated)

	res := p.RunOnce(context.Background())
	if res.Checked != 1 || res.Updated != 0 {
		t.Fatalf("cycle = %+v", res)
	}
	rec, _ := st.GetOrder(context.Background(), "MIR-100")
	if rec.State != model.StateAwaitingTracking {
		t.Fatalf("state = %s, want AWAITING_TRACKING", rec.State)
	}
}

func TestRunOnceChangeTracksAndPushes(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", status: model.StatusInTransit}
	push := &pushRecorder{}
	p, st := newTestPoller(t, adapter, push)
	seedOrder(t, st, model.StateAwaitingTracking, model.StatusCreated)

	res := p.RunOnce(context.Background())
	if res.Updated != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	rec, _ := st.GetOrder(context.Background(), "MIR-100")
	if rec.State != model.StateTracked {
		t.Fatalf("state = %s, want TRACKED", rec.State)
	}
	if rec.CarrierStatus != model.StatusInTransit {
		t.Errorf("status = %s", rec.CarrierStatus)
	}
	if len(push.calls) != 1 {
		t.Errorf("tracking pushed %d times, want 1", len(push.calls))
	}

	ops, _ := st.ListOps(context.Background(), store.OpFilter{Action: "tracking_update", Status: model.OpOK})
	if len(ops) != 1 {
		t.Fatalf("want 1 tracking_update op, got %d", len(ops))
	}
}

func TestRunOnceRegressionDoesNotPush(t *testing.T) {
	// a carrier reporting an earlier status still records the change
	// but must not re-notify the marketplace
	adapter := &stubAdapter{code: "tipsa", status: model.StatusPickedUp}
	push := &pushRecorder{}
	p, st := newTestPoller(t, adapter, push)
	seedOrder(t, st, model.StateTracked, model.StatusInTransit)

	if res := p.RunOnce(context.Background()); res.Updated != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	if len(push.calls) != 0 {
		t.Errorf("regression pushed tracking %d times", len(push.calls))
	}
}

func TestApplyStatusKeepsCompletedState(t *testing.T) {
	// late carrier updates (webhook or single-order trigger) for an
	// order already confirmed with the marketplace refresh the recorded
	// status but must not demote the state or re-notify
	adapter := &stubAdapter{code: "tipsa", status: model.StatusDelivered}
	push := &pushRecorder{}
	p, st := newTestPoller(t, adapter, push)
	ctx := context.Background()
	err := st.UpsertOrder(ctx, model.OrderView{
		OrderID: "MIR-100", Marketplace: "mirakl", State: model.StateMiraklOK,
		CarrierCode: "tipsa", CarrierName: "TIPSA",
		TrackingNumber: "1Z123", CarrierStatus: model.StatusOutForDelivery,
		MiraklTrackingUpdated: true, MiraklShipUpdated: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	view, _ := st.GetOrder(ctx, "MIR-100")
	changed, err := p.ApplyStatus(ctx, view, model.StatusDelivered)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("status change not reported")
	}
	rec, _ := st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StateMiraklOK {
		t.Fatalf("state = %s, want MIRAKL_OK", rec.State)
	}
	if rec.CarrierStatus != model.StatusDelivered {
		t.Errorf("status = %s, want DELIVERED", rec.CarrierStatus)
	}
	if len(push.calls) != 0 {
		t.Errorf("completed order pushed tracking %d times", len(push.calls))
	}
}

func TestRunOnceCarrierErrorMarksFailedTracking(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", err: errors.New("timeout")}
	p, st := newTestPoller(t, adapter, &pushRecorder{})
	seedOrder(t, st, model.StateAwaitingTracking, model.StatusCreated)

	res := p.RunOnce(context.Background())
	if res.Errors != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	rec, _ := st.GetOrder(context.Background(), "MIR-100")
	if rec.State != model.StateFailedTracking {
		t.Fatalf("state = %s, want FAILED_TRACKING", rec.State)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry count = %d", rec.RetryCount)
	}
}

func TestRunOnceErrorKeepsTrackedState(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", err: errors.New("timeout")}
	p, st := newTestPoller(t, adapter, &pushRecorder{})
	seedOrder(t, st, model.StateTracked, model.StatusInTransit)

	p.RunOnce(context.Background())
	rec, _ := st.GetOrder(context.Background(), "MIR-100")
	if rec.State != model.StateTracked {
		t.Fatalf("transient error downgraded state to %s", rec.State)
	}
	if rec.LastError == "" {
		t.Error("error not recorded")
	}
}

func TestRunOnceSkipsTerminalAndPrePost(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", status: model.StatusDelivered}
	p, st := newTestPoller(t, adapter, &pushRecorder{})
	ctx := context.Background()

	for i, state := range []model.State{model.StateMiraklOK, model.StatePendingPost, model.StateFailedPost} {
		id := string(rune('A' + i))
		_ = st.UpsertOrder(ctx, model.OrderView{
			OrderID: "ORD-" + id, State: state,
			CarrierCode: "tipsa", TrackingNumber: "1Z" + id,
		})
	}
	res := p.RunOnce(ctx)
	if res.Checked != 0 {
		t.Fatalf("checked %d terminal/pre-post orders, want 0", res.Checked)
	}
	if adapter.calls != 0 {
		t.Errorf("carrier queried %d times", adapter.calls)
	}
}

func TestStartStop(t *testing.T) {
	adapter := &stubAdapter{code: "tipsa", status: model.StatusCreated}
	p, _ := newTestPoller(t, adapter, &pushRecorder{})
	p.Interval = 10 * time.Millisecond
	p.Start()
	time.Sleep(30 * time.Millisecond)
	close(p.Stop)
	time.Sleep(20 * time.Millisecond)
	calls := adapter.calls
	time.Sleep(30 * time.Millisecond)
	if adapter.calls != calls {
		t.Fatal("poller kept running after stop")
	}
}
