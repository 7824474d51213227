package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"shipflow/internal/carriers"
	"shipflow/internal/config"
	"shipflow/internal/events"
	"shipflow/internal/model"
	"shipflow/internal/selector"
	"shipflow/internal/store"
)

type fakeMarket struct {
	orders     []model.Order
	fetchErr   error
	trackErr   error
	shipErr    error
	trackCalls []string
	shipCalls  []string
}

func (f *fakeMarket) Marketplace() string { return "mirakl" }

func (f *fakeMarket) GetOrders(ctx context.Context, status string, limit, offset int) ([]model.Order, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.orders, nil
}

func (f *fakeMarket) UpdateTracking(ctx context.Context, orderID, tracking, code, name string) error {
	if f.trackErr != nil {
		return f.trackErr
	}
	f.trackCalls = append(f.trackCalls, orderID)
	return nil
}

func (f *fakeMarket) MarkShipped(ctx context.Context, orderID string) error {
	if f.shipErr != nil {
		return f.shipErr
	}
	f.shipCalls = append(f.shipCalls, orderID)
	return nil
}

func testOrder(id string, weight float64) model.Order {
	return model.Order{
		OrderID:     id,
		Marketplace: "mirakl",
		BuyerName:   "Juan Pérez",
		TotalAmount: 45.99,
		Currency:    "EUR",
		WeightKg:    weight,
		Packages:    1,
		Shipping: model.Address{
			Name: "Juan Pérez", Street: "Calle Mayor 123", City: "Madrid",
			PostalCode: "28001", Country: "ES",
		},
	}
}

func newTestOrchestrator(t *testing.T, mk Marketplace) (*Orchestrator, store.Store) {
	t.Helper()
	st := store.NewMemory()
	reg := carriers.NewRegistry(config.Config{}, carriers.NewClient(0), zap.NewNop())
	orc := New(st, reg, mk, selector.Default(), events.NewMemoryBroker(), zap.NewNop())
	return orc, st
}

func TestFetchOrdersIdempotent(t *testing.T) {
	mk := &fakeMarket{orders: []model.Order{testOrder("MIR-100", 2.5)}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	if _, err := orc.FetchOrders(ctx, "PENDING", 10, 0); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	rec, err := st.GetOrder(ctx, "MIR-100")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if rec.State != model.StatePendingPost {
		t.Fatalf("state = %s, want PENDING_POST", rec.State)
	}

	// advance the order, then fetch again: it must not be reset
	rec.State = model.StatePosted
	if err := st.UpsertOrder(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.FetchOrders(ctx, "PENDING", 10, 0); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	rec, _ = st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StatePosted {
		t.Fatalf("refetch reset state to %s", rec.State)
	}

	views, _ := st.ListOrders(ctx, store.OrderFilter{})
	if len(views) != 1 {
		t.Fatalf("want 1 row after refetch, got %d", len(views))
	}
}

func TestFetchOrdersErrorLogged(t *testing.T) {
	mk := &fakeMarket{fetchErr: errors.New("mirakl down")}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	if _, err := orc.FetchOrders(ctx, "PENDING", 10, 0); err == nil {
		t.Fatal("want error from failed fetch")
	}
	ops, _ := st.ListOps(ctx, store.OpFilter{Action: ActionFetchOrders, Status: model.OpError})
	if len(ops) != 1 {
		t.Fatalf("want 1 ERROR op entry, got %d", len(ops))
	}
	if ops[0].Scope != model.ScopeMirakl {
		t.Errorf("scope = %s", ops[0].Scope)
	}
}

func TestPostToCarrierSelectsAndPosts(t *testing.T) {
	mk := &fakeMarket{orders: []model.Order{testOrder("MIR-100", 2.5)}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	if _, err := orc.FetchOrders(ctx, "PENDING", 10, 0); err != nil {
		t.Fatal(err)
	}
	res, err := orc.PostToCarrier(ctx, "")
	if err != nil {
		t.Fatalf("post to carrier: %v", err)
	}
	if res.Processed != 1 || res.Succeeded != 1 {
		t.Fatalf("batch = %+v", res)
	}

	rec, _ := st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StatePosted {
		t.Fatalf("state = %s, want POSTED", rec.State)
	}
	if rec.CarrierCode != "tipsa" {
		t.Errorf("carrier = %s, want tipsa (domestic standard)", rec.CarrierCode)
	}
	if rec.TrackingNumber == "" {
		t.Error("tracking number not recorded")
	}
}

func TestPostToCarrierPartialFailure(t *testing.T) {
	bad := testOrder("MIR-BAD", 2.5)
	bad.Shipping.PostalCode = ""
	mk := &fakeMarket{orders: []model.Order{bad, testOrder("MIR-OK", 2.5)}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	if _, err := orc.FetchOrders(ctx, "PENDING", 10, 0); err != nil {
		t.Fatal(err)
	}
	res, err := orc.PostToCarrier(ctx, "")
	if err != nil {
		t.Fatalf("batch must not abort on one bad order: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("batch = %+v", res)
	}

	badRec, _ := st.GetOrder(ctx, "MIR-BAD")
	if badRec.State != model.StateFailedPost {
		t.Errorf("bad order state = %s, want FAILED_POST", badRec.State)
	}
	if badRec.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", badRec.RetryCount)
	}
	if !strings.Contains(badRec.LastError, "postal_code") {
		t.Errorf("last error = %q, want postal_code mention", badRec.LastError)
	}
	okRec, _ := st.GetOrder(ctx, "MIR-OK")
	if okRec.State != model.StatePosted {
		t.Errorf("good order state = %s, want POSTED", okRec.State)
	}

	errOps, _ := st.ListOps(ctx, store.OpFilter{Action: ActionPostShipment, Status: model.OpError, OrderID: "MIR-BAD"})
	if len(errOps) != 1 {
		t.Fatalf("want 1 ERROR op row for the failed order, got %d", len(errOps))
	}
}

func TestPostToCarrierRetriesFailed(t *testing.T) {
	bad := testOrder("MIR-BAD", 2.5)
	bad.Shipping.PostalCode = ""
	mk := &fakeMarket{orders: []model.Order{bad}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	_, _ = orc.FetchOrders(ctx, "PENDING", 10, 0)
	_, _ = orc.PostToCarrier(ctx, "")

	// fix the address, retry picks the FAILED_POST order up again
	rec, _ := st.GetOrder(ctx, "MIR-BAD")
	rec.ConsigneePostal = "28001"
	_ = st.UpsertOrder(ctx, rec)

	res, err := orc.PostToCarrier(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("retry batch = %+v", res)
	}
	rec, _ = st.GetOrder(ctx, "MIR-BAD")
	if rec.State != model.StatePosted {
		t.Fatalf("state after retry = %s", rec.State)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 (success does not increment)", rec.RetryCount)
	}
	if rec.LastError != "" {
		t.Errorf("last error not cleared: %q", rec.LastError)
	}
}

func TestPostToCarrierFilter(t *testing.T) {
	heavy := testOrder("MIR-HEAVY", 25)
	std := testOrder("MIR-STD", 2.5)
	std.ServiceLevel = "EXPRESS"
	mk := &fakeMarket{orders: []model.Order{heavy, std}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	_, _ = orc.FetchOrders(ctx, "PENDING", 10, 0)
	res, err := orc.PostToCarrier(ctx, "gls")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Fatalf("filtered batch processed %d, want 1", res.Processed)
	}
	rec, _ := st.GetOrder(ctx, "MIR-HEAVY")
	if rec.State != model.StatePendingPost {
		t.Errorf("filtered-out order state = %s, want PENDING_POST", rec.State)
	}
	rec, _ = st.GetOrder(ctx, "MIR-STD")
	if rec.CarrierCode != "gls" {
		t.Errorf("express order carrier = %s, want gls", rec.CarrierCode)
	}
}

func TestPushTrackingMarksMiraklOK(t *testing.T) {
	mk := &fakeMarket{}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	view := model.OrderView{
		OrderID: "MIR-100", Marketplace: "mirakl", State: model.StateTracked,
		CarrierCode: "tipsa", CarrierName: "TIPSA", TrackingNumber: "1Z123",
	}
	if err := st.UpsertOrder(ctx, view); err != nil {
		t.Fatal(err)
	}

	res, err := orc.PushTracking(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("batch = %+v", res)
	}
	rec, _ := st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StateMiraklOK {
		t.Fatalf("state = %s, want MIRAKL_OK", rec.State)
	}
	if !rec.MiraklTrackingUpdated || !rec.MiraklShipUpdated {
		t.Errorf("confirmation flags = %v/%v", rec.MiraklTrackingUpdated, rec.MiraklShipUpdated)
	}
	if len(mk.trackCalls) != 1 || len(mk.shipCalls) != 1 {
		t.Errorf("marketplace calls = %d tracking, %d ship", len(mk.trackCalls), len(mk.shipCalls))
	}
}

func TestPushTrackingRetrySkipsConfirmedStep(t *testing.T) {
	mk := &fakeMarket{shipErr: errors.New("ship endpoint down")}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	view := model.OrderView{
		OrderID: "MIR-100", Marketplace: "mirakl", State: model.StateTracked,
		CarrierCode: "tipsa", TrackingNumber: "1Z123",
	}
	_ = st.UpsertOrder(ctx, view)

	// first attempt: tracking attaches, ship confirmation fails
	res, err := orc.PushTracking(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("batch = %+v", res)
	}
	rec, _ := st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StateFailedPush {
		t.Fatalf("state = %s, want FAILED_PUSH", rec.State)
	}
	if !rec.MiraklTrackingUpdated || rec.MiraklShipUpdated {
		t.Fatalf("flags after partial push = %v/%v", rec.MiraklTrackingUpdated, rec.MiraklShipUpdated)
	}

	// second attempt must not re-send the tracking call
	mk.shipErr = nil
	if _, err := orc.PushTracking(ctx); err != nil {
		t.Fatal(err)
	}
	rec, _ = st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StateMiraklOK {
		t.Fatalf("state after retry = %s", rec.State)
	}
	if len(mk.trackCalls) != 1 {
		t.Errorf("tracking sent %d times, want 1", len(mk.trackCalls))
	}
}

func TestRunAllFullPipeline(t *testing.T) {
	mk := &fakeMarket{orders: []model.Order{testOrder("MIR-100", 2.5)}}
	orc, st := newTestOrchestrator(t, mk)
	ctx := context.Background()

	if _, err := orc.RunAll(ctx, "PENDING", 10); err != nil {
		t.Fatal(err)
	}
	// tracking push only runs once the poller promotes the order, so
	// after one pass the order sits in POSTED
	rec, _ := st.GetOrder(ctx, "MIR-100")
	if rec.State != model.StatePosted {
		t.Fatalf("state after one pipeline pass = %s, want POSTED", rec.State)
	}
}
