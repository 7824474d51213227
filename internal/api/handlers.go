package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"shipflow/internal/buildinfo"
	"shipflow/internal/model"
	"shipflow/internal/store"
	"shipflow/internal/webhooks"
)

// FetchHandler handles POST /v1/orchestrator/fetch
func (s *Server) FetchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOperator(w, r) {
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "PENDING"
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	res, err := s.Orc.FetchOrders(r.Context(), status, limit, offset)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Fetch orders failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PostHandler handles POST /v1/orchestrator/post
func (s *Server) PostHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOperator(w, r) {
		return
	}
	carrier := r.URL.Query().Get("carrier")
	if carrier != "" {
		if _, err := s.Carriers.Get(carrier); err != nil {
			writeProblem(w, http.StatusBadRequest, "Unknown carrier", err.Error(), r.URL.Path)
			return
		}
	}
	res, err := s.Orc.PostToCarrier(r.Context(), carrier)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Post to carrier failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PushHandler handles POST /v1/orchestrator/push
func (s *Server) PushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOperator(w, r) {
		return
	}
	res, err := s.Orc.PushTracking(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Push tracking failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunAllHandler handles POST /v1/orchestrator/run
func (s *Server) RunAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOperator(w, r) {
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "PENDING"
	}
	results, err := s.Orc.RunAll(r.Context(), status, queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Pipeline run failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": results})
}

// PollerRunHandler handles POST /v1/poller/run: one tracking cycle, or
// one order when order_id is given.
func (s *Server) PollerRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOperator(w, r) {
		return
	}
	if id := r.URL.Query().Get("order_id"); id != "" {
		view, err := s.Store.GetOrder(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
			return
		}
		changed, err := s.Poller.PollOrder(r.Context(), view)
		if err != nil {
			writeProblem(w, http.StatusBadGateway, "Tracking query failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orderId": id, "changed": changed})
		return
	}
	res := s.Poller.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, res)
}

// OrdersHandler handles GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f := store.OrderFilter{
		Carrier: r.URL.Query().Get("carrier"),
		Limit:   queryInt(r, "limit", 0),
	}
	if st := r.URL.Query().Get("state"); st != "" {
		for _, part := range strings.Split(st, ",") {
			f.States = append(f.States, model.State(part))
		}
	}
	items, err := s.Store.ListOrders(r.Context(), f)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// OrdersExportHandler handles GET /v1/orders/export.csv
func (s *Server) OrdersExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := s.Store.ListOrders(r.Context(), store.OrderFilter{})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Export failed", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="orders_view.csv"`)
	if err := store.WriteOrdersCSV(w, items); err != nil {
		s.Log.Error("orders export", zap.Error(err))
	}
}

// OrderByIDHandler handles GET /v1/orders/{id} plus the /label and
// /cancel subresources.
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		view, err := s.Store.GetOrder(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case sub == "label" && r.Method == http.MethodGet:
		s.labelForOrder(w, r, id)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.cancelOrder(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) labelForOrder(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.Store.GetOrder(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if view.CarrierCode == "" || view.TrackingNumber == "" {
		writeProblem(w, http.StatusConflict, "Order not posted", "no shipment exists yet", r.URL.Path)
		return
	}
	adapter, err := s.Carriers.Get(view.CarrierCode)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Carrier unavailable", err.Error(), r.URL.Path)
		return
	}
	content, format, err := adapter.GetLabel(r.Context(), view.TrackingNumber)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Label fetch failed", err.Error(), r.URL.Path)
		return
	}
	switch format {
	case "pdf", "PDF":
		w.Header().Set("Content-Type", "application/pdf")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	_, _ = w.Write(content)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request, id string) {
	if !s.requireOperator(w, r) {
		return
	}
	view, err := s.Store.GetOrder(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if view.CarrierCode == "" || view.TrackingNumber == "" {
		writeProblem(w, http.StatusConflict, "Order not posted", "no shipment exists yet", r.URL.Path)
		return
	}
	adapter, err := s.Carriers.Get(view.CarrierCode)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Carrier unavailable", err.Error(), r.URL.Path)
		return
	}
	reason := r.URL.Query().Get("reason")
	if err := adapter.CancelShipment(r.Context(), view.TrackingNumber, reason); err != nil {
		writeProblem(w, http.StatusBadGateway, "Cancel failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": id, "cancelled": true})
}

// LogsHandler handles GET /v1/logs
func (s *Server) LogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f := store.OpFilter{
		Scope:   model.Scope(r.URL.Query().Get("scope")),
		Action:  r.URL.Query().Get("action"),
		Status:  model.OpStatus(r.URL.Query().Get("status")),
		OrderID: r.URL.Query().Get("order_id"),
		Limit:   queryInt(r, "limit", 0),
	}
	items, err := s.Store.ListOps(r.Context(), f)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List logs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// LogsExportHandler handles GET /v1/logs/export.csv
func (s *Server) LogsExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// the CSV backend streams its log file as-is
	if cs, ok := s.Store.(*store.CSV); ok {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="operations.csv"`)
		if err := cs.ExportOps(w); err != nil {
			s.Log.Error("logs export", zap.Error(err))
		}
		return
	}
	items, err := s.Store.ListOps(r.Context(), store.OpFilter{})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Export failed", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="operations.csv"`)
	if err := store.WriteOpsCSV(w, items); err != nil {
		s.Log.Error("logs export", zap.Error(err))
	}
}

// CarriersHandler handles GET /v1/carriers
func (s *Server) CarriersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"carriers": s.Carriers.Codes()})
}

// WebhookHandler handles POST /v1/webhooks/{carrier}
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	carrier := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
	if carrier == "" || strings.Contains(carrier, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if _, err := s.Carriers.Get(carrier); err != nil {
		writeProblem(w, http.StatusNotFound, "Unknown carrier", carrier, r.URL.Path)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read body failed", err.Error(), r.URL.Path)
		return
	}
	err = s.Receiver.Ingest(r.Context(), carrier, body,
		r.Header.Get("X-Signature"), r.Header.Get("X-Timestamp"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
	case errors.Is(err, webhooks.ErrBadSignature), errors.Is(err, webhooks.ErrStale):
		writeProblem(w, http.StatusUnauthorized, "Rejected", err.Error(), r.URL.Path)
	case errors.Is(err, webhooks.ErrReplay):
		// replays are acknowledged so carriers stop retrying
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "duplicate": true})
	case errors.Is(err, webhooks.ErrUnknownOrder):
		writeProblem(w, http.StatusNotFound, "Unknown tracking number", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusBadRequest, "Webhook rejected", err.Error(), r.URL.Path)
	}
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.ListOrders(r.Context(), store.OrderFilter{Limit: 1}); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// VersionHandler handles GET /version
func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
