package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"shipflow/internal/model"
)

// OpsHeader is the fixed header of operations.csv. Downstream consumers
// parse it by name; do not reorder.
var OpsHeader = []string{
	"timestamp_iso", "scope", "action", "order_id", "carrier",
	"marketplace", "status", "message", "duration_ms", "meta_json",
}

// OrdersHeader is the fixed header of orders_view.csv, one row per
// order id, replaced in place on upsert.
var OrdersHeader = []string{
	"order_id", "marketplace", "buyer_email", "buyer_name",
	"total_amount", "currency",
	"carrier_code", "carrier_name", "tracking_number", "label_url", "carrier_status",
	"internal_state", "created_at", "updated_at",
	"error_message", "retry_count",
	"mirakl_tracking_updated", "mirakl_ship_updated",
	"reference", "consignee_name", "consignee_address", "consignee_city",
	"consignee_postal_code", "consignee_country", "consignee_phone",
	"packages", "weight_kg", "volume", "shipping_cost", "product_type",
	"cod_amount", "observations", "package_type", "order_date",
	"client_name", "client_code", "return_flag", "multi_reference",
}

// CSV persists both tables as flat files under a data directory:
// operations.csv (append-only) and orders_view.csv (rewritten on
// upsert). Orders are kept in memory and the file is the durable copy;
// concurrent writers are serialized by a mutex, last write wins.
type CSV struct {
	dir        string
	opsPath    string
	ordersPath string

	mu     sync.Mutex
	orders map[string]model.OrderView
	seq    []string // insertion order of order ids, keeps file diffs stable
}

// NewCSV opens (or creates) the CSV store under dir.
func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &model.StorageError{Op: "mkdir", Err: err}
	}
	s := &CSV{
		dir:        dir,
		opsPath:    filepath.Join(dir, "operations.csv"),
		ordersPath: filepath.Join(dir, "orders_view.csv"),
		orders:     map[string]model.OrderView{},
	}
	if err := s.ensureOpsFile(); err != nil {
		return nil, err
	}
	if err := s.loadOrders(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSV) Close() error { return nil }

func (s *CSV) ensureOpsFile() error {
	if _, err := os.Stat(s.opsPath); err == nil {
		return nil
	}
	f, err := os.OpenFile(s.opsPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return &model.StorageError{Op: "create operations.csv", Err: err}
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(OpsHeader); err != nil {
		return &model.StorageError{Op: "write ops header", Err: err}
	}
	w.Flush()
	return w.Error()
}

// AppendOp appends exactly one row, never rewrites existing ones.
func (s *CSV) AppendOp(ctx context.Context, e model.OpEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	row := opToRow(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.opsPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &model.StorageError{Op: "open operations.csv", Err: err}
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return &model.StorageError{Op: "append op", Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &model.StorageError{Op: "flush op", Err: err}
	}
	return nil
}

func (s *CSV) ListOps(ctx context.Context, f OpFilter) ([]model.OpEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, err := os.Open(s.opsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &model.StorageError{Op: "open operations.csv", Err: err}
	}
	defer fh.Close()
	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(OpsHeader)
	if _, err := r.Read(); err != nil { // header
		if err == io.EOF {
			return nil, nil
		}
		return nil, &model.StorageError{Op: "read ops header", Err: err}
	}
	var out []model.OpEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &model.StorageError{Op: "read op row", Err: err}
		}
		e := opFromRow(row)
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func opToRow(e model.OpEntry) []string {
	meta := "{}"
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err == nil {
			meta = string(b)
		}
	}
	return []string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Scope),
		e.Action,
		e.OrderID,
		e.Carrier,
		e.Marketplace,
		string(e.Status),
		e.Message,
		strconv.FormatInt(e.DurationMs, 10),
		meta,
	}
}

func opFromRow(row []string) model.OpEntry {
	ts, _ := time.Parse(time.RFC3339Nano, row[0])
	dur, _ := strconv.ParseInt(row[8], 10, 64)
	var meta map[string]any
	if row[9] != "" && row[9] != "{}" {
		_ = json.Unmarshal([]byte(row[9]), &meta)
	}
	return model.OpEntry{
		Timestamp:   ts,
		Scope:       model.Scope(row[1]),
		Action:      row[2],
		OrderID:     row[3],
		Carrier:     row[4],
		Marketplace: row[5],
		Status:      model.OpStatus(row[6]),
		Message:     row[7],
		DurationMs:  dur,
		Meta:        meta,
	}
}

// UpsertOrder inserts or replaces the record for rec.OrderID and
// rewrites the orders file atomically (temp file + rename).
func (s *CSV) UpsertOrder(ctx context.Context, rec model.OrderView) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.orders[rec.OrderID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.seq = append(s.seq, rec.OrderID)
	}
	rec.UpdatedAt = now
	s.orders[rec.OrderID] = rec
	return s.flushOrdersLocked()
}

func (s *CSV) GetOrder(ctx context.Context, orderID string) (model.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok {
		return model.OrderView{}, ErrNotFound
	}
	return rec, nil
}

func (s *CSV) ListOrders(ctx context.Context, f OrderFilter) ([]model.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderView
	for _, id := range s.seq {
		rec := s.orders[id]
		if !f.Match(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *CSV) flushOrdersLocked() error {
	tmp, err := os.CreateTemp(s.dir, "orders_view-*.tmp")
	if err != nil {
		return &model.StorageError{Op: "create temp orders file", Err: err}
	}
	defer os.Remove(tmp.Name())
	w := csv.NewWriter(tmp)
	if err := w.Write(OrdersHeader); err != nil {
		tmp.Close()
		return &model.StorageError{Op: "write orders header", Err: err}
	}
	for _, id := range s.seq {
		if err := w.Write(orderToRow(s.orders[id])); err != nil {
			tmp.Close()
			return &model.StorageError{Op: "write order row", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return &model.StorageError{Op: "flush orders", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &model.StorageError{Op: "close temp orders file", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.ordersPath); err != nil {
		return &model.StorageError{Op: "rename orders file", Err: err}
	}
	return nil
}

func (s *CSV) loadOrders() error {
	fh, err := os.Open(s.ordersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &model.StorageError{Op: "open orders_view.csv", Err: err}
	}
	defer fh.Close()
	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(OrdersHeader)
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil
		}
		return &model.StorageError{Op: "read orders header", Err: err}
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &model.StorageError{Op: "read order row", Err: err}
		}
		rec := orderFromRow(row)
		if _, ok := s.orders[rec.OrderID]; !ok {
			s.seq = append(s.seq, rec.OrderID)
		}
		s.orders[rec.OrderID] = rec
	}
	return nil
}

func orderToRow(rec model.OrderView) []string {
	return []string{
		rec.OrderID,
		rec.Marketplace,
		rec.BuyerEmail,
		rec.BuyerName,
		fmtFloat(rec.TotalAmount),
		rec.Currency,
		rec.CarrierCode,
		rec.CarrierName,
		rec.TrackingNumber,
		rec.LabelURL,
		string(rec.CarrierStatus),
		string(rec.State),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.LastError,
		strconv.Itoa(rec.RetryCount),
		strconv.FormatBool(rec.MiraklTrackingUpdated),
		strconv.FormatBool(rec.MiraklShipUpdated),
		rec.Reference,
		rec.ConsigneeName,
		rec.ConsigneeAddress,
		rec.ConsigneeCity,
		rec.ConsigneePostal,
		rec.ConsigneeCountry,
		rec.ConsigneePhone,
		strconv.Itoa(rec.Packages),
		fmtFloat(rec.WeightKg),
		fmtFloat(rec.Volume),
		fmtFloat(rec.ShippingCost),
		rec.ProductType,
		fmtFloat(rec.CODAmount),
		rec.Observations,
		rec.PackageType,
		rec.OrderDate,
		rec.ClientName,
		rec.ClientCode,
		strconv.FormatBool(rec.ReturnFlag),
		rec.MultiReference,
	}
}

func orderFromRow(row []string) model.OrderView {
	rec := model.OrderView{
		OrderID:          row[0],
		Marketplace:      row[1],
		BuyerEmail:       row[2],
		BuyerName:        row[3],
		Currency:         row[5],
		CarrierCode:      row[6],
		CarrierName:      row[7],
		TrackingNumber:   row[8],
		LabelURL:         row[9],
		CarrierStatus:    model.ShipmentStatus(row[10]),
		State:            model.State(row[11]),
		LastError:        row[14],
		Reference:        row[18],
		ConsigneeName:    row[19],
		ConsigneeAddress: row[20],
		ConsigneeCity:    row[21],
		ConsigneePostal:  row[22],
		ConsigneeCountry: row[23],
		ConsigneePhone:   row[24],
		ProductType:      row[29],
		Observations:     row[31],
		PackageType:      row[32],
		OrderDate:        row[33],
		ClientName:       row[34],
		ClientCode:       row[35],
		MultiReference:   row[37],
	}
	rec.TotalAmount, _ = strconv.ParseFloat(row[4], 64)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, row[12])
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, row[13])
	rec.RetryCount, _ = strconv.Atoi(row[15])
	rec.MiraklTrackingUpdated, _ = strconv.ParseBool(row[16])
	rec.MiraklShipUpdated, _ = strconv.ParseBool(row[17])
	rec.Packages, _ = strconv.Atoi(row[25])
	rec.WeightKg, _ = strconv.ParseFloat(row[26], 64)
	rec.Volume, _ = strconv.ParseFloat(row[27], 64)
	rec.ShippingCost, _ = strconv.ParseFloat(row[28], 64)
	rec.CODAmount, _ = strconv.ParseFloat(row[30], 64)
	rec.ReturnFlag, _ = strconv.ParseBool(row[36])
	return rec
}

func fmtFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ExportOps streams the raw operations CSV to w.
func (s *CSV) ExportOps(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, err := os.Open(s.opsPath)
	if err != nil {
		return &model.StorageError{Op: "open operations.csv", Err: err}
	}
	defer fh.Close()
	_, err = io.Copy(w, fh)
	return err
}
