package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shipflow/internal/model"
)

// Postgres keeps the same upsert-by-order-id contract as the CSV store
// behind a relational schema. Enabled when DATABASE_URL is set.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders_view (
			order_id TEXT PRIMARY KEY,
			record JSONB NOT NULL,
			internal_state TEXT NOT NULL,
			carrier_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operations_log (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			scope TEXT NOT NULL,
			action TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			carrier TEXT NOT NULL DEFAULT '',
			marketplace TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			meta JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_view_state ON orders_view (internal_state)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_log_order ON operations_log (order_id)`,
	}
	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) UpsertOrder(ctx context.Context, rec model.OrderView) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	b, err := json.Marshal(rec)
	if err != nil {
		return &model.StorageError{Op: "marshal order", Err: err}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO orders_view (order_id, record, internal_state, carrier_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			record = EXCLUDED.record,
			internal_state = EXCLUDED.internal_state,
			carrier_code = EXCLUDED.carrier_code,
			updated_at = EXCLUDED.updated_at`,
		rec.OrderID, b, string(rec.State), rec.CarrierCode, now)
	if err != nil {
		return &model.StorageError{Op: "upsert order", Err: err}
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, orderID string) (model.OrderView, error) {
	var b []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT record FROM orders_view WHERE order_id = $1`, orderID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrderView{}, ErrNotFound
	}
	if err != nil {
		return model.OrderView{}, &model.StorageError{Op: "get order", Err: err}
	}
	var rec model.OrderView
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.OrderView{}, &model.StorageError{Op: "decode order", Err: err}
	}
	return rec, nil
}

func (p *Postgres) ListOrders(ctx context.Context, f OrderFilter) ([]model.OrderView, error) {
	q := `SELECT record FROM orders_view`
	var conds []string
	var args []any
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, s := range f.States {
			args = append(args, string(s))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "internal_state IN ("+strings.Join(ph, ",")+")")
	}
	for _, s := range f.ExcludeStates {
		args = append(args, string(s))
		conds = append(conds, fmt.Sprintf("internal_state <> $%d", len(args)))
	}
	if f.Carrier != "" {
		args = append(args, f.Carrier)
		conds = append(conds, fmt.Sprintf("carrier_code = $%d", len(args)))
	}
	if f.RequireCarrier {
		conds = append(conds, "carrier_code <> ''")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list orders", Err: err}
	}
	defer rows.Close()
	var out []model.OrderView
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, &model.StorageError{Op: "scan order", Err: err}
		}
		var rec model.OrderView
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, &model.StorageError{Op: "decode order", Err: err}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendOp(ctx context.Context, e model.OpEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var meta []byte
	if len(e.Meta) > 0 {
		meta, _ = json.Marshal(e.Meta)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO operations_log (id, ts, scope, action, order_id, carrier, marketplace, status, message, duration_ms, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, e.Timestamp, string(e.Scope), e.Action, e.OrderID, e.Carrier,
		e.Marketplace, string(e.Status), e.Message, e.DurationMs, meta)
	if err != nil {
		return &model.StorageError{Op: "append op", Err: err}
	}
	return nil
}

func (p *Postgres) ListOps(ctx context.Context, f OpFilter) ([]model.OpEntry, error) {
	q := `SELECT ts, scope, action, order_id, carrier, marketplace, status, message, duration_ms, meta FROM operations_log`
	var conds []string
	var args []any
	add := func(col, val string) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Scope != "" {
		add("scope", string(f.Scope))
	}
	if f.Action != "" {
		add("action", f.Action)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ts"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list ops", Err: err}
	}
	defer rows.Close()
	var out []model.OpEntry
	for rows.Next() {
		var e model.OpEntry
		var scope, status string
		var meta []byte
		if err := rows.Scan(&e.Timestamp, &scope, &e.Action, &e.OrderID, &e.Carrier,
			&e.Marketplace, &status, &e.Message, &e.DurationMs, &meta); err != nil {
			return nil, &model.StorageError{Op: "scan op", Err: err}
		}
		e.Scope = model.Scope(scope)
		e.Status = model.OpStatus(status)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
