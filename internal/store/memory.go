package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shipflow/internal/model"
)

// Memory is an in-memory store used in tests and when no data dir or
// DATABASE_URL is configured.
type Memory struct {
	mu     sync.Mutex
	orders map[string]model.OrderView
	seq    []string
	ops    []model.OpEntry
}

func NewMemory() *Memory {
	return &Memory{orders: map[string]model.OrderView{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) UpsertOrder(ctx context.Context, rec model.OrderView) error {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.orders[rec.OrderID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		m.seq = append(m.seq, rec.OrderID)
	}
	rec.UpdatedAt = now
	m.orders[rec.OrderID] = rec
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, orderID string) (model.OrderView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[orderID]
	if !ok {
		return model.OrderView{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListOrders(ctx context.Context, f OrderFilter) ([]model.OrderView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OrderView
	for _, id := range m.seq {
		rec := m.orders[id]
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

func (m *Memory) AppendOp(ctx context.Context, e model.OpEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.ops = append(m.ops, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListOps(ctx context.Context, f OpFilter) ([]model.OpEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OpEntry
	for _, e := range m.ops {
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
