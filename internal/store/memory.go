package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"courieropt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]model.Order            // id -> order
	partners map[string]model.Partner          // id -> partner
	history  map[string][]model.LocationSample // partnerId -> samples, oldest first
	runs     []model.SolveRun
}

func NewMemory() *Memory {
	return &Memory{
		orders:   map[string]model.Order{},
		partners: map[string]model.Partner{},
		history:  map[string][]model.LocationSample{},
	}
}

func sortOrders(out []model.Order) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func (m *Memory) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (m *Memory) ListPartnerOrders(ctx context.Context, partnerID string, status model.OrderStatus) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.PartnerID == partnerID && o.Status == status {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) UpsertOrder(ctx context.Context, o model.Order) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if prev, ok := m.orders[o.ID]; ok {
		o.CreatedAt = prev.CreatedAt
	} else if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.Status == "" {
		o.Status = model.OrderPlaced
	}
	o.UpdatedAt = now
	m.orders[o.ID] = o
	return o, nil
}

func (m *Memory) AssignOrder(ctx context.Context, orderID, partnerID string, status model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("assign order %s: %w", orderID, ErrNotFound)
	}
	if _, ok := m.partners[partnerID]; !ok {
		return fmt.Errorf("assign order %s: partner %s: %w", orderID, partnerID, ErrNotFound)
	}
	now := time.Now().UTC()
	o.PartnerID = partnerID
	o.Status = status
	o.UpdatedAt = now
	if status == model.OrderPickUp && o.PickedUpAt == nil {
		o.PickedUpAt = &now
	}
	m.orders[orderID] = o
	return nil
}

func (m *Memory) ListPartnersByStatus(ctx context.Context, status model.PartnerStatus) ([]model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Partner{}
	for _, p := range m.partners {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetPartner(ctx context.Context, id string) (model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return model.Partner{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpsertPartner(ctx context.Context, p model.Partner) (model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.PartnerOffline
	}
	p.UpdatedAt = time.Now().UTC()
	m.partners[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePartnerLocation(ctx context.Context, partnerID string, loc model.GeoPoint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[partnerID]
	if !ok {
		return fmt.Errorf("update location %s: %w", partnerID, ErrNotFound)
	}
	l := loc
	p.Location = &l
	p.UpdatedAt = at
	m.partners[partnerID] = p
	m.history[partnerID] = append(m.history[partnerID], model.LocationSample{
		ID: uuid.New().String(), PartnerID: partnerID, Lat: loc.Lat, Lng: loc.Lng, RecordedAt: at,
	})
	return nil
}

func (m *Memory) LatestPartnerLocation(ctx context.Context, partnerID string) (model.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[partnerID]
	if len(h) == 0 {
		return model.LocationSample{}, ErrNotFound
	}
	return h[len(h)-1], nil
}

func (m *Memory) RecordSolveRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	m.runs = append(m.runs, run)
	return run, nil
}

// ListSolveRuns returns the newest runs first; an empty kind matches all.
func (m *Memory) ListSolveRuns(ctx context.Context, kind string, limit int) ([]model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []model.SolveRun{}
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || m.runs[i].Kind == kind {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
