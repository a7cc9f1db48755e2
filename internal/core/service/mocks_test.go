package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory ledger, order store, dispatch store and location
// registry with the same all-or-nothing commit rules as the SQL adapter.
type memStore struct {
	mu        sync.Mutex
	stock     map[string]*domain.StockEntry
	orders    map[string]*domain.Order
	records   []domain.AllocationRecord
	awbs      []domain.AwbAssignment
	locations map[string]domain.Location

	// beforeCommit runs outside the lock ahead of every commit.
	beforeCommit func(plan domain.AllocationPlan)
	commits      int
	stockReads   int
}

func newMemStore() *memStore {
	return &memStore{
		stock:     make(map[string]*domain.StockEntry),
		orders:    make(map[string]*domain.Order),
		locations: map[string]domain.Location{"L": {ID: "L", Active: true}},
	}
}

func (m *memStore) addStock(id, location, sku string, onHand int, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[id] = &domain.StockEntry{
		ID: id, LocationID: location, SKU: sku, BatchID: "batch-" + id,
		ReceivedAt: t0.Add(age), QuantityOnHand: onHand,
	}
}

func (m *memStore) addOrder(id string, lines ...domain.OrderLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range lines {
		lines[i].OrderID = id
		if lines[i].ID == "" {
			lines[i].ID = id + "-line-" + string(rune('0'+i))
		}
	}
	m.orders[id] = &domain.Order{ID: id, Status: domain.OrderStatusPending, Lines: lines}
}

func (m *memStore) reserved(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[id].QuantityReserved
}

func (m *memStore) recordsFor(orderID string) []domain.AllocationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AllocationRecord
	for _, r := range m.records {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) ListAvailableStock(ctx context.Context, locationID, sku string) ([]domain.StockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stockReads++
	var out []domain.StockEntry
	for _, e := range m.stock {
		if e.LocationID == locationID && e.SKU == sku && e.Available() > 0 {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.stock[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (m *memStore) ReceiveStock(ctx context.Context, e domain.StockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[e.ID] = &e
	return nil
}

func (m *memStore) CommitAllocation(ctx context.Context, plan domain.AllocationPlan, record domain.AllocationRecord) error {
	if m.beforeCommit != nil {
		m.beforeCommit(plan)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[plan.OrderID]
	if !ok {
		return domain.Newf(domain.CodeNotFound, "order %s not found", plan.OrderID)
	}
	if !order.Allocatable() {
		return domain.Newf(domain.CodeInvalidState, "order %s is %s", order.ID, order.Status)
	}

	perEntry := make(map[string]int)
	perLine := make(map[string]int)
	for _, r := range plan.Reservations {
		perEntry[r.StockEntryID] += r.Quantity
		perLine[r.LineID] += r.Quantity
	}
	for id, qty := range perEntry {
		e, ok := m.stock[id]
		if !ok || e.LocationID != plan.LocationID || e.Available() < qty {
			return domain.Newf(domain.CodeContention, "stock entry %s changed", id)
		}
	}
	for i := range order.Lines {
		l := order.Lines[i]
		if l.QuantityAllocated+perLine[l.ID] > l.QuantityRequested {
			return domain.Newf(domain.CodeContention, "order line %s changed", l.ID)
		}
	}

	for id, qty := range perEntry {
		m.stock[id].QuantityReserved += qty
		m.stock[id].Version++
	}
	for i := range order.Lines {
		order.Lines[i].QuantityAllocated += perLine[order.Lines[i].ID]
	}
	order.Status = domain.OrderStatusAllocated
	if record.Status != domain.AllocationFull {
		order.Status = domain.OrderStatusPartiallyAllocated
	}
	if plan.Quantity() > 0 || order.LocationID == "" {
		order.LocationID = plan.LocationID
		order.Strategy = record.Strategy
	}
	m.records = append(m.records, record)
	m.commits++
	return nil
}

func (m *memStore) SaveAllocationRecord(ctx context.Context, record domain.AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	for _, a := range m.awbs {
		if a.OrderID == id && a.Active() {
			a := a
			c.Awb = &a
		}
	}
	return &c, nil
}

func (m *memStore) CreateOrder(ctx context.Context, order domain.Order) error {
	m.addOrder(order.ID, order.Lines...)
	return nil
}

func (m *memStore) ListAllocationRecords(ctx context.Context, orderID string) ([]domain.AllocationRecord, error) {
	return m.recordsFor(orderID), nil
}

func (m *memStore) ListBackorders(ctx context.Context, limit int) ([]domain.Backorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Backorder
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusPartiallyAllocated {
			out = append(out, domain.Backorder{OrderID: o.ID, LocationID: o.LocationID, Strategy: o.Strategy})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AssignAwb(ctx context.Context, a domain.AwbAssignment) (domain.AwbAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.awbs {
		if existing.Active() && existing.AwbNumber == a.AwbNumber {
			if existing.OrderID == a.OrderID {
				return existing, nil
			}
			return a, domain.Newf(domain.CodeDuplicateAwb, "awb %s taken", a.AwbNumber)
		}
	}
	for i := range m.awbs {
		if m.awbs[i].OrderID == a.OrderID && m.awbs[i].Active() {
			at := a.AssignedAt
			m.awbs[i].SupersededAt = &at
		}
	}
	m.awbs = append(m.awbs, a)
	if o, ok := m.orders[a.OrderID]; ok {
		o.Status = domain.OrderStatusDispatched
	}
	return a, nil
}

func (m *memStore) GetActiveAssignment(ctx context.Context, orderID string) (*domain.AwbAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.awbs {
		if a.OrderID == orderID && a.Active() {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *memStore) ListChildren(ctx context.Context, parentID string) ([]domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Location
	for _, loc := range m.locations {
		if loc.ParentID == parentID && loc.ID != parentID {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type mockCacheRepo struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{keys: make(map[string]string)}
}

func (c *mockCacheRepo) SetIdempotency(ctx context.Context, key, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false, nil
	}
	c.keys[key] = token
	return true, nil
}

func (c *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] == token {
		delete(c.keys, key)
	}
	return nil
}

type recordingPublisher struct {
	mu          sync.Mutex
	allocations []domain.AllocationRecord
	assignments []domain.AwbAssignment
}

func (p *recordingPublisher) PublishAllocation(ctx context.Context, record domain.AllocationRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocations = append(p.allocations, record)
	return nil
}

func (p *recordingPublisher) PublishAwbAssigned(ctx context.Context, a domain.AwbAssignment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assignments = append(p.assignments, a)
	return nil
}

func newTestAllocationService(store *memStore) *AllocationService {
	return NewAllocationService(store, store, store, AllocationConfig{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, nil)
}
