package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/domain/store"
	"github.com/mingrao/skewer-shop/internal/events"
)

// mockCatalog implements catalog.Repository with a conditional, mutex-guarded
// stock decrement so concurrency tests exercise the same check-and-decrement
// contract the SQL implementation provides.
type mockCatalog struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	restores map[string]int
}

func newMockCatalog(products ...catalog.Product) *mockCatalog {
	m := &mockCatalog{
		products: make(map[string]*catalog.Product, len(products)),
		restores: make(map[string]int),
	}
	for i := range products {
		p := products[i]
		m.products[p.ID] = &p
	}
	return m
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Product, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok && !seen[id] {
			out = append(out, *p)
			seen[id] = true
		}
	}
	return out, nil
}

func (m *mockCatalog) DecrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if p.Stock < qty {
		return &catalog.InsufficientStockError{ProductID: p.ID, ProductName: p.Name}
	}
	p.Stock -= qty
	return nil
}

func (m *mockCatalog) RestoreStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		p.Stock += qty
	}
	m.restores[id] += qty
	return nil
}

func (m *mockCatalog) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

type mockCarts struct {
	mu      sync.Mutex
	lines   map[string]cart.Line
	deleted [][]string
}

func newMockCarts(lines ...cart.Line) *mockCarts {
	m := &mockCarts{lines: make(map[string]cart.Line, len(lines))}
	for _, l := range lines {
		m.lines[l.ID] = l
	}
	return m
}

func (m *mockCarts) ListByIDs(_ context.Context, ownerID string, ids []string) ([]cart.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cart.Line, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.lines[id]; ok && l.OwnerID == ownerID && l.Checked {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockCarts) DeleteByIDs(_ context.Context, ownerID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.lines[id]; ok && l.OwnerID == ownerID {
			delete(m.lines, id)
			kept = append(kept, id)
		}
	}
	m.deleted = append(m.deleted, kept)
	return nil
}

type mockDiscounts struct {
	mu          sync.Mutex
	instruments map[string]*discount.Instrument
	usedWith    map[string]string // instrument id -> order id
}

func newMockDiscounts(instruments ...discount.Instrument) *mockDiscounts {
	m := &mockDiscounts{
		instruments: make(map[string]*discount.Instrument, len(instruments)),
		usedWith:    make(map[string]string),
	}
	for i := range instruments {
		ins := instruments[i]
		m.instruments[ins.ID] = &ins
	}
	return m
}

func (m *mockDiscounts) FindForOwner(_ context.Context, ownerID, id string) (*discount.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.instruments[id]
	if !ok || ins.OwnerID != ownerID {
		return nil, discount.ErrNotFound
	}
	cp := *ins
	return &cp, nil
}

func (m *mockDiscounts) MarkUsed(_ context.Context, ownerID string, ids []string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		ins, ok := m.instruments[id]
		if !ok || ins.OwnerID != ownerID || ins.Status != discount.StatusAvailable {
			continue
		}
		ins.Status = discount.StatusUsed
		m.usedWith[id] = orderID
	}
	return nil
}

type mockStoreProvider struct {
	cfg *store.Config
	err error
}

func (m *mockStoreProvider) StoreConfig(context.Context) (*store.Config, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.cfg, nil
}

type mockOrders struct {
	mu        sync.Mutex
	byID      map[string]*Order
	createErr error
}

func newMockOrders() *mockOrders {
	return &mockOrders{byID: make(map[string]*Order)}
}

func (m *mockOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *mockOrders) get(id string) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *mockOrders) GetForOwner(_ context.Context, ownerID, idOrNo string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OwnerID == ownerID && (o.ID == idOrNo || o.OrderNo == idOrNo) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrders) GetByOrderNo(_ context.Context, orderNo string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OrderNo == orderNo {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrders) ListForOwner(_ context.Context, ownerID string, status Status, _, _ int) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.OwnerID == ownerID && (status == "" || o.Status == status) {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (m *mockOrders) TransitionToPaid(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusPaid
	o.PaidAt = &at
	return true, nil
}

func (m *mockOrders) TransitionToCancelled(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	return true, nil
}

func (m *mockOrders) TransitionToCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.Status != StatusPaid {
		return false, nil
	}
	o.Status = StatusCompleted
	o.CompletedAt = &at
	return true, nil
}

type mockLedger struct {
	mu      sync.Mutex
	points  map[string]int64
	credits int
	spend   map[string]decimal.Decimal
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		points: make(map[string]int64),
		spend:  make(map[string]decimal.Decimal),
	}
}

func (m *mockLedger) CreditPoints(_ context.Context, ownerID string, points int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[ownerID] += points
	m.credits++
	return nil
}

func (m *mockLedger) AddLifetimeSpend(_ context.Context, ownerID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spend[ownerID] = m.spend[ownerID].Add(amount)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) byType(t string) []events.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.OrderEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
