package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/atelier-shop/internal/domain/cart"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
	"github.com/example/atelier-shop/internal/infrastructure/store"
)

// MockStore is an in-memory implementation of ProductStore, CartStore and
// OrderStore for tests. It mirrors the conditional-write semantics of the
// real stores so reservation and lifecycle races behave the same way.
type MockStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	carts    map[string]*cart.Cart
	orders   map[string]*order.Order

	// For tracking calls and injecting failures in tests.
	ReserveCalls []ReserveCall
	ReleaseCalls []ReleaseCall
	DeleteCalls  []string
	FailWith     error // when set, every operation returns this error
}

// ReserveCall records parameters passed to Reserve.
type ReserveCall struct {
	ProductID string
	HolderID  string
	Until     time.Time
}

// ReleaseCall records parameters passed to Release.
type ReleaseCall struct {
	ProductID string
	HolderID  string
}

func NewMockStore() *MockStore {
	return &MockStore{
		products: make(map[string]*product.Product),
		carts:    make(map[string]*cart.Cart),
		orders:   make(map[string]*order.Order),
	}
}

func clone[T any](v *T) *T {
	data, _ := json.Marshal(v)
	out := new(T)
	_ = json.Unmarshal(data, out)
	return out
}

func (m *MockStore) Put(ctx context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.products[p.ID] = clone(p)
	return nil
}

func (m *MockStore) Get(ctx context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return clone(p), nil
}

func (m *MockStore) List(ctx context.Context) ([]*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([]*product.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, clone(p))
	}
	return out, nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.DeleteCalls = append(m.DeleteCalls, id)
	if _, ok := m.products[id]; !ok {
		return product.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *MockStore) Reserve(ctx context.Context, productID, holderID string, until, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.ReserveCalls = append(m.ReserveCalls, ReserveCall{ProductID: productID, HolderID: holderID, Until: until})

	p, ok := m.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if p.Status == product.StatusReserved && p.ReservedBy != holderID && p.ReservedUntil.After(now) {
		return product.ErrReserved
	}
	p.Status = product.StatusReserved
	p.ReservedBy = holderID
	p.ReservedUntil = until
	return nil
}

func (m *MockStore) Release(ctx context.Context, productID, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.ReleaseCalls = append(m.ReleaseCalls, ReleaseCall{ProductID: productID, HolderID: holderID})

	p, ok := m.products[productID]
	if !ok || p.ReservedBy != holderID {
		return nil
	}
	p.Status = product.StatusAvailable
	p.ReservedBy = ""
	p.ReservedUntil = time.Time{}
	return nil
}

func (m *MockStore) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	c, ok := m.carts[userID]
	if !ok {
		return &cart.Cart{UserID: userID}, nil
	}
	return clone(c), nil
}

func (m *MockStore) SaveCart(ctx context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.carts[c.UserID] = clone(c)
	return nil
}

func (m *MockStore) DeleteCart(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.carts, userID)
	return nil
}

func (m *MockStore) ListExpiredCarts(ctx context.Context, now time.Time) ([]*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var out []*cart.Cart
	for _, c := range m.carts {
		if c.Expired(now) {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (m *MockStore) NextCartExpiry(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return time.Time{}, false, m.FailWith
	}
	var next time.Time
	for _, c := range m.carts {
		if c.ExpiresAt.IsZero() {
			continue
		}
		if next.IsZero() || c.ExpiresAt.Before(next) {
			next = c.ExpiresAt
		}
	}
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

func (m *MockStore) PutOrder(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *MockStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return clone(o), nil
}

func (m *MockStore) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if shipmentID == "" {
		return nil, order.ErrOrderNotFound
	}
	for _, o := range m.orders {
		if o.ShipmentID == shipmentID {
			return clone(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (m *MockStore) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if paymentRef == "" {
		return nil, order.ErrOrderNotFound
	}
	for _, o := range m.orders {
		if o.PaymentRef == paymentRef {
			return clone(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (m *MockStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var out []*order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (m *MockStore) ListAllOrders(ctx context.Context) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, clone(o))
	}
	return out, nil
}

func (m *MockStore) UpdateOrderStatus(ctx context.Context, orderID string, allowedFrom []order.Status, mutate func(*order.Order)) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}

	allowed := false
	for _, s := range allowedFrom {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, store.ErrStatusConflict
	}

	updated := clone(o)
	mutate(updated)
	m.orders[orderID] = updated
	return clone(updated), nil
}

// SetFailWith flips the injected failure under the lock, safe to call while
// background goroutines use the store.
func (m *MockStore) SetFailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}

// Products returns a snapshot of all stored products (test helper).
func (m *MockStore) Products() map[string]*product.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*product.Product, len(m.products))
	for id, p := range m.products {
		out[id] = clone(p)
	}
	return out
}
