package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/atelier-shop/internal/domain/cart"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
)

// ErrStatusConflict is returned by OrderStore.UpdateOrderStatus when the
// order's persisted status is no longer one of the allowed prior states.
// Callers treat it as a lost optimistic-concurrency race, not a storage
// failure.
var ErrStatusConflict = errors.New("order status changed concurrently")

// ProductStore persists products. Reserve and Release must be atomic
// conditional writes: concurrent reservations for the same product are
// resolved here, not by application-level locking.
type ProductStore interface {
	Put(ctx context.Context, p *product.Product) error
	Get(ctx context.Context, id string) (*product.Product, error)
	List(ctx context.Context) ([]*product.Product, error)

	// Delete removes a product permanently (sold at checkout). Returns
	// product.ErrNotFound if it is already gone.
	Delete(ctx context.Context, id string) error

	// Reserve places a hold for holderID until the given instant. It
	// succeeds iff the product is available, its current hold has expired,
	// or the same holder already holds it (refresh). Returns
	// product.ErrReserved when another holder has a live hold and
	// product.ErrNotFound when the product does not exist.
	Reserve(ctx context.Context, productID, holderID string, until, now time.Time) error

	// Release returns the product to available iff holderID holds it.
	// Releasing a product held by someone else, or not held at all, is a
	// silent no-op.
	Release(ctx context.Context, productID, holderID string) error
}

// CartStore persists holder carts. Carts are only ever written by their own
// holder and the sweeper; the reservation race is decided by ProductStore,
// so whole-document writes are sufficient here.
type CartStore interface {
	// GetCart returns the holder's cart, or an empty cart if none exists.
	GetCart(ctx context.Context, userID string) (*cart.Cart, error)
	SaveCart(ctx context.Context, c *cart.Cart) error
	DeleteCart(ctx context.Context, userID string) error

	// ListExpiredCarts returns all carts whose shared expiry has passed.
	ListExpiredCarts(ctx context.Context, now time.Time) ([]*cart.Cart, error)

	// NextCartExpiry returns the soonest cart expiry, or ok=false when no
	// cart has a pending hold.
	NextCartExpiry(ctx context.Context) (time.Time, bool, error)
}

// OrderStore persists orders. UpdateOrderStatus is the single mutation path
// for lifecycle changes and must be an atomic compare-and-set on the status
// field.
type OrderStore interface {
	PutOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)

	// GetOrderByShipmentID resolves a carrier shipment id to its order.
	// Returns order.ErrOrderNotFound when no order references the shipment.
	GetOrderByShipmentID(ctx context.Context, shipmentID string) (*order.Order, error)

	// GetOrderByPaymentRef resolves a payment reference to the order it paid
	// for. Returns order.ErrOrderNotFound when the reference is unused.
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*order.Order, error)

	ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error)
	ListAllOrders(ctx context.Context) ([]*order.Order, error)

	// UpdateOrderStatus loads the order, verifies its status is one of
	// allowedFrom, applies mutate (which must set the new status), and
	// persists the result conditionally on the status still matching what
	// was read. Returns ErrStatusConflict when the guard or the conditional
	// write fails, order.ErrOrderNotFound when the order is absent.
	UpdateOrderStatus(ctx context.Context, orderID string, allowedFrom []order.Status, mutate func(*order.Order)) (*order.Order, error)
}
