package reservation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/domain/cart"
	"github.com/example/atelier-shop/internal/infrastructure/store"
	"github.com/example/atelier-shop/internal/notify"
)

const defaultHoldTTL = 15 * time.Minute

// Service gates concurrent access to one-of-a-kind products. A hold is a
// time-bounded exclusive claim: the first holder to win the store's
// conditional write owns the product until the hold expires or is released.
type Service struct {
	products  store.ProductStore
	carts     store.CartStore
	clock     clock.Clock
	publisher notify.Publisher
	holdTTL   time.Duration
	wake      func() // pokes the sweeper so an earlier expiry pre-empts its timer
}

type Option func(*Service)

// WithHoldTTL overrides the default 15-minute hold duration.
func WithHoldTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithWake registers a callback invoked after every new hold.
func WithWake(fn func()) Option {
	return func(s *Service) {
		s.wake = fn
	}
}

func NewService(products store.ProductStore, carts store.CartStore, clk clock.Clock, publisher notify.Publisher, opts ...Option) *Service {
	s := &Service{
		products:  products,
		carts:     carts,
		clock:     clk,
		publisher: publisher,
		holdTTL:   defaultHoldTTL,
		wake:      func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HoldTTL returns the configured hold duration.
func (s *Service) HoldTTL() time.Duration {
	return s.holdTTL
}

// Reserve places a hold on productID for holderID and adds it to the
// holder's cart. Exactly one concurrent caller wins; losers observe
// product.ErrReserved and must not retry silently.
func (s *Service) Reserve(ctx context.Context, productID, holderID string) (*cart.Cart, error) {
	now := s.clock.Now()
	until := now.Add(s.holdTTL)

	if err := s.products.Reserve(ctx, productID, holderID, until, now); err != nil {
		return nil, err
	}

	c, err := s.carts.GetCart(ctx, holderID)
	if err != nil {
		return nil, err
	}
	if !c.Contains(productID) {
		c.Items = append(c.Items, cart.Item{ProductID: productID, AddedAt: now})
	}
	c.ExpiresAt = s.cartExpiry(c)
	if err := s.carts.SaveCart(ctx, c); err != nil {
		return nil, err
	}

	s.publisher.Publish(productID, notify.TypeProductReserved, map[string]string{
		"product_id": productID,
	})
	s.wake()
	return c, nil
}

// Release drops the holder's claim on productID. Idempotent: releasing a
// product that is not held, or held by someone else, is a no-op.
func (s *Service) Release(ctx context.Context, productID, holderID string) error {
	if err := s.products.Release(ctx, productID, holderID); err != nil {
		return err
	}

	c, err := s.carts.GetCart(ctx, holderID)
	if err != nil {
		return err
	}
	if !c.Contains(productID) {
		return nil
	}

	items := c.Items[:0]
	for _, it := range c.Items {
		if it.ProductID != productID {
			items = append(items, it)
		}
	}
	c.Items = items
	c.ExpiresAt = s.cartExpiry(c)

	if c.IsEmpty() {
		if err := s.carts.DeleteCart(ctx, holderID); err != nil {
			return err
		}
	} else if err := s.carts.SaveCart(ctx, c); err != nil {
		return err
	}

	s.publisher.Publish(productID, notify.TypeProductReleased, map[string]string{
		"product_id": productID,
	})
	return nil
}

// Consume removes the product from inventory entirely: the piece is sold
// and lives on only as the order's line-item snapshot. A race loser gets
// product.ErrNotFound.
func (s *Service) Consume(ctx context.Context, productID string) error {
	return s.products.Delete(ctx, productID)
}

// Cart returns the holder's current cart.
func (s *Service) Cart(ctx context.Context, holderID string) (*cart.Cart, error) {
	return s.carts.GetCart(ctx, holderID)
}

// SweepExpired releases every hold belonging to a cart whose shared expiry
// has passed and clears those carts. Returns the number of carts reclaimed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.carts.ListExpiredCarts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired carts: %w", err)
	}

	for _, c := range expired {
		for _, it := range c.Items {
			if err := s.products.Release(ctx, it.ProductID, c.UserID); err != nil {
				log.Printf("[Reservation] Failed to release %s for expired cart %s: %v", it.ProductID, c.UserID, err)
			}
		}
		if err := s.carts.DeleteCart(ctx, c.UserID); err != nil {
			return 0, fmt.Errorf("failed to clear expired cart: %w", err)
		}
		s.publisher.Publish(c.UserID, notify.TypeReservationExpired, map[string]any{
			"user_id": c.UserID,
			"items":   c.Items,
		})
	}
	return len(expired), nil
}

// NextExpiry exposes the soonest pending cart expiry for the sweeper.
func (s *Service) NextExpiry(ctx context.Context) (time.Time, bool, error) {
	return s.carts.NextCartExpiry(ctx)
}

// cartExpiry computes the shared cart expiry: the soonest hold among its
// items, each hold lasting holdTTL from the moment the item was added.
func (s *Service) cartExpiry(c *cart.Cart) time.Time {
	var earliest time.Time
	for _, it := range c.Items {
		exp := it.AddedAt.Add(s.holdTTL)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	return earliest
}
