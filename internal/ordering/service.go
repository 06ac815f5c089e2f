package ordering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/atelier-shop/internal/carrier"
	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
	"github.com/example/atelier-shop/internal/infrastructure/store"
	"github.com/example/atelier-shop/internal/notify"
	"github.com/example/atelier-shop/internal/payment"
	"github.com/example/atelier-shop/internal/reservation"
)

const defaultReturnWindow = 14 * 24 * time.Hour

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrNotOwner              = errors.New("order does not belong to this user")
	ErrPaymentNotSettled     = errors.New("payment has not succeeded")
	ErrPaymentAmountMismatch = errors.New("payment amount does not match cart total")
	ErrPaymentRefUsed        = errors.New("payment reference already used by another order")
	ErrNoShipment            = errors.New("order has no shipment")
)

// Mailer is the subset of the email service the lifecycle needs. All sends
// are best-effort: a failed mail never rolls back a transition.
type Mailer interface {
	SendCancelRequested(o *order.Order) error
	SendReturnRequested(o *order.Order) error
	SendReturnLabel(o *order.Order, label []byte) error
	SendReturnRejected(o *order.Order) error
}

// Service owns the order lifecycle: checkout, the admin/user transitions
// and the carrier-driven transitions. Every status mutation goes through
// the store's conditional update, so concurrent actors (admin, customer,
// webhook, sweeper) cannot produce lost updates.
type Service struct {
	orders       store.OrderStore
	products     store.ProductStore
	carts        store.CartStore
	reservations *reservation.Service
	payments     payment.Processor
	shipping     carrier.API
	mailer       Mailer
	publisher    notify.Publisher
	clock        clock.Clock
	returnWindow time.Duration
}

type Option func(*Service)

// WithReturnWindow overrides the default 14-day return eligibility window.
func WithReturnWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.returnWindow = d
		}
	}
}

func NewService(
	orders store.OrderStore,
	products store.ProductStore,
	carts store.CartStore,
	reservations *reservation.Service,
	payments payment.Processor,
	shipping carrier.API,
	mailer Mailer,
	publisher notify.Publisher,
	clk clock.Clock,
	opts ...Option,
) *Service {
	s := &Service{
		orders:       orders,
		products:     products,
		carts:        carts,
		reservations: reservations,
		payments:     payments,
		shipping:     shipping,
		mailer:       mailer,
		publisher:    publisher,
		clock:        clk,
		returnWindow: defaultReturnWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckoutInput carries everything needed to turn a cart into an order.
type CheckoutInput struct {
	UserID          string
	Email           string
	ShippingMethod  string
	ShippingAddress order.Address
	BillingAddress  order.Address
	PaymentRef      string
}

// Checkout consumes the holder's reserved products and creates the durable
// order record in status "paid". Each consumed product is deleted from
// inventory; its attributes survive only as the line-item snapshot.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*order.Order, error) {
	if in.UserID == "" || in.PaymentRef == "" {
		return nil, fmt.Errorf("%w: user id and payment reference are required", ErrPaymentNotSettled)
	}

	intent, err := s.payments.GetIntent(ctx, in.PaymentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}
	if intent.Status != "succeeded" {
		return nil, ErrPaymentNotSettled
	}

	// One settled intent pays for exactly one order.
	if _, err := s.orders.GetOrderByPaymentRef(ctx, in.PaymentRef); err == nil {
		return nil, ErrPaymentRefUsed
	} else if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, err
	}

	c, err := s.carts.GetCart(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	now := s.clock.Now()

	// Snapshot everything before consuming anything: a consumed product is
	// deleted from inventory and survives only as its line item.
	var items []order.LineItem
	var total int
	for _, it := range c.Items {
		p, err := s.products.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, order.LineItem{
			ProductID:   p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			PriceCents:  p.PriceCents,
			ImageURLs:   p.ImageURLs,
		})
		total += p.PriceCents
	}

	if intent.AmountCents != total {
		return nil, fmt.Errorf("%w: intent covers %d cents, cart totals %d", ErrPaymentAmountMismatch, intent.AmountCents, total)
	}

	// Consume: the conditional delete decides any race with another
	// checkout, the loser sees product.ErrNotFound. On a partial failure
	// the already-consumed pieces go back on sale before aborting.
	for i, it := range c.Items {
		if err := s.reservations.Consume(ctx, it.ProductID); err != nil {
			for _, item := range items[:i] {
				if rerr := s.restock(ctx, item, now); rerr != nil {
					log.Printf("[Ordering] Failed to restock %s after aborted checkout: %v", item.Name, rerr)
				}
			}
			return nil, err
		}
	}

	o := &order.Order{
		ID:              uuid.New().String(),
		UserID:          in.UserID,
		Email:           in.Email,
		Items:           items,
		TotalCents:      total,
		ShippingMethod:  in.ShippingMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentRef:      in.PaymentRef,
		Status:          order.StatusPaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Shipment creation is best-effort at checkout; the admin console can
	// recreate it if the carrier was down.
	shipment, err := s.shipping.CreateShipment(ctx, s.shipmentRequest(o, false))
	if err != nil {
		log.Printf("[Ordering] Failed to create shipment for order %s: %v", o.ID, err)
	} else {
		o.ShipmentID = shipment.ID
		o.TrackingNumber = shipment.TrackingNumber
	}

	if err := s.orders.PutOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	if err := s.carts.DeleteCart(ctx, in.UserID); err != nil {
		log.Printf("[Ordering] Failed to clear cart for %s: %v", in.UserID, err)
	}

	// The notifier consumes order_placed and mails the confirmation.
	s.publisher.Publish(o.ID, notify.TypeOrderPlaced, o)
	return o, nil
}

// Get returns the order, enforcing ownership unless admin is set.
func (s *Service) Get(ctx context.Context, orderID, userID string, admin bool) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && o.UserID != userID {
		return nil, ErrNotOwner
	}
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	return s.orders.ListOrdersByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]*order.Order, error) {
	return s.orders.ListAllOrders(ctx)
}

// AdminCancel cancels an order and refunds it. Side effects run in a fixed
// order: carrier cleanup (non-fatal), refund (fatal on failure), restock,
// status write, notify. A failed refund aborts before anything else moves,
// so the order is never marked cancelled with the money still captured.
func (s *Service) AdminCancel(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.Status.Cancellable() && o.Status != order.StatusCancelRequested {
		return o.TransitionError(order.StatusCancelled)
	}

	if o.ShipmentID != "" {
		if err := s.shipping.DeleteShipment(ctx, o.ShipmentID); err != nil {
			log.Printf("[Ordering] Failed to delete shipment %s for order %s: %v", o.ShipmentID, o.ID, err)
		}
	}

	if err := s.payments.Refund(ctx, o.PaymentRef); err != nil {
		return fmt.Errorf("refund for order %s: %w", o.ID, err)
	}

	// Each one-of-a-kind piece goes back on sale as a fresh product built
	// from the snapshot.
	now := s.clock.Now()
	for _, item := range o.Items {
		if err := s.restock(ctx, item, now); err != nil {
			return err
		}
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusPaid, order.StatusPreparing, order.StatusCancelRequested},
		func(o *order.Order) {
			o.Status = order.StatusCancelled
			o.CancelledAt = now
			o.PreviousStatus = ""
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderCancelled, statusPayload(updated))
	return nil
}

// RequestCancel opens a cancel request on the customer's behalf. The
// previous status is kept so an admin rejection can restore it.
func (s *Service) RequestCancel(ctx context.Context, orderID, userID, reason string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		return ErrNotOwner
	}
	if !o.Status.Cancellable() {
		return o.TransitionError(order.StatusCancelRequested)
	}

	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusPaid, order.StatusPreparing},
		func(o *order.Order) {
			o.PreviousStatus = o.Status
			o.Status = order.StatusCancelRequested
			o.CancelReason = reason
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeCancelRequested, statusPayload(updated))
	if err := s.mailer.SendCancelRequested(updated); err != nil {
		log.Printf("[Ordering] Failed to send cancel-request mail for order %s: %v", updated.ID, err)
	}
	return nil
}

// RejectCancel restores the status the order had before the request.
func (s *Service) RejectCancel(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusCancelRequested {
		return order.ErrNotCancelRequested
	}

	previous := o.PreviousStatus
	if previous == "" {
		previous = order.StatusPaid
	}

	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusCancelRequested},
		func(o *order.Order) {
			o.Status = previous
			o.PreviousStatus = ""
			o.CancelReason = ""
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	return nil
}

// RequestReturn opens a return request on a delivered order, within the
// return window only.
func (s *Service) RequestReturn(ctx context.Context, orderID, userID, reason string, photos []string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		return ErrNotOwner
	}
	if o.Status != order.StatusDelivered {
		return o.TransitionError(order.StatusReturnRequested)
	}
	now := s.clock.Now()
	if !o.DeliveredAt.IsZero() && now.After(o.DeliveredAt.Add(s.returnWindow)) {
		return order.ErrReturnWindowClosed
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusDelivered},
		func(o *order.Order) {
			o.Status = order.StatusReturnRequested
			o.ReturnReason = reason
			o.ReturnPhotos = photos
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeReturnRequested, statusPayload(updated))
	if err := s.mailer.SendReturnRequested(updated); err != nil {
		log.Printf("[Ordering] Failed to send return-request mail for order %s: %v", updated.ID, err)
	}
	return nil
}

// AcceptReturn creates the carrier return shipment and mails the label to
// the customer. The shipment id on the order is overwritten: from here on,
// carrier events for this order are interpreted on the return branch.
func (s *Service) AcceptReturn(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusReturnRequested {
		return order.ErrNotReturnRequested
	}

	shipment, err := s.shipping.CreateShipment(ctx, s.shipmentRequest(o, true))
	if err != nil {
		return fmt.Errorf("failed to create return shipment for order %s: %w", o.ID, err)
	}

	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusReturnRequested},
		func(o *order.Order) {
			o.ShipmentID = shipment.ID
			o.TrackingNumber = shipment.TrackingNumber
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	label, err := s.shipping.GetLabel(ctx, shipment.ID)
	if err != nil {
		log.Printf("[Ordering] Failed to fetch return label for order %s: %v", o.ID, err)
	} else if err := s.mailer.SendReturnLabel(updated, label); err != nil {
		log.Printf("[Ordering] Failed to mail return label for order %s: %v", o.ID, err)
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	return nil
}

// RejectReturn puts the order back to delivered and clears return fields.
func (s *Service) RejectReturn(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusReturnRequested {
		return order.ErrNotReturnRequested
	}

	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusReturnRequested},
		func(o *order.Order) {
			o.Status = order.StatusDelivered
			o.ReturnReason = ""
			o.ReturnPhotos = nil
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	if err := s.mailer.SendReturnRejected(updated); err != nil {
		log.Printf("[Ordering] Failed to send return-rejected mail for order %s: %v", updated.ID, err)
	}
	return nil
}

// RefundReturn refunds a completed return and closes the order. Refund
// failure aborts: the order stays in return_delivered for a manual retry.
func (s *Service) RefundReturn(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusReturnDelivered {
		return o.TransitionError(order.StatusReturned)
	}

	if err := s.payments.Refund(ctx, o.PaymentRef); err != nil {
		return fmt.Errorf("refund for order %s: %w", o.ID, err)
	}

	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusReturnDelivered},
		func(o *order.Order) {
			o.Status = order.StatusReturned
			o.ReturnedAt = now
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderRefunded, statusPayload(updated))
	return nil
}

// MarkReady flags a prepared order as ready for handover to the carrier.
func (s *Service) MarkReady(ctx context.Context, orderID string) error {
	now := s.clock.Now()
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusPreparing},
		func(o *order.Order) {
			o.Status = order.StatusReady
			o.UpdatedAt = now
		})
	if err != nil {
		return err
	}
	s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	return nil
}

// SyncTracking polls the carrier for the shipment's current state and
// applies it as if the webhook had delivered it. Used by the admin console
// when webhook traffic was missed.
func (s *Service) SyncTracking(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.ShipmentID == "" {
		return fmt.Errorf("%w: order %s", ErrNoShipment, o.ID)
	}

	tracking, err := s.shipping.GetTracking(ctx, o.ShipmentID)
	if err != nil {
		return fmt.Errorf("failed to fetch tracking for order %s: %w", o.ID, err)
	}

	return s.ApplyCarrierEvent(ctx, &carrier.TrackingEvent{
		ShipmentID:     o.ShipmentID,
		Status:         carrier.NormalizeStatus(tracking.Status),
		TrackingNumber: tracking.TrackingNumber,
	})
}

// ApplyCarrierEvent maps a normalized tracking event onto a lifecycle
// transition. It is idempotent: replayed or out-of-order events lose the
// conditional update and become no-ops, timestamps are stamped exactly
// once, and an unknown shipment id is acknowledged without effect.
func (s *Service) ApplyCarrierEvent(ctx context.Context, ev *carrier.TrackingEvent) error {
	o, err := s.orders.GetOrderByShipmentID(ctx, ev.ShipmentID)
	if errors.Is(err, order.ErrOrderNotFound) {
		return nil // unrelated or test traffic; never make the carrier retry
	}
	if err != nil {
		return err
	}

	if o.Status.InReturnFlow() {
		return s.applyReturnEvent(ctx, o, ev)
	}
	return s.applyForwardEvent(ctx, o, ev)
}

func (s *Service) applyForwardEvent(ctx context.Context, o *order.Order, ev *carrier.TrackingEvent) error {
	now := s.clock.Now()

	var allowedFrom []order.Status
	var target order.Status
	stampPreparing := false
	deliver := false

	switch ev.Status {
	case carrier.StatusAnnounced, carrier.StatusPending, carrier.StatusPickedUp:
		allowedFrom = []order.Status{order.StatusPaid}
		target = order.StatusPreparing
		stampPreparing = true
	case carrier.StatusShipped, carrier.StatusInTransit:
		allowedFrom = []order.Status{order.StatusPaid, order.StatusPreparing, order.StatusReady}
		target = order.StatusInTransit
	case carrier.StatusOutForDelivery:
		allowedFrom = []order.Status{order.StatusPaid, order.StatusPreparing, order.StatusReady, order.StatusInTransit}
		target = order.StatusOutForDelivery
	case carrier.StatusDelivered:
		// A parcel delivered while a cancel request is pending still counts:
		// the customer holds the piece, so the cancel path is closed and the
		// customer is routed to the return flow instead.
		allowedFrom = []order.Status{order.StatusPaid, order.StatusPreparing, order.StatusReady, order.StatusInTransit, order.StatusOutForDelivery, order.StatusCancelRequested}
		target = order.StatusDelivered
		deliver = true
	default:
		return nil // unknown carrier status: ignore
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, o.ID, allowedFrom, func(o *order.Order) {
		o.Status = target
		if ev.TrackingNumber != "" {
			o.TrackingNumber = ev.TrackingNumber
		}
		if stampPreparing && o.PreparingAt.IsZero() {
			o.PreparingAt = now
		}
		if deliver {
			o.DeliveredAt = now
			o.PreviousStatus = ""
			o.CancelReason = ""
			trimLineItemImages(o)
			// Delivery ends our need for the customer's addresses.
			o.ShippingAddress = order.Address{}
			o.BillingAddress = order.Address{}
		}
		o.UpdatedAt = now
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil // replayed or stale event
	}
	if err != nil {
		return err
	}

	if deliver {
		s.publisher.Publish(updated.ID, notify.TypeOrderDelivered, statusPayload(updated))
	} else {
		s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	}
	return nil
}

func (s *Service) applyReturnEvent(ctx context.Context, o *order.Order, ev *carrier.TrackingEvent) error {
	now := s.clock.Now()

	var allowedFrom []order.Status
	var target order.Status

	switch ev.Status {
	case carrier.StatusShipped, carrier.StatusInTransit, carrier.StatusPickedUp:
		allowedFrom = []order.Status{order.StatusReturnRequested}
		target = order.StatusReturnInTransit
	case carrier.StatusDelivered:
		allowedFrom = []order.Status{order.StatusReturnRequested, order.StatusReturnInTransit}
		target = order.StatusReturnDelivered
	default:
		return nil
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, o.ID, allowedFrom, func(o *order.Order) {
		o.Status = target
		if ev.TrackingNumber != "" {
			o.TrackingNumber = ev.TrackingNumber
		}
		o.UpdatedAt = now
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	s.publisher.Publish(updated.ID, notify.TypeOrderStatusChanged, statusPayload(updated))
	return nil
}

// restock puts a cancelled line item back on sale. The sold product was
// deleted at checkout, so the replacement gets a fresh id.
func (s *Service) restock(ctx context.Context, item order.LineItem, now time.Time) error {
	p := &product.Product{
		ID:          uuid.New().String(),
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		PriceCents:  item.PriceCents,
		ImageURLs:   item.ImageURLs,
		Status:      product.StatusAvailable,
		CreatedAt:   now,
	}
	if err := s.products.Put(ctx, p); err != nil {
		return fmt.Errorf("failed to restock %s: %w", item.Name, err)
	}
	return nil
}

func (s *Service) shipmentRequest(o *order.Order, isReturn bool) carrier.ShipmentRequest {
	addr := o.ShippingAddress
	return carrier.ShipmentRequest{
		OrderID:     o.ID,
		Name:        addr.Name,
		Address:     addr.Line1,
		City:        addr.City,
		PostalCode:  addr.PostalCode,
		Country:     addr.Country,
		WeightGrams: 500,
		ServiceCode: o.ShippingMethod,
		IsReturn:    isReturn,
	}
}

func statusPayload(o *order.Order) map[string]any {
	return map[string]any{
		"order_id": o.ID,
		"status":   string(o.Status),
	}
}

// trimLineItemImages keeps only the primary image per line item once the
// order is delivered; the gallery copies are purged from the image host.
func trimLineItemImages(o *order.Order) {
	for i := range o.Items {
		if len(o.Items[i].ImageURLs) > 1 {
			o.Items[i].ImageURLs = o.Items[i].ImageURLs[:1]
		}
	}
}
