package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/infrastructure/store"
	"github.com/example/atelier-shop/internal/notify"
)

// Mailer is the subset of the email service the notifier uses.
type Mailer interface {
	SendOrderConfirmation(o *order.Order) error
	SendOrderDelivered(o *order.Order) error
	SendRefundConfirmation(o *order.Order) error
}

// Handler turns committed lifecycle events into customer email. Events are
// only published when a transition actually lands, so a replayed carrier
// webhook never produces a duplicate mail here.
type Handler struct {
	mailer Mailer
	orders store.OrderStore
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, orders store.OrderStore) *Handler {
	return &Handler{
		mailer: mailer,
		orders: orders,
	}
}

// envelope mirrors notify.Event with the payload left raw so each event
// type can decode its own shape.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleEvent processes an event from Kafka.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event envelope
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	switch event.Type {
	case notify.TypeOrderPlaced:
		return h.handleOrderPlaced(event)
	case notify.TypeOrderDelivered:
		return h.handleStatusEmail(ctx, event, h.mailer.SendOrderDelivered)
	case notify.TypeOrderRefunded:
		return h.handleStatusEmail(ctx, event, h.mailer.SendRefundConfirmation)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(event envelope) error {
	var o order.Order
	if err := json.Unmarshal(event.Data, &o); err != nil {
		log.Printf("[Notifier] Failed to unmarshal order_placed payload: %v", err)
		return err
	}
	if o.Email == "" {
		log.Printf("[Notifier] Order %s has no email address, skipping confirmation", o.ID)
		return nil
	}

	if err := h.mailer.SendOrderConfirmation(&o); err != nil {
		log.Printf("[Notifier] Failed to send confirmation to %s: %v", o.Email, err)
		return err
	}
	log.Printf("[Notifier] Order confirmation sent to %s for order %s", o.Email, o.ID)
	return nil
}

func (h *Handler) handleStatusEmail(ctx context.Context, event envelope, send func(*order.Order) error) error {
	var payload struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil || payload.OrderID == "" {
		log.Printf("[Notifier] Malformed %s payload", event.Type)
		return nil
	}

	o, err := h.orders.GetOrder(ctx, payload.OrderID)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Printf("[Notifier] Order not found: %s", payload.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if o.Email == "" {
		return nil
	}

	if err := send(o); err != nil {
		log.Printf("[Notifier] Failed to send %s mail for order %s: %v", event.Type, o.ID, err)
		return err
	}
	log.Printf("[Notifier] %s mail sent for order %s", event.Type, o.ID)
	return nil
}
