package order

import (
	"errors"
	"fmt"
	"time"
)

type Status string

// Persisted status values. The storefront order page depends on these exact
// strings; do not rename.
const (
	StatusPaid            Status = "paid"
	StatusPreparing       Status = "preparing"
	StatusReady           Status = "ready"
	StatusInTransit       Status = "in_transit"
	StatusOutForDelivery  Status = "out_for_delivery"
	StatusDelivered       Status = "delivered"
	StatusCancelRequested Status = "cancel_requested"
	StatusCancelled       Status = "cancelled"
	StatusReturnRequested Status = "return_requested"
	StatusReturnInTransit Status = "return_in_transit"
	StatusReturnDelivered Status = "return_delivered"
	StatusReturned        Status = "returned"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidStatus      = errors.New("invalid order status transition")
	ErrOrderCancelled     = errors.New("order is already cancelled")
	ErrOrderReturned      = errors.New("order is already returned")
	ErrAlreadyDelivered   = errors.New("order is already delivered")
	ErrNotCancelRequested = errors.New("order has no pending cancel request")
	ErrNotReturnRequested = errors.New("order has no pending return request")
	ErrReturnWindowClosed = errors.New("return window has closed")
)

// validTransitions defines allowed state transitions. delivered is terminal
// for the forward path but re-enters via return_requested.
var validTransitions = map[Status][]Status{
	StatusPaid:            {StatusPreparing, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusCancelRequested, StatusCancelled},
	StatusPreparing:       {StatusReady, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusCancelRequested, StatusCancelled},
	StatusReady:           {StatusInTransit, StatusOutForDelivery, StatusDelivered},
	StatusInTransit:       {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery:  {StatusDelivered},
	StatusDelivered:       {StatusReturnRequested},
	StatusCancelRequested: {StatusCancelled, StatusPaid, StatusPreparing, StatusDelivered},
	StatusCancelled:       {}, // terminal
	StatusReturnRequested: {StatusDelivered, StatusReturnInTransit, StatusReturnDelivered},
	StatusReturnInTransit: {StatusReturnDelivered},
	StatusReturnDelivered: {StatusReturned},
	StatusReturned:        {}, // terminal
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionError returns an appropriate error for an invalid transition.
func (o *Order) TransitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status == StatusReturned:
		return ErrOrderReturned
	case o.Status == StatusDelivered && target == StatusDelivered:
		return ErrAlreadyDelivered
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

// InReturnFlow reports whether the order is currently on the return branch.
// Carrier events for a return shipment are interpreted differently from
// forward-path events.
func (s Status) InReturnFlow() bool {
	switch s {
	case StatusReturnRequested, StatusReturnInTransit, StatusReturnDelivered, StatusReturned:
		return true
	}
	return false
}

// Cancellable reports whether a cancel request may be opened.
func (s Status) Cancellable() bool {
	return s == StatusPaid || s == StatusPreparing
}

// LineItem is an immutable snapshot of a product captured at checkout. The
// originating product is deleted from inventory when the order is placed, so
// the snapshot is the only surviving record of the piece.
type LineItem struct {
	ProductID   string   `json:"product_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	PriceCents  int      `json:"price_cents"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// Address is a shipping or billing address. Both are unset after delivery
// to limit retained PII.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

type Order struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Email           string     `json:"email"`
	Items           []LineItem `json:"items"`
	TotalCents      int        `json:"total_cents"`
	ShippingMethod  string     `json:"shipping_method"`
	ShippingAddress Address    `json:"shipping_address,omitempty"`
	BillingAddress  Address    `json:"billing_address,omitempty"`
	PaymentRef      string     `json:"payment_ref"`
	Status          Status     `json:"status"`

	ShipmentID     string `json:"shipment_id,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`

	// Cancel request bookkeeping. PreviousStatus is restored when an admin
	// rejects the request.
	PreviousStatus Status `json:"previous_status,omitempty"`
	CancelReason   string `json:"cancel_reason,omitempty"`

	ReturnReason string   `json:"return_reason,omitempty"`
	ReturnPhotos []string `json:"return_photos,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	PreparingAt time.Time `json:"preparing_at,omitempty"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`
	ReturnedAt  time.Time `json:"returned_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
