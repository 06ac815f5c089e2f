package product

import (
	"errors"
	"time"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
)

var (
	ErrNotFound = errors.New("product not found")
	// ErrReserved is returned when another holder currently has an
	// unexpired hold on the product.
	ErrReserved = errors.New("product already reserved")
)

// Product is a one-of-a-kind piece. There is no stock count: a product is
// either available, held by exactly one cart, or gone (sold products are
// deleted and live on only as order line-item snapshots).
type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	PriceCents    int       `json:"price_cents"`
	ImageURLs     []string  `json:"image_urls,omitempty"`
	Status        Status    `json:"status"`
	ReservedBy    string    `json:"reserved_by,omitempty"`
	ReservedUntil time.Time `json:"reserved_until,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HeldBy reports whether the product carries an unexpired hold for holderID.
func (p *Product) HeldBy(holderID string, now time.Time) bool {
	return p.Status == StatusReserved && p.ReservedBy == holderID && p.ReservedUntil.After(now)
}

// HoldExpired reports whether a recorded hold has lapsed. An expired hold
// must be treated as available even before the sweeper reclaims it.
func (p *Product) HoldExpired(now time.Time) bool {
	return p.Status == StatusReserved && !p.ReservedUntil.After(now)
}
