package cart

import "time"

// Item is one held product in a cart.
type Item struct {
	ProductID string    `json:"product_id"`
	AddedAt   time.Time `json:"added_at"`
}

// Cart is the set of products a holder currently has on hold. ExpiresAt is
// the single shared expiry for the whole cart: the soonest hold among its
// items. It is the zero time when the cart is empty.
type Cart struct {
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Contains reports whether productID is in the cart.
func (c *Cart) Contains(productID string) bool {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// Expired reports whether the cart has a pending expiry that has passed.
func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}
