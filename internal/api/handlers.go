package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/example/atelier-shop/internal/api/middleware"
	"github.com/example/atelier-shop/internal/auth"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
	"github.com/example/atelier-shop/internal/infrastructure/store"
	"github.com/example/atelier-shop/internal/ordering"
	"github.com/example/atelier-shop/internal/payment"
	"github.com/example/atelier-shop/internal/reservation"
)

// Config carries the handler settings that come from the environment.
type Config struct {
	AdminEmail        string
	AdminPasswordHash string
	WebhookSecret     string
	// AllowSimulated accepts unsigned webhook payloads flagged simulation:true
	// (staging only).
	AllowSimulated bool
}

type Handlers struct {
	products     store.ProductStore
	reservations *reservation.Service
	orders       *ordering.Service
	payments     payment.Processor
	tokens       *auth.Service
	cfg          Config
}

func NewHandlers(
	products store.ProductStore,
	reservations *reservation.Service,
	orders *ordering.Service,
	payments payment.Processor,
	tokens *auth.Service,
	cfg Config,
) *Handlers {
	return &Handlers{
		products:     products,
		reservations: reservations,
		orders:       orders,
		payments:     payments,
		tokens:       tokens,
		cfg:          cfg,
	}
}

// Product Handlers

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		PriceCents  int      `json:"price_cents"`
		ImageURLs   []string `json:"image_urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.PriceCents <= 0 {
		http.Error(w, "name and a positive price are required", http.StatusBadRequest)
		return
	}

	p := &product.Product{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		ImageURLs:   req.ImageURLs,
		Status:      product.StatusAvailable,
	}
	if err := h.products.Put(r.Context(), p); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")
	if err := h.products.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}

// Cart Handlers

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	c, err := h.reservations.Reserve(r.Context(), req.ProductID, userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	productID := extractPathParam(r.URL.Path, "/cart/items/")

	if err := h.reservations.Release(r.Context(), productID, userID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	c, err := h.reservations.Cart(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Checkout Handlers

// CreatePaymentIntent opens a payment intent covering the current cart.
func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	c, err := h.reservations.Cart(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if c.IsEmpty() {
		http.Error(w, "cart is empty", http.StatusBadRequest)
		return
	}

	var total int
	for _, item := range c.Items {
		p, err := h.products.Get(r.Context(), item.ProductID)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		total += p.PriceCents
	}

	intent, err := h.payments.CreateIntent(r.Context(), total, "usd")
	if err != nil {
		http.Error(w, "payment provider unavailable", http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusCreated, intent)
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetUserFromContext(r.Context())

	var req struct {
		Email           string        `json:"email"`
		ShippingMethod  string        `json:"shipping_method"`
		ShippingAddress order.Address `json:"shipping_address"`
		BillingAddress  order.Address `json:"billing_address"`
		PaymentRef      string        `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		req.Email = claims.Email
	}
	if req.BillingAddress.IsZero() {
		req.BillingAddress = req.ShippingAddress
	}

	o, err := h.orders.Checkout(r.Context(), ordering.CheckoutInput{
		UserID:          claims.UserID,
		Email:           req.Email,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentRef:      req.PaymentRef,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// Order Handlers

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := orderIDFromPath(r.URL.Path)
	o, err := h.orders.Get(r.Context(), id, middleware.GetUserID(r.Context()), middleware.IsAdmin(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) RequestCancel(w http.ResponseWriter, r *http.Request) {
	id := orderIDFromPath(r.URL.Path)
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.orders.RequestCancel(r.Context(), id, userID, req.Reason); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) RequestReturn(w http.ResponseWriter, r *http.Request) {
	id := orderIDFromPath(r.URL.Path)
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Reason string   `json:"reason"`
		Photos []string `json:"photos"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.orders.RequestReturn(r.Context(), id, userID, req.Reason, req.Photos); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// orderIDFromPath strips the /orders/ prefix and any action suffix.
func orderIDFromPath(path string) string {
	p := strings.TrimPrefix(path, "/admin")
	p = strings.TrimPrefix(p, "/orders/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// respondServiceError maps domain errors onto HTTP statuses.
func (h *Handlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, product.ErrReserved),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, order.ErrOrderReturned),
		errors.Is(err, order.ErrAlreadyDelivered),
		errors.Is(err, order.ErrNotCancelRequested),
		errors.Is(err, order.ErrNotReturnRequested),
		errors.Is(err, ordering.ErrPaymentRefUsed),
		errors.Is(err, ordering.ErrNoShipment):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ordering.ErrNotOwner):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ordering.ErrEmptyCart),
		errors.Is(err, ordering.ErrPaymentNotSettled),
		errors.Is(err, ordering.ErrPaymentAmountMismatch),
		errors.Is(err, order.ErrReturnWindowClosed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payment.ErrRefundFailed),
		errors.Is(err, payment.ErrIntentNotFound):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
