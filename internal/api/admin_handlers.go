package api

import (
	"net/http"
)

// Admin order handlers. All of these sit behind RequireRole("admin").

func (h *Handlers) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// AdminCancel cancels and refunds an order, including accepting a pending
// cancel request.
func (h *Handlers) AdminCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.AdminCancel(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) RejectCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.RejectCancel(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) AcceptReturn(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.AcceptReturn(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) RejectReturn(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.RejectReturn(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) RefundReturn(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.RefundReturn(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) MarkReady(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.MarkReady(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SyncTracking re-pulls the carrier's view of the shipment, for orders whose
// webhook events were missed.
func (h *Handlers) SyncTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.SyncTracking(r.Context(), orderIDFromPath(r.URL.Path)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
