package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/example/atelier-shop/internal/carrier"
)

const maxWebhookBody = 1 << 20

// CarrierWebhook ingests tracking callbacks from the shipping carrier.
// Only a bad signature is rejected; unrecognized payloads and stale events
// are acknowledged so the carrier does not retry them forever.
func (h *Handlers) CarrierWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, parseErr := carrier.ParseWebhook(body)

	signature := r.Header.Get("X-Webhook-Signature")
	if !carrier.VerifySignature(h.cfg.WebhookSecret, body, signature) {
		// Unsigned simulation events are allowed in staging only.
		if !(h.cfg.AllowSimulated && parseErr == nil && event.Simulated) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	if errors.Is(parseErr, carrier.ErrUnrecognizedPayload) {
		log.Printf("[API] Ignoring unrecognized carrier payload")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.orders.ApplyCarrierEvent(r.Context(), event); err != nil {
		log.Printf("[API] Failed to apply carrier event for shipment %s: %v", event.ShipmentID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
