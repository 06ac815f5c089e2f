package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/atelier-shop/internal/carrier"
	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/infrastructure/store/mocks"
	"github.com/example/atelier-shop/internal/notify"
	"github.com/example/atelier-shop/internal/ordering"
	"github.com/example/atelier-shop/internal/payment"
	"github.com/example/atelier-shop/internal/reservation"
)

const webhookSecret = "whsec_test"

type nullMailer struct{}

func (nullMailer) SendCancelRequested(*order.Order) error     { return nil }
func (nullMailer) SendReturnRequested(*order.Order) error     { return nil }
func (nullMailer) SendReturnLabel(*order.Order, []byte) error { return nil }
func (nullMailer) SendReturnRejected(*order.Order) error      { return nil }

func newWebhookHandlers(t *testing.T, allowSimulated bool) (*Handlers, *mocks.MockStore) {
	t.Helper()
	st := mocks.NewMockStore()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := notify.NewMockPublisher()
	reservations := reservation.NewService(st, st, clk, pub)
	orders := ordering.NewService(st, st, st, reservations,
		payment.NewMockProcessor(), carrier.NewMockAPI(), nullMailer{}, pub, clk)

	h := NewHandlers(st, reservations, orders, payment.NewMockProcessor(), nil, Config{
		WebhookSecret:  webhookSecret,
		AllowSimulated: allowSimulated,
	})
	return h, st
}

func seedShippedOrder(t *testing.T, st *mocks.MockStore) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:         "ord_1",
		UserID:     "alice",
		Status:     order.StatusPaid,
		ShipmentID: "shp_1",
		PaymentRef: "pi_1",
	}
	require.NoError(t, st.PutOrder(context.Background(), o))
	return o
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handlers, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.CarrierWebhook(rec, req)
	return rec
}

func TestCarrierWebhook_AppliesSignedEvent(t *testing.T) {
	h, st := newWebhookHandlers(t, false)
	seedShippedOrder(t, st)

	body := []byte(`{"shipment": {"id": "shp_1", "status": "in transit", "tracking_number": "TRK42"}}`)
	rec := postWebhook(h, body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	got, err := st.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusInTransit, got.Status)
	assert.Equal(t, "TRK42", got.TrackingNumber)
}

func TestCarrierWebhook_BadSignature(t *testing.T) {
	h, st := newWebhookHandlers(t, false)
	seedShippedOrder(t, st)

	body := []byte(`{"shipment": {"id": "shp_1", "status": "delivered"}}`)

	rec := postWebhook(h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(h, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The order never moved.
	got, err := st.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
}

func TestCarrierWebhook_UnrecognizedPayloadAcknowledged(t *testing.T) {
	h, _ := newWebhookHandlers(t, false)

	body := []byte(`{"hello": "world"}`)
	rec := postWebhook(h, body, signBody(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCarrierWebhook_UnknownShipmentAcknowledged(t *testing.T) {
	h, _ := newWebhookHandlers(t, false)

	body := []byte(`{"shipment": {"id": "shp_ghost", "status": "delivered"}}`)
	rec := postWebhook(h, body, signBody(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCarrierWebhook_SimulatedEvents(t *testing.T) {
	body := []byte(`{"simulation": true, "shipment_id": "shp_1", "status": "IN_TRANSIT"}`)

	// Staging accepts unsigned simulation traffic.
	h, st := newWebhookHandlers(t, true)
	seedShippedOrder(t, st)
	rec := postWebhook(h, body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	got, err := st.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusInTransit, got.Status)

	// Production does not.
	h, st = newWebhookHandlers(t, false)
	seedShippedOrder(t, st)
	rec = postWebhook(h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
