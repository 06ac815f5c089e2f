package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/infrastructure/store/mocks"
	"github.com/example/atelier-shop/internal/notify"
)

type recordingMailer struct {
	Confirmations []string
	Delivered     []string
	Refunds       []string
}

func (m *recordingMailer) SendOrderConfirmation(o *order.Order) error {
	m.Confirmations = append(m.Confirmations, o.ID)
	return nil
}

func (m *recordingMailer) SendOrderDelivered(o *order.Order) error {
	m.Delivered = append(m.Delivered, o.ID)
	return nil
}

func (m *recordingMailer) SendRefundConfirmation(o *order.Order) error {
	m.Refunds = append(m.Refunds, o.ID)
	return nil
}

func event(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(notify.Event{Type: eventType, Data: data})
	require.NoError(t, err)
	return raw
}

func TestHandleEvent_OrderPlaced(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandler(mailer, mocks.NewMockStore())

	o := &order.Order{ID: "ord_1", Email: "alice@example.com", Status: order.StatusPaid}
	err := h.HandleEvent(context.Background(), []byte("ord_1"), event(t, notify.TypeOrderPlaced, o))
	require.NoError(t, err)

	assert.Equal(t, []string{"ord_1"}, mailer.Confirmations)
}

func TestHandleEvent_OrderDelivered(t *testing.T) {
	st := mocks.NewMockStore()
	require.NoError(t, st.PutOrder(context.Background(), &order.Order{
		ID:     "ord_2",
		Email:  "bob@example.com",
		Status: order.StatusDelivered,
	}))

	mailer := &recordingMailer{}
	h := NewHandler(mailer, st)

	payload := map[string]string{"order_id": "ord_2", "status": "delivered"}
	err := h.HandleEvent(context.Background(), []byte("ord_2"), event(t, notify.TypeOrderDelivered, payload))
	require.NoError(t, err)

	assert.Equal(t, []string{"ord_2"}, mailer.Delivered)
}

func TestHandleEvent_OrderRefunded(t *testing.T) {
	st := mocks.NewMockStore()
	require.NoError(t, st.PutOrder(context.Background(), &order.Order{
		ID:     "ord_3",
		Email:  "carol@example.com",
		Status: order.StatusReturned,
	}))

	mailer := &recordingMailer{}
	h := NewHandler(mailer, st)

	payload := map[string]string{"order_id": "ord_3", "status": "returned"}
	err := h.HandleEvent(context.Background(), []byte("ord_3"), event(t, notify.TypeOrderRefunded, payload))
	require.NoError(t, err)

	assert.Equal(t, []string{"ord_3"}, mailer.Refunds)
}

func TestHandleEvent_IgnoresOtherTypes(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandler(mailer, mocks.NewMockStore())

	err := h.HandleEvent(context.Background(), []byte("p1"),
		event(t, notify.TypeProductReserved, map[string]string{"product_id": "p1"}))
	require.NoError(t, err)

	assert.Empty(t, mailer.Confirmations)
	assert.Empty(t, mailer.Delivered)
	assert.Empty(t, mailer.Refunds)
}

func TestHandleEvent_MissingOrderIsSkipped(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandler(mailer, mocks.NewMockStore())

	payload := map[string]string{"order_id": "ghost"}
	err := h.HandleEvent(context.Background(), []byte("ghost"), event(t, notify.TypeOrderDelivered, payload))
	require.NoError(t, err)
	assert.Empty(t, mailer.Delivered)
}

func TestHandleEvent_MalformedEnvelope(t *testing.T) {
	h := NewHandler(&recordingMailer{}, mocks.NewMockStore())
	err := h.HandleEvent(context.Background(), nil, []byte("not json"))
	require.Error(t, err)
}
