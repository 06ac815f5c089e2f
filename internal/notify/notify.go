package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/atelier-shop/internal/infrastructure/kafka"
)

// Event types pushed to connected clients. Clients reconcile state by
// refetching; delivery is at-most-once.
const (
	TypeProductReserved    = "product_reserved"
	TypeProductReleased    = "product_released"
	TypeReservationExpired = "reservation_expired"
	TypeOrderPlaced        = "order_placed"
	TypeOrderStatusChanged = "order_status_changed"
	TypeOrderDelivered     = "order_delivered"
	TypeOrderCancelled     = "order_cancelled"
	TypeCancelRequested    = "cancel_requested"
	TypeReturnRequested    = "return_requested"
	TypeOrderRefunded      = "order_refunded"
)

// Event is the envelope broadcast after a state change has been committed.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Publisher broadcasts state-change events. Implementations must never
// block or fail the triggering state transition: delivery is fire-and-
// forget and errors are logged only.
type Publisher interface {
	Publish(key, eventType string, data any)
}

// KafkaPublisher fans events out over a Kafka topic. Each Publish runs in
// its own goroutine with a bounded timeout so a slow broker cannot stall a
// request handler.
type KafkaPublisher struct {
	producer *kafka.Producer
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		timeout:  5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(key, eventType string, data any) {
	event := Event{Type: eventType, Data: data, At: time.Now().UTC()}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.producer.Publish(ctx, key, event); err != nil {
			log.Printf("[Notify] Failed to publish %s for %s: %v", eventType, key, err)
		}
	}()
}

// Wait blocks until in-flight publishes drain (used on shutdown).
func (p *KafkaPublisher) Wait() {
	p.wg.Wait()
}

// MockPublisher records events for tests.
type MockPublisher struct {
	mu     sync.Mutex
	Events []Event
	Keys   []string
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (p *MockPublisher) Publish(key, eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, Event{Type: eventType, Data: data, At: time.Now().UTC()})
	p.Keys = append(p.Keys, key)
}

// TypesSeen returns the event types published so far, in order.
func (p *MockPublisher) TypesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Events))
	for i, e := range p.Events {
		out[i] = e.Type
	}
	return out
}
