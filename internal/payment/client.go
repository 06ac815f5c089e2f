package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var (
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrRefundFailed is a hard failure: an order must never reach a
	// terminal cancelled/returned state while the money has not moved back.
	ErrRefundFailed = errors.New("refund failed")
)

// Intent is a payment intent as reported by the processor.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	AmountCents  int    `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"` // e.g. "requires_payment_method", "succeeded"
}

// Processor is the contract this system expects from the payment provider.
// Refunds are idempotent on the provider side.
type Processor interface {
	CreateIntent(ctx context.Context, amountCents int, currency string) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	Refund(ctx context.Context, paymentRef string) error
}

// Client talks to the payment processor's HTTP API. Mutations carry a fixed
// timeout and a timeout is treated as a hard failure, never retried here.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CreateIntent(ctx context.Context, amountCents int, currency string) (*Intent, error) {
	body := map[string]any{"amount": amountCents, "currency": currency}
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", body, &intent); err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &intent, nil
}

func (c *Client) GetIntent(ctx context.Context, id string) (*Intent, error) {
	var intent Intent
	err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &intent)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &intent, nil
}

func (c *Client) Refund(ctx context.Context, paymentRef string) error {
	body := map[string]any{"payment_intent": paymentRef}
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrIntentNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// MockProcessor records calls for tests.
type MockProcessor struct {
	mu          sync.Mutex
	Intents     map[string]*Intent
	RefundCalls []string
	RefundErr   error
}

func NewMockProcessor() *MockProcessor {
	return &MockProcessor{Intents: make(map[string]*Intent)}
}

func (m *MockProcessor) CreateIntent(ctx context.Context, amountCents int, currency string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent := &Intent{
		ID:           fmt.Sprintf("pi_test_%d", len(m.Intents)+1),
		ClientSecret: "secret",
		AmountCents:  amountCents,
		Currency:     currency,
		Status:       "requires_payment_method",
	}
	m.Intents[intent.ID] = intent
	return intent, nil
}

func (m *MockProcessor) GetIntent(ctx context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.Intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return intent, nil
}

func (m *MockProcessor) Refund(ctx context.Context, paymentRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefundErr != nil {
		return m.RefundErr
	}
	m.RefundCalls = append(m.RefundCalls, paymentRef)
	return nil
}

// SucceedIntent marks an intent as paid (test helper).
func (m *MockProcessor) SucceedIntent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.Intents[id]; ok {
		intent.Status = "succeeded"
	}
}
