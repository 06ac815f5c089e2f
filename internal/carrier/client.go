package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var ErrShipmentNotFound = errors.New("shipment not found")

// Shipment is a carrier-side shipment record.
type Shipment struct {
	ID             string `json:"id"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	LabelURL       string `json:"label_url,omitempty"`
}

// ShipmentRequest describes the parcel and endpoints for a new shipment.
// IsReturn flips sender and recipient on the carrier side.
type ShipmentRequest struct {
	OrderID     string `json:"order_id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	WeightGrams int    `json:"weight_grams"`
	ServiceCode string `json:"service_code"`
	IsReturn    bool   `json:"is_return"`
}

// Tracking is the current carrier-reported state of a shipment.
type Tracking struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

// API is the contract this system expects from the shipping carrier.
type API interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error)
	DeleteShipment(ctx context.Context, shipmentID string) error
	GetTracking(ctx context.Context, shipmentID string) (*Tracking, error)
	GetLabel(ctx context.Context, shipmentID string) ([]byte, error)
}

// Client talks to the carrier's HTTP API. Reads are retry-safe for the
// caller; mutations get one attempt and surface the error.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	var shipment Shipment
	if err := c.do(ctx, http.MethodPost, "/shipments", req, &shipment); err != nil {
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}
	return &shipment, nil
}

func (c *Client) DeleteShipment(ctx context.Context, shipmentID string) error {
	return c.do(ctx, http.MethodDelete, "/shipments/"+shipmentID, nil, nil)
}

func (c *Client) GetTracking(ctx context.Context, shipmentID string) (*Tracking, error) {
	var tracking Tracking
	if err := c.do(ctx, http.MethodGet, "/shipments/"+shipmentID+"/tracking", nil, &tracking); err != nil {
		return nil, err
	}
	return &tracking, nil
}

func (c *Client) GetLabel(ctx context.Context, shipmentID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shipments/"+shipmentID+"/label", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrShipmentNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("carrier returned %d fetching label", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrShipmentNotFound
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("carrier returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// MockAPI records calls for tests.
type MockAPI struct {
	mu          sync.Mutex
	nextID      int
	CreateCalls []ShipmentRequest
	DeleteCalls []string
	CreateErr   error
	DeleteErr   error
	Label       []byte
	LabelErr    error
	Tracking    *Tracking
	TrackingErr error
}

func NewMockAPI() *MockAPI {
	return &MockAPI{
		Label:    []byte("%PDF-1.4 label"),
		Tracking: &Tracking{Status: "ANNOUNCED", TrackingNumber: "TRK000000"},
	}
}

func (m *MockAPI) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.CreateCalls = append(m.CreateCalls, req)
	m.nextID++
	return &Shipment{
		ID:             fmt.Sprintf("shp_%d", m.nextID),
		TrackingNumber: fmt.Sprintf("TRK%06d", m.nextID),
	}, nil
}

func (m *MockAPI) DeleteShipment(ctx context.Context, shipmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.DeleteCalls = append(m.DeleteCalls, shipmentID)
	return nil
}

func (m *MockAPI) GetTracking(ctx context.Context, shipmentID string) (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TrackingErr != nil {
		return nil, m.TrackingErr
	}
	return m.Tracking, nil
}

func (m *MockAPI) GetLabel(ctx context.Context, shipmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LabelErr != nil {
		return nil, m.LabelErr
	}
	return m.Label, nil
}
