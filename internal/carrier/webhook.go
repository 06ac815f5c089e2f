package carrier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnrecognizedPayload is deliberately swallowed by the webhook
	// endpoint: unknown shapes are acknowledged as no-ops so the carrier
	// does not retry them forever.
	ErrUnrecognizedPayload = errors.New("unrecognized webhook payload")
)

// Carrier tracking statuses after normalization.
const (
	StatusAnnounced      = "ANNOUNCED"
	StatusPending        = "PENDING"
	StatusPickedUp       = "PICKED_UP"
	StatusShipped        = "SHIPPED"
	StatusInTransit      = "IN_TRANSIT"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
	StatusUnknown        = "UNKNOWN"
)

// TrackingEvent is the one canonical shape handed to the order lifecycle,
// whatever the wire payload looked like.
type TrackingEvent struct {
	ShipmentID     string
	Status         string
	TrackingNumber string
	Simulated      bool
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw request
// body. Fails closed: an absent or malformed signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// shipmentRef decodes a shipment id that the carrier sends either as a JSON
// string ("shp_1") or a bare number (42), depending on the payload shape.
type shipmentRef string

func (r *shipmentRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = shipmentRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = shipmentRef(n.String())
	return nil
}

func (r shipmentRef) String() string { return string(r) }

// webhookPayload covers every inbound shape the carrier is known to send:
// simulation events, tracking-array payloads, content-object payloads and
// direct-field payloads. Exactly one branch is populated per message.
type webhookPayload struct {
	Simulation     bool        `json:"simulation"`
	ShipmentID     shipmentRef `json:"shipment_id"`
	Status         string      `json:"status"`
	TrackingNumber string      `json:"tracking_number"`

	Trackings []struct {
		ShipmentID     shipmentRef `json:"shipment_id"`
		Status         string      `json:"status"`
		TrackingNumber string      `json:"tracking_number"`
	} `json:"trackings"`

	Content *struct {
		Shipment struct {
			ID shipmentRef `json:"id"`
		} `json:"shipment"`
		Status         string `json:"status"`
		TrackingNumber string `json:"tracking_number"`
	} `json:"content"`

	Shipment *struct {
		ID             shipmentRef `json:"id"`
		Status         string      `json:"status"`
		TrackingNumber string      `json:"tracking_number"`
	} `json:"shipment"`
}

// ParseWebhook normalizes a raw webhook body into a TrackingEvent.
// Returns ErrUnrecognizedPayload when no known shape matches.
func ParseWebhook(body []byte) (*TrackingEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrUnrecognizedPayload
	}

	event := &TrackingEvent{Simulated: p.Simulation}

	switch {
	case len(p.Trackings) > 0:
		// Tracking-array payload: the last entry is the most recent.
		latest := p.Trackings[len(p.Trackings)-1]
		event.ShipmentID = latest.ShipmentID.String()
		if event.ShipmentID == "" {
			event.ShipmentID = p.ShipmentID.String()
		}
		event.Status = latest.Status
		event.TrackingNumber = latest.TrackingNumber

	case p.Content != nil:
		event.ShipmentID = p.Content.Shipment.ID.String()
		event.Status = p.Content.Status
		event.TrackingNumber = p.Content.TrackingNumber

	case p.Shipment != nil:
		event.ShipmentID = p.Shipment.ID.String()
		event.Status = p.Shipment.Status
		event.TrackingNumber = p.Shipment.TrackingNumber

	default:
		// Simulation events and direct-field payloads both carry the
		// fields at the top level.
		event.ShipmentID = p.ShipmentID.String()
		event.Status = p.Status
		event.TrackingNumber = p.TrackingNumber
	}

	if event.ShipmentID == "" || event.Status == "" {
		return nil, ErrUnrecognizedPayload
	}

	event.Status = NormalizeStatus(event.Status)
	return event, nil
}

// NormalizeStatus maps the carrier's free-form status strings onto the
// fixed vocabulary the lifecycle machine understands.
func NormalizeStatus(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")

	switch s {
	case StatusAnnounced, "ANNOUNCING", "CREATED":
		return StatusAnnounced
	case StatusPending, "AWAITING_PICKUP", "READY_TO_SEND":
		return StatusPending
	case StatusPickedUp, "COLLECTED":
		return StatusPickedUp
	case StatusShipped, "DISPATCHED":
		return StatusShipped
	case StatusInTransit, "EN_ROUTE", "SORTED":
		return StatusInTransit
	case StatusOutForDelivery, "WITH_COURIER":
		return StatusOutForDelivery
	case StatusDelivered:
		return StatusDelivered
	default:
		return StatusUnknown
	}
}
