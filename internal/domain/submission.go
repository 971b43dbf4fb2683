package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Submission is the journal record of one completed submission cycle.
type Submission struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Account       string    `json:"account"`
	Side          Side      `json:"side"`
	Cycle         int       `json:"cycle"`
	StatusCode    int       `json:"status_code"`
	Outcome       string    `json:"outcome"`
	Power         float64   `json:"power"`
	Price         float64   `json:"price"`
	DeliveryStart time.Time `json:"delivery_start"`
	DeliveryEnd   time.Time `json:"delivery_end"`
	ExpiryTime    time.Time `json:"expiry_time"`
	CountryCode   string    `json:"country_code"`
	LocationIDs   []string  `json:"location_ids"`
	ResponseBody  string    `json:"response_body,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarketMessage is one push notification from the marketplace. Payload is
// any valid JSON value: object, array or scalar.
type MarketMessage struct {
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Object decodes the payload as a JSON object. ok is false for arrays and
// scalars.
func (m MarketMessage) Object() (obj map[string]any, ok bool) {
	if err := json.Unmarshal(m.Payload, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Value decodes the payload into its generic Go form.
func (m MarketMessage) Value() (any, error) {
	var v any
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", m.Endpoint, err)
	}
	return v, nil
}
