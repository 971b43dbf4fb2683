package glocalflex

import (
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/order"
)

// OrderPayload is the JSON body of POST /api/v1/order/.
type OrderPayload struct {
	Side          string           `json:"side"`
	Power         float64          `json:"power"`
	Price         float64          `json:"price"`
	DeliveryStart string           `json:"delivery_start"`
	DeliveryEnd   string           `json:"delivery_end"`
	ExpiryTime    string           `json:"expiry_time"`
	Location      LocationPayload  `json:"location"`
	Baseline      *domain.Baseline `json:"baseline,omitempty"`
}

// LocationPayload identifies where the flexibility is offered or needed.
// A nil entry in LocationID is sent as JSON null.
type LocationPayload struct {
	LocationID  []*string `json:"location_id"`
	CountryCode string    `json:"country_code"`
}

// ToPayload converts a resolved order to its wire form. Buy orders never
// carry a baseline.
func ToPayload(req domain.OrderRequest) OrderPayload {
	p := OrderPayload{
		Side:          req.Side.String(),
		Power:         req.Power,
		Price:         req.Price,
		DeliveryStart: order.FormatTimestamp(req.DeliveryStart),
		DeliveryEnd:   order.FormatTimestamp(req.DeliveryEnd),
		ExpiryTime:    order.FormatTimestamp(req.ExpiryTime),
		Location: LocationPayload{
			LocationID:  req.LocationIDs,
			CountryCode: req.CountryCode,
		},
	}
	if req.Side == domain.SideSell {
		p.Baseline = req.Baseline
	}
	if p.Location.LocationID == nil {
		p.Location.LocationID = []*string{nil}
	}
	return p
}

// Response is the raw outcome of an order POST.
type Response struct {
	StatusCode int
	Body       []byte
}
