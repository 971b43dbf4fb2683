package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the trading direction of a session.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: buy, sell)", ErrInvalidSide, s)
	}
}

func (s Side) String() string { return string(s) }

// Baseline is the metering payload attached to sell orders.
type Baseline struct {
	MeteringID    string               `json:"metering_id"`
	CreatedAt     string               `json:"created_at"`
	ReadingStart  string               `json:"reading_start"`
	ReadingEnd    string               `json:"reading_end"`
	Resolution    int                  `json:"resolution"`
	Direction     string               `json:"direction"`
	Quality       string               `json:"quality"`
	EnergyProduct string               `json:"energy_product"`
	UnitMeasured  string               `json:"unit_measured"`
	DataPoints    []map[string]float64 `json:"data_points"`
}

// SideSettings bounds the randomised order parameters for one side.
type SideSettings struct {
	QuantityMin       int
	QuantityMax       int
	PriceMin          float64
	PriceMax          float64
	WaitMultiplierMin int
	WaitMultiplierMax int
	// Baseline is only attached to sell orders.
	Baseline *Baseline
}

// Validate reports inverted ranges.
func (s SideSettings) Validate() error {
	var errs []string
	if s.QuantityMin > s.QuantityMax {
		errs = append(errs, fmt.Sprintf("quantity_min %d > quantity_max %d", s.QuantityMin, s.QuantityMax))
	}
	if s.QuantityMin < 0 {
		errs = append(errs, "quantity_min must be >= 0")
	}
	if s.PriceMin > s.PriceMax {
		errs = append(errs, fmt.Sprintf("price_min %.2f > price_max %.2f", s.PriceMin, s.PriceMax))
	}
	if s.WaitMultiplierMin > s.WaitMultiplierMax {
		errs = append(errs, fmt.Sprintf("wait_multiplier_min %d > wait_multiplier_max %d", s.WaitMultiplierMin, s.WaitMultiplierMax))
	}
	if s.WaitMultiplierMin < 0 {
		errs = append(errs, "wait_multiplier_min must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(errs, "; "))
	}
	return nil
}

// OrderOverrides carries operator-supplied values. A nil field means
// "draw a value".
type OrderOverrides struct {
	Quantity      *float64
	Price         *float64
	DeliveryStart *time.Time
	DeliveryEnd   *time.Time
	ExpiryTime    *time.Time
	// LocationIDs is nil when unset; an empty string inside is sent as null.
	LocationIDs []string
	CountryCode *string
}

// Missing lists the overrides that must be present outside test mode.
func (o OrderOverrides) Missing() []string {
	var missing []string
	if o.Quantity == nil {
		missing = append(missing, "quantity")
	}
	if o.Price == nil {
		missing = append(missing, "price")
	}
	if o.DeliveryStart == nil {
		missing = append(missing, "delivery_start")
	}
	if o.DeliveryEnd == nil {
		missing = append(missing, "delivery_end")
	}
	if o.CountryCode == nil {
		missing = append(missing, "country_code")
	}
	return missing
}

// OrderRequest is one fully resolved order, built fresh for every cycle.
type OrderRequest struct {
	Side          Side
	Power         float64
	Price         float64
	DeliveryStart time.Time
	DeliveryEnd   time.Time
	ExpiryTime    time.Time
	LocationIDs   []*string
	CountryCode   string
	Baseline      *Baseline
}

// LocationLabels renders location IDs for logging, with "null" for unset entries.
func (r OrderRequest) LocationLabels() []string {
	out := make([]string, len(r.LocationIDs))
	for i, id := range r.LocationIDs {
		if id == nil {
			out[i] = "null"
			continue
		}
		out[i] = *id
	}
	return out
}
