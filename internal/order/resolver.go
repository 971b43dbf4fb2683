// Package order builds marketplace orders from side settings, operator
// overrides and randomised fill-ins.
package order

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const (
	quantityStep    = 100
	deliveryLead    = time.Hour
	deliveryLength  = 2 * time.Hour
	defaultExpiryIn = 10 * time.Minute
)

// CountryCodes is the marketplace allow-list. The empty code means
// "unspecified".
var CountryCodes = []string{"CZ", "DE", "CH", "ES", "FI", "FR", ""}

// ValidCountry reports whether code is on the allow-list.
func ValidCountry(code string) bool {
	for _, c := range CountryCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Resolver draws order parameters. Each session owns one; it is safe for
// concurrent use.
type Resolver struct {
	mu  sync.Mutex
	rng *rand.Rand
	loc *time.Location
}

// NewResolver creates a Resolver. A nil rng is replaced by a randomly seeded
// PCG source; a nil loc means UTC.
func NewResolver(rng *rand.Rand, loc *time.Location) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{rng: rng, loc: loc}
}

// Resolve builds the order for one cycle at time now.
func (r *Resolver) Resolve(settings domain.SideSettings, ov domain.OrderOverrides, side domain.Side, now time.Time) (domain.OrderRequest, error) {
	now = now.In(r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	req := domain.OrderRequest{Side: side}

	if ov.Quantity != nil {
		req.Power = *ov.Quantity
	} else {
		req.Power = float64(r.quantity(settings.QuantityMin, settings.QuantityMax))
	}

	if ov.Price != nil {
		req.Price = *ov.Price
	} else {
		req.Price = r.price(settings.PriceMin, settings.PriceMax)
	}

	if ov.CountryCode != nil {
		req.CountryCode = *ov.CountryCode
	} else {
		req.CountryCode = CountryCodes[r.rng.IntN(len(CountryCodes))]
	}

	req.LocationIDs = locationIDs(ov.LocationIDs)

	if ov.DeliveryStart != nil {
		req.DeliveryStart = *ov.DeliveryStart
	} else {
		req.DeliveryStart = RoundUpQuarter(now.Add(deliveryLead))
	}
	if ov.DeliveryEnd != nil {
		req.DeliveryEnd = *ov.DeliveryEnd
	} else {
		req.DeliveryEnd = RoundUpQuarter(now.Add(deliveryLength))
	}

	// A stale expiry override would produce an order that is dead on arrival.
	if ov.ExpiryTime != nil && ov.ExpiryTime.After(now) {
		req.ExpiryTime = *ov.ExpiryTime
	} else {
		req.ExpiryTime = now.Add(defaultExpiryIn)
	}

	if side == domain.SideSell {
		req.Baseline = settings.Baseline
		if req.Baseline == nil {
			req.Baseline = DefaultBaseline()
		}
	}

	if !req.DeliveryStart.Before(req.DeliveryEnd) {
		return domain.OrderRequest{}, fmt.Errorf("order: %w: delivery_start %s is not before delivery_end %s",
			domain.ErrInvalidOrder, FormatTimestamp(req.DeliveryStart), FormatTimestamp(req.DeliveryEnd))
	}
	return req, nil
}

// WaitMultiplier draws the pacing multiplier, inclusive on both ends.
func (r *Resolver) WaitMultiplier(settings domain.SideSettings) int {
	lo, hi := settings.WaitMultiplierMin, settings.WaitMultiplierMax
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.rng.IntN(hi-lo+1)
}

// Chance returns true with probability p.
func (r *Resolver) Chance(p float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < p
}

// quantity draws from {min, min+100, ...} below max. A degenerate range
// yields min.
func (r *Resolver) quantity(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	steps := (hi - lo + quantityStep - 1) / quantityStep
	return lo + quantityStep*r.rng.IntN(steps)
}

func (r *Resolver) price(lo, hi float64) float64 {
	p := lo
	if hi > lo {
		p = lo + r.rng.Float64()*(hi-lo)
	}
	return math.Round(p*100) / 100
}

func locationIDs(ids []string) []*string {
	if ids == nil {
		return []*string{nil}
	}
	out := make([]*string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.EqualFold(id, "null") {
			out = append(out, nil)
			continue
		}
		out = append(out, &id)
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}
