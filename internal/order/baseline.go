package order

import "github.com/alanyoungcy/gflexbot/internal/domain"

// DefaultBaseline is the metering payload sent with sell orders when none
// is configured.
func DefaultBaseline() *domain.Baseline {
	return &domain.Baseline{
		MeteringID:    "ce15bc33-2bda-4d26-8ddd-b958b22b569b",
		CreatedAt:     "2019-08-24T14:15:00Z",
		ReadingStart:  "2019-08-24T14:15:00Z",
		ReadingEnd:    "2019-08-24T14:30:00Z",
		Resolution:    1,
		Direction:     "consumption",
		Quality:       "estimated",
		EnergyProduct: "apparent",
		UnitMeasured:  "kWh",
		DataPoints:    []map[string]float64{{"2019-08-24T14:15:00Z": 1}},
	}
}
