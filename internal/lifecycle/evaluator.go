package lifecycle

import (
	"math"

	"greenhouse/pkg/domain"
)

// Penalty weights applied per unit of deviation from the ideal conditions.
const (
	TemperaturePenalty = 2.0
	HumidityPenalty    = 1.5
)

// Evaluation is the germination score produced when a seed leaves germination.
type Evaluation struct {
	SuccessRate float64 `json:"success_rate"`
	Profit      float64 `json:"profit"`
}

// EvaluateGermination scores reported conditions against the seed type's
// ideals. The success rate is clamped to [0, 100]; profit scales the
// estimated profit by that rate.
func EvaluateGermination(seedType domain.SeedType, temperature, humidity float64) Evaluation {
	tempDiff := math.Abs(seedType.IdealTemperature - temperature)
	humidityDiff := math.Abs(seedType.IdealHumidity - humidity)
	raw := seedType.ExpectedGerminationRate - tempDiff*TemperaturePenalty - humidityDiff*HumidityPenalty
	success := clamp(raw, 0, 100)
	return Evaluation{
		SuccessRate: success,
		Profit:      success * seedType.EstimatedProfit / 100,
	}
}

// SanitizeReading maps values that cannot be scored (NaN, infinities) to 0.
func SanitizeReading(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
