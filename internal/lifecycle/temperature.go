package lifecycle

import "greenhouse/pkg/domain"

// TargetTemperature is the setpoint for a phase, offset from the seed type's
// ideal: warmer while germinating, cooler toward harvest. ok is false when the
// seed type is unknown.
func TargetTemperature(phase domain.Phase, seedType *domain.SeedType) (float64, bool) {
	if seedType == nil {
		return 0, false
	}
	ideal := seedType.IdealTemperature
	switch phase {
	case domain.PhaseGermination:
		return ideal + 2, true
	case domain.PhaseGreenhouse:
		return ideal - 1, true
	case domain.PhaseHarvest:
		return ideal - 2, true
	default:
		return ideal, true
	}
}
