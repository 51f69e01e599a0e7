// Package lifecycle holds the seed phase model: the fixed schedule derived
// from a start date, germination scoring, and the forward-only state machine.
// Everything here is pure; callers own persistence.
package lifecycle

import (
	"time"

	"greenhouse/pkg/domain"
)

// Fixed phase durations. They do not vary by seed type.
const (
	GerminationDuration = 40 * time.Hour
	NurseryDays         = 15
	GreenhouseDays      = 40
	HarvestDays         = 45
)

// PhaseBoundaries are the instants at which each phase is scheduled to end.
type PhaseBoundaries struct {
	GerminationEnd time.Time `json:"germination_end"`
	NurseryEnd     time.Time `json:"nursery_end"`
	GreenhouseEnd  time.Time `json:"greenhouse_end"`
	HarvestEnd     time.Time `json:"harvest_end"`
}

// ComputePhaseBoundaries derives the phase schedule from a start date.
func ComputePhaseBoundaries(start time.Time) PhaseBoundaries {
	germinationEnd := start.Add(GerminationDuration)
	nurseryEnd := germinationEnd.AddDate(0, 0, NurseryDays)
	greenhouseEnd := nurseryEnd.AddDate(0, 0, GreenhouseDays)
	return PhaseBoundaries{
		GerminationEnd: germinationEnd,
		NurseryEnd:     nurseryEnd,
		GreenhouseEnd:  greenhouseEnd,
		HarvestEnd:     greenhouseEnd.AddDate(0, 0, HarvestDays),
	}
}

// End returns the boundary closing phase. Completed has no end.
func (b PhaseBoundaries) End(phase domain.Phase) (time.Time, bool) {
	switch phase {
	case domain.PhaseGermination:
		return b.GerminationEnd, true
	case domain.PhaseNursery:
		return b.NurseryEnd, true
	case domain.PhaseGreenhouse:
		return b.GreenhouseEnd, true
	case domain.PhaseHarvest:
		return b.HarvestEnd, true
	default:
		return time.Time{}, false
	}
}

// PhaseAt reports which phase the schedule places at instant t. It is a
// planning aid only and never drives a seed's recorded status.
func (b PhaseBoundaries) PhaseAt(t time.Time) domain.Phase {
	switch {
	case t.Before(b.GerminationEnd):
		return domain.PhaseGermination
	case t.Before(b.NurseryEnd):
		return domain.PhaseNursery
	case t.Before(b.GreenhouseEnd):
		return domain.PhaseGreenhouse
	case t.Before(b.HarvestEnd):
		return domain.PhaseHarvest
	default:
		return domain.PhaseCompleted
	}
}
