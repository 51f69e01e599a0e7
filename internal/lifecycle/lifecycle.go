package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"greenhouse/pkg/domain"
)

// NewID generates seed identifiers. Tests may swap it for a deterministic source.
var NewID = uuid.NewString

// NextPhase returns the phase that follows p. ok is false for completed and
// for values outside the lifecycle.
func NextPhase(p domain.Phase) (next domain.Phase, ok bool) {
	switch p {
	case domain.PhaseGermination:
		return domain.PhaseNursery, true
	case domain.PhaseNursery:
		return domain.PhaseGreenhouse, true
	case domain.PhaseGreenhouse:
		return domain.PhaseHarvest, true
	case domain.PhaseHarvest:
		return domain.PhaseCompleted, true
	default:
		return "", false
	}
}

// FeedbackInput carries the readings submitted when leaving a phase.
type FeedbackInput struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Notes       string  `json:"notes,omitempty"`
}

// Advance describes the result of a successful phase advance.
type Advance struct {
	Seed domain.Seed
	From domain.Phase
	To   domain.Phase
	// Evaluation is set only when germination was exited and the seed type resolved.
	Evaluation *Evaluation
	// Dangling is set when the seed type could not be resolved while scoring
	// was due. The advance still succeeds.
	Dangling error
}

// AdvancePhase records feedback for the current phase and moves the seed to
// the next one. The input seed is never modified; a completed seed yields an
// InvalidTransitionError and is returned as-is.
func AdvancePhase(seed domain.Seed, seedType *domain.SeedType, input FeedbackInput, now time.Time) (Advance, error) {
	from := seed.Status
	to, ok := NextPhase(from)
	if !ok {
		return Advance{Seed: seed, From: from, To: from}, domain.InvalidTransitionError{SeedID: seed.ID, From: from}
	}

	next := seed.Clone()
	entry := domain.PhaseFeedback{
		Temperature: SanitizeReading(input.Temperature),
		Humidity:    SanitizeReading(input.Humidity),
		Notes:       input.Notes,
		Timestamp:   now,
	}
	next.PhaseFeedback[from] = append(next.PhaseFeedback[from], entry)

	out := Advance{From: from, To: to}
	if from == domain.PhaseGermination {
		if seedType == nil {
			out.Dangling = domain.DanglingReferenceError{Entity: domain.EntitySeedType, ID: seed.TypeID}
		} else {
			eval := EvaluateGermination(*seedType, entry.Temperature, entry.Humidity)
			next.GerminationSuccess = eval.SuccessRate
			next.Profit = eval.Profit
			out.Evaluation = &eval
		}
	}
	next.Status = to
	out.Seed = next
	return out, nil
}

// CreateSeeds plants quantity fresh seeds of the given type and substrate.
// Capacity is a greenhouse invariant and is checked by the caller.
func CreateSeeds(seedType domain.SeedType, substrate domain.Substrate, quantity int, start time.Time, greenhouseID string) ([]domain.Seed, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	germinationEnd := ComputePhaseBoundaries(start).GerminationEnd
	seeds := make([]domain.Seed, 0, quantity)
	for i := 0; i < quantity; i++ {
		seeds = append(seeds, domain.Seed{
			Base:               domain.Base{ID: NewID()},
			Name:               seedType.Name,
			TypeID:             seedType.ID,
			SubstrateID:        substrate.ID,
			GreenhouseID:       greenhouseID,
			StartDate:          start,
			GerminationEndDate: germinationEnd,
			Status:             domain.PhaseGermination,
			PhaseFeedback:      map[domain.Phase][]domain.PhaseFeedback{},
		})
	}
	return seeds, nil
}
