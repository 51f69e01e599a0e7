package core

import (
	"context"
	"fmt"

	"greenhouse/internal/lifecycle"
	"greenhouse/pkg/domain"
)

// PhaseTransitionRule blocks seed updates that skip, regress, or leave the
// terminal phase, and feedback edits outside the phase being exited.
func PhaseTransitionRule() domain.Rule {
	return phaseTransitionRule{}
}

type phaseTransitionRule struct{}

const phaseTransitionRuleName = "phase_transition"

func (phaseTransitionRule) Name() string { return phaseTransitionRuleName }

func (phaseTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySeed {
			continue
		}
		after, ok := change.After.(domain.Seed)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, phaseViolation(after.ID, fmt.Sprintf("seed %s is set to invalid phase %q", after.ID, after.Status)))
			continue
		}
		before, ok := change.Before.(domain.Seed)
		if !ok || change.Action != domain.ActionUpdate {
			continue
		}
		if msg, bad := checkTransition(before, after); bad {
			res.Violations = append(res.Violations, phaseViolation(after.ID, msg))
		}
	}
	return res, nil
}

func checkTransition(before, after domain.Seed) (string, bool) {
	if before.Status == after.Status {
		for _, phase := range domain.Phases() {
			if len(after.PhaseFeedback[phase]) != len(before.PhaseFeedback[phase]) {
				return fmt.Sprintf("seed %s feedback for %s changed without a phase advance", after.ID, phase), true
			}
		}
		return "", false
	}
	if before.Status.Terminal() {
		return fmt.Sprintf("cannot move seed %s from terminal phase %s to %s", after.ID, before.Status, after.Status), true
	}
	next, _ := lifecycle.NextPhase(before.Status)
	if after.Status != next {
		return fmt.Sprintf("seed %s cannot move from %s to %s", after.ID, before.Status, after.Status), true
	}
	for _, phase := range domain.Phases() {
		prev, cur := len(before.PhaseFeedback[phase]), len(after.PhaseFeedback[phase])
		if phase == before.Status {
			if cur != prev+1 {
				return fmt.Sprintf("seed %s must record exactly one %s feedback entry when advancing", after.ID, phase), true
			}
			continue
		}
		if cur != prev {
			return fmt.Sprintf("seed %s feedback for %s changed while exiting %s", after.ID, phase, before.Status), true
		}
	}
	return "", false
}

func phaseViolation(seedID, msg string) domain.Violation {
	return domain.Violation{
		Rule:     phaseTransitionRuleName,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntitySeed,
		EntityID: seedID,
	}
}
