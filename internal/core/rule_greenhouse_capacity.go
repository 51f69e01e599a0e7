package core

import (
	"context"
	"fmt"

	"greenhouse/pkg/domain"
)

// NewGreenhouseCapacityRule returns the in-transaction rule that blocks seed
// creation beyond a greenhouse's capacity. Greenhouses that were already over
// capacity are not re-checked unless seeds are added to them.
func NewGreenhouseCapacityRule() domain.Rule {
	return greenhouseCapacityRule{}
}

type greenhouseCapacityRule struct{}

func (greenhouseCapacityRule) Name() string { return "greenhouse_capacity" }

func (greenhouseCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntitySeed || change.Action != domain.ActionCreate {
			continue
		}
		if seed, ok := change.After.(domain.Seed); ok {
			touched[seed.GreenhouseID] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return domain.Result{}, nil
	}

	occupancy := make(map[string]int)
	for _, seed := range view.ListSeeds() {
		occupancy[seed.GreenhouseID]++
	}

	res := domain.Result{}
	for id := range touched {
		greenhouse, ok := view.FindGreenhouse(id)
		if !ok {
			continue
		}
		if count := occupancy[id]; count > greenhouse.Capacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "greenhouse_capacity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("greenhouse %s (%s) over capacity: %d/%d seeds", greenhouse.Name, greenhouse.ID, count, greenhouse.Capacity),
				Entity:   domain.EntityGreenhouse,
				EntityID: greenhouse.ID,
			})
		}
	}
	return res, nil
}
