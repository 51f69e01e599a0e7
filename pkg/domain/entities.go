// Package domain defines the core greenhouse records, value types, and
// rule evaluation primitives used by greenhouse.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySeedType identifies a seed type reference record.
	EntitySeedType EntityType = "seed_type"
	// EntitySubstrate identifies a growing substrate reference record.
	EntitySubstrate EntityType = "substrate"
	// EntityGreenhouse identifies a greenhouse record.
	EntityGreenhouse EntityType = "greenhouse"
	// EntitySeed identifies a planted seed record.
	EntitySeed EntityType = "seed"
	// EntitySupply identifies a supply owned by a greenhouse or seed.
	EntitySupply EntityType = "supply"
)

// Phase is a stage of the seed lifecycle. The string values are part of the
// wire contract and must round-trip unchanged.
type Phase string

// Lifecycle phases in their fixed forward order.
const (
	PhaseGermination Phase = "germination"
	PhaseNursery     Phase = "nursery"
	PhaseGreenhouse  Phase = "greenhouse"
	PhaseHarvest     Phase = "harvest"
	// PhaseCompleted is terminal.
	PhaseCompleted Phase = "completed"
)

// Phases lists every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{PhaseGermination, PhaseNursery, PhaseGreenhouse, PhaseHarvest, PhaseCompleted}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseGermination, PhaseNursery, PhaseGreenhouse, PhaseHarvest, PhaseCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from p.
func (p Phase) Terminal() bool { return p == PhaseCompleted }

// Ordinal returns the position of p in the lifecycle order, or -1 when unknown.
func (p Phase) Ordinal() int {
	for i, candidate := range Phases() {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeedType is reference data describing a cultivar and its ideal conditions.
type SeedType struct {
	Base
	Name                    string  `json:"name"`
	ExpectedGerminationRate float64 `json:"expected_germination_rate"`
	IdealTemperature        float64 `json:"ideal_temperature"`
	IdealHumidity           float64 `json:"ideal_humidity"`
	EstimatedProfit         float64 `json:"estimated_profit"`
}

// Substrate describes a growing medium.
type Substrate struct {
	Base
	Name          string  `json:"name"`
	PH            float64 `json:"ph"`
	OrganicMatter float64 `json:"organic_matter"`
	Moisture      float64 `json:"moisture"`
	Cost          float64 `json:"cost"`
}

// Supply is a consumable owned by a greenhouse or a single seed.
type Supply struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Unit        string  `json:"unit"`
	CostPerUnit float64 `json:"cost_per_unit"`
	Quantity    float64 `json:"quantity"`
}

// Cost returns the supply's contribution to running costs.
func (s Supply) Cost() float64 { return s.CostPerUnit * s.Quantity }

// PhaseFeedback is an environmental reading captured when a phase is exited.
type PhaseFeedback struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Notes       string    `json:"notes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Seed is a single planted seed moving through the lifecycle phases.
type Seed struct {
	Base
	Name               string                    `json:"name"`
	TypeID             string                    `json:"type_id"`
	SubstrateID        string                    `json:"substrate_id"`
	GreenhouseID       string                    `json:"greenhouse_id"`
	StartDate          time.Time                 `json:"start_date"`
	GerminationEndDate time.Time                 `json:"germination_end_date"`
	Status             Phase                     `json:"status"`
	GerminationSuccess float64                   `json:"germination_success"`
	Profit             float64                   `json:"profit"`
	PhaseFeedback      map[Phase][]PhaseFeedback `json:"phase_feedback"`
	Supplies           []Supply                  `json:"supplies"`
}

// Clone returns a deep copy of the seed so callers never share feedback or
// supply backing arrays.
func (s Seed) Clone() Seed {
	cp := s
	cp.PhaseFeedback = make(map[Phase][]PhaseFeedback, len(s.PhaseFeedback))
	for phase, entries := range s.PhaseFeedback {
		cp.PhaseFeedback[phase] = append([]PhaseFeedback(nil), entries...)
	}
	if s.Supplies != nil {
		cp.Supplies = append([]Supply(nil), s.Supplies...)
	}
	return cp
}

// LastFeedback returns the most recent feedback recorded for phase.
func (s Seed) LastFeedback(phase Phase) (PhaseFeedback, bool) {
	entries := s.PhaseFeedback[phase]
	if len(entries) == 0 {
		return PhaseFeedback{}, false
	}
	return entries[len(entries)-1], true
}

// Greenhouse owns seeds (via Seed.GreenhouseID) and supplies.
type Greenhouse struct {
	Base
	Name     string   `json:"name"`
	Capacity int      `json:"capacity"`
	Supplies []Supply `json:"supplies"`
}

// Clone returns a copy of the greenhouse with its own supply slice.
func (g Greenhouse) Clone() Greenhouse {
	cp := g
	if g.Supplies != nil {
		cp.Supplies = append([]Supply(nil), g.Supplies...)
	}
	return cp
}

// SupplyCost sums cost per unit times quantity.
func SupplyCost(supplies []Supply) float64 {
	var total float64
	for _, supply := range supplies {
		total += supply.Cost()
	}
	return total
}

// SortSeeds orders seeds by start date then id so listings are stable.
func SortSeeds(seeds []Seed) {
	sort.Slice(seeds, func(i, j int) bool {
		if !seeds[i].StartDate.Equal(seeds[j].StartDate) {
			return seeds[i].StartDate.Before(seeds[j].StartDate)
		}
		return seeds[i].ID < seeds[j].ID
	})
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
