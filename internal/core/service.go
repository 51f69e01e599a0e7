package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"greenhouse/internal/infra/persistence/memory"
	"greenhouse/internal/lifecycle"
	"greenhouse/pkg/domain"
)

// DefaultGreenhouseCapacity applies when a greenhouse is created without a positive capacity.
const DefaultGreenhouseCapacity = 100

// Service exposes transactional greenhouse operations on top of a PersistentStore.
type Service struct {
	store           PersistentStore
	clock           Clock
	logger          Logger
	metrics         MetricsRecorder
	phases          PhaseRecorder
	tracer          Tracer
	audit           AuditRecorder
	defaultCapacity int
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock           Clock
	logger          Logger
	metrics         MetricsRecorder
	phases          PhaseRecorder
	tracer          Tracer
	audit           AuditRecorder
	defaultCapacity int
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:           systemClock{},
		logger:          noopLogger{},
		metrics:         noopMetrics{},
		phases:          noopPhaseRecorder{},
		tracer:          noopTracer{},
		audit:           noopAudit{},
		defaultCapacity: DefaultGreenhouseCapacity,
	}
}

// WithClock overrides the time source used for feedback timestamps and default start dates.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithPhaseRecorder sets the sink notified about committed phase advances.
func WithPhaseRecorder(phases PhaseRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if phases != nil {
			o.phases = phases
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithDefaultCapacity changes the capacity given to greenhouses created without one.
func WithDefaultCapacity(capacity int) ServiceOption {
	return func(o *serviceOptions) {
		if capacity > 0 {
			o.defaultCapacity = capacity
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Service{
		store:           store,
		clock:           cfg.clock,
		logger:          cfg.logger,
		metrics:         cfg.metrics,
		phases:          cfg.phases,
		tracer:          cfg.tracer,
		audit:           cfg.audit,
		defaultCapacity: cfg.defaultCapacity,
	}
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine. A nil engine gets the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, Result, error)) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, res, err := fn(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	entry := AuditEntry{
		Operation:  op,
		Status:     AuditStatusSuccess,
		EntityID:   entityID,
		Duration:   elapsed,
		OccurredAt: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", elapsed)
	}
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", "rule", v.Rule, "severity", string(v.Severity), "entity_id", v.EntityID, "message", v.Message)
		}
	}
	s.audit.Record(ctx, entry)
	return res, err
}

func (s *Service) transact(ctx context.Context, op string, entityID func() string, fn func(Transaction) error) (Result, error) {
	return s.run(ctx, op, func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, fn)
		return entityID(), res, err
	})
}

func fixedID(id string) func() string { return func() string { return id } }

// CreateSeedType validates and persists a seed type.
func (s *Service) CreateSeedType(ctx context.Context, seedType domain.SeedType) (domain.SeedType, Result, error) {
	var created domain.SeedType
	res, err := s.transact(ctx, "create_seed_type", func() string { return created.ID }, func(tx Transaction) error {
		if err := validateSeedType(seedType); err != nil {
			return err
		}
		var err error
		created, err = tx.CreateSeedType(seedType)
		return err
	})
	return created, res, err
}

// DeleteSeedType removes a seed type. Seeds referring to it are left dangling.
func (s *Service) DeleteSeedType(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_seed_type", fixedID(id), func(tx Transaction) error {
		return tx.DeleteSeedType(id)
	})
}

// CreateSubstrate validates and persists a substrate.
func (s *Service) CreateSubstrate(ctx context.Context, substrate domain.Substrate) (domain.Substrate, Result, error) {
	var created domain.Substrate
	res, err := s.transact(ctx, "create_substrate", func() string { return created.ID }, func(tx Transaction) error {
		if err := validateSubstrate(substrate); err != nil {
			return err
		}
		var err error
		created, err = tx.CreateSubstrate(substrate)
		return err
	})
	return created, res, err
}

// DeleteSubstrate removes a substrate without touching seeds.
func (s *Service) DeleteSubstrate(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_substrate", fixedID(id), func(tx Transaction) error {
		return tx.DeleteSubstrate(id)
	})
}

// CreateGreenhouse persists a greenhouse. An empty name becomes "Greenhouse N"
// and a non-positive capacity falls back to the configured default.
func (s *Service) CreateGreenhouse(ctx context.Context, greenhouse domain.Greenhouse) (domain.Greenhouse, Result, error) {
	var created domain.Greenhouse
	res, err := s.transact(ctx, "create_greenhouse", func() string { return created.ID }, func(tx Transaction) error {
		greenhouse.Name = strings.TrimSpace(greenhouse.Name)
		if greenhouse.Name == "" {
			greenhouse.Name = fmt.Sprintf("Greenhouse %d", len(tx.Snapshot().ListGreenhouses())+1)
		}
		if greenhouse.Capacity <= 0 {
			greenhouse.Capacity = s.defaultCapacity
		}
		for i := range greenhouse.Supplies {
			supply, err := normalizeSupply(greenhouse.Supplies[i])
			if err != nil {
				return err
			}
			greenhouse.Supplies[i] = supply
		}
		var err error
		created, err = tx.CreateGreenhouse(greenhouse)
		return err
	})
	return created, res, err
}

// DeleteGreenhouse removes a greenhouse together with its seeds and supplies.
func (s *Service) DeleteGreenhouse(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_greenhouse", fixedID(id), func(tx Transaction) error {
		return tx.DeleteGreenhouse(id)
	})
}

// AddGreenhouseSupply attaches a supply to a greenhouse.
func (s *Service) AddGreenhouseSupply(ctx context.Context, greenhouseID string, supply domain.Supply) (domain.Supply, Result, error) {
	var added domain.Supply
	res, err := s.transact(ctx, "add_greenhouse_supply", fixedID(greenhouseID), func(tx Transaction) error {
		normalized, err := normalizeSupply(supply)
		if err != nil {
			return err
		}
		_, err = tx.UpdateGreenhouse(greenhouseID, func(g *domain.Greenhouse) error {
			g.Supplies = append(g.Supplies, normalized)
			return nil
		})
		added = normalized
		return err
	})
	return added, res, err
}

// RemoveGreenhouseSupply detaches a supply from a greenhouse.
func (s *Service) RemoveGreenhouseSupply(ctx context.Context, greenhouseID, supplyID string) (Result, error) {
	return s.transact(ctx, "remove_greenhouse_supply", fixedID(greenhouseID), func(tx Transaction) error {
		_, err := tx.UpdateGreenhouse(greenhouseID, func(g *domain.Greenhouse) error {
			remaining, ok := removeSupply(g.Supplies, supplyID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntitySupply, ID: supplyID}
			}
			g.Supplies = remaining
			return nil
		})
		return err
	})
}

// PlantRequest describes a batch of seeds to plant in one greenhouse.
type PlantRequest struct {
	GreenhouseID string
	SeedTypeID   string
	SubstrateID  string
	Quantity     int
	// StartDate defaults to the service clock when zero.
	StartDate time.Time
}

// PlantSeeds creates Quantity seeds in a greenhouse. The batch is rejected as a
// whole when it does not fit the remaining capacity.
func (s *Service) PlantSeeds(ctx context.Context, req PlantRequest) ([]domain.Seed, Result, error) {
	var planted []domain.Seed
	res, err := s.transact(ctx, "plant_seeds", fixedID(req.GreenhouseID), func(tx Transaction) error {
		planted = nil
		if req.Quantity < 1 {
			return domain.ErrInvalidQuantity
		}
		greenhouse, ok := tx.FindGreenhouse(req.GreenhouseID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityGreenhouse, ID: req.GreenhouseID}
		}
		seedType, ok := tx.FindSeedType(req.SeedTypeID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntitySeedType, ID: req.SeedTypeID}
		}
		substrate, ok := tx.FindSubstrate(req.SubstrateID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntitySubstrate, ID: req.SubstrateID}
		}
		current := len(tx.Snapshot().ListGreenhouseSeeds(greenhouse.ID))
		if req.Quantity > greenhouse.Capacity-current {
			return domain.CapacityExceededError{
				GreenhouseID: greenhouse.ID,
				Capacity:     greenhouse.Capacity,
				Current:      current,
				Requested:    req.Quantity,
			}
		}
		start := req.StartDate
		if start.IsZero() {
			start = s.clock.Now()
		}
		seeds, err := lifecycle.CreateSeeds(seedType, substrate, req.Quantity, start, greenhouse.ID)
		if err != nil {
			return err
		}
		for _, seed := range seeds {
			created, err := tx.CreateSeed(seed)
			if err != nil {
				return fmt.Errorf("plant seed: %w", err)
			}
			planted = append(planted, created)
		}
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	return planted, res, nil
}

// FeedbackRequest carries readings for a phase advance. Nil readings fall back
// to the seed type's ideal values, or zero when the type no longer exists.
type FeedbackRequest struct {
	Temperature *float64
	Humidity    *float64
	Notes       string
}

// AdvanceSeed records feedback for the seed's current phase and moves it to
// the next one. A missing seed type does not fail the advance; it is reported
// through Advance.Dangling.
func (s *Service) AdvanceSeed(ctx context.Context, seedID string, req FeedbackRequest) (lifecycle.Advance, Result, error) {
	var outcome lifecycle.Advance
	res, err := s.transact(ctx, "advance_seed", fixedID(seedID), func(tx Transaction) error {
		seed, ok := tx.FindSeed(seedID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntitySeed, ID: seedID}
		}
		var seedType *domain.SeedType
		if st, ok := tx.FindSeedType(seed.TypeID); ok {
			seedType = &st
		}
		adv, err := lifecycle.AdvancePhase(seed, seedType, feedbackInput(req, seedType), s.clock.Now())
		if err != nil {
			return err
		}
		updated, err := tx.UpdateSeed(seedID, func(current *domain.Seed) error {
			*current = adv.Seed
			return nil
		})
		if err != nil {
			return err
		}
		adv.Seed = updated
		outcome = adv
		return nil
	})
	if err != nil {
		return lifecycle.Advance{}, res, err
	}
	s.phases.PhaseAdvanced(ctx, string(outcome.From), string(outcome.To))
	if outcome.Dangling != nil {
		s.logger.Warn("seed advanced without scoring", "seed_id", seedID, "error", outcome.Dangling)
	}
	return outcome, res, nil
}

func feedbackInput(req FeedbackRequest, seedType *domain.SeedType) lifecycle.FeedbackInput {
	input := lifecycle.FeedbackInput{Notes: req.Notes}
	if seedType != nil {
		input.Temperature = seedType.IdealTemperature
		input.Humidity = seedType.IdealHumidity
	}
	if req.Temperature != nil {
		input.Temperature = *req.Temperature
	}
	if req.Humidity != nil {
		input.Humidity = *req.Humidity
	}
	return input
}

// AddSeedSupply attaches a supply to a single seed.
func (s *Service) AddSeedSupply(ctx context.Context, seedID string, supply domain.Supply) (domain.Supply, Result, error) {
	var added domain.Supply
	res, err := s.transact(ctx, "add_seed_supply", fixedID(seedID), func(tx Transaction) error {
		normalized, err := normalizeSupply(supply)
		if err != nil {
			return err
		}
		_, err = tx.UpdateSeed(seedID, func(seed *domain.Seed) error {
			seed.Supplies = append(seed.Supplies, normalized)
			return nil
		})
		added = normalized
		return err
	})
	return added, res, err
}

// RemoveSeedSupply detaches a supply from a seed.
func (s *Service) RemoveSeedSupply(ctx context.Context, seedID, supplyID string) (Result, error) {
	return s.transact(ctx, "remove_seed_supply", fixedID(seedID), func(tx Transaction) error {
		_, err := tx.UpdateSeed(seedID, func(seed *domain.Seed) error {
			remaining, ok := removeSupply(seed.Supplies, supplyID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntitySupply, ID: supplyID}
			}
			seed.Supplies = remaining
			return nil
		})
		return err
	})
}

// DeleteSeed removes a single seed.
func (s *Service) DeleteSeed(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_seed", fixedID(id), func(tx Transaction) error {
		return tx.DeleteSeed(id)
	})
}

// ListSeedTypes returns all seed types.
func (s *Service) ListSeedTypes() []domain.SeedType { return s.store.ListSeedTypes() }

// ListSubstrates returns all substrates.
func (s *Service) ListSubstrates() []domain.Substrate { return s.store.ListSubstrates() }

// ListGreenhouses returns all greenhouses.
func (s *Service) ListGreenhouses() []domain.Greenhouse { return s.store.ListGreenhouses() }

// GreenhouseSummary is a greenhouse with its seeds and running cost figures.
type GreenhouseSummary struct {
	Greenhouse        domain.Greenhouse `json:"greenhouse"`
	Seeds             []domain.Seed     `json:"seeds"`
	SeedCount         int               `json:"seed_count"`
	RemainingCapacity int               `json:"remaining_capacity"`
	SupplyCost        float64           `json:"supply_cost"`
	SeedSupplyCost    float64           `json:"seed_supply_cost"`
	TotalProfit       float64           `json:"total_profit"`
}

func summarizeGreenhouse(greenhouse domain.Greenhouse, seeds []domain.Seed) GreenhouseSummary {
	summary := GreenhouseSummary{
		Greenhouse: greenhouse,
		Seeds:      seeds,
		SeedCount:  len(seeds),
		SupplyCost: domain.SupplyCost(greenhouse.Supplies),
	}
	if summary.Seeds == nil {
		summary.Seeds = []domain.Seed{}
	}
	if remaining := greenhouse.Capacity - len(seeds); remaining > 0 {
		summary.RemainingCapacity = remaining
	}
	for _, seed := range seeds {
		summary.SeedSupplyCost += domain.SupplyCost(seed.Supplies)
		summary.TotalProfit += seed.Profit
	}
	return summary
}

// GetGreenhouse returns the greenhouse summary for id.
func (s *Service) GetGreenhouse(ctx context.Context, id string) (GreenhouseSummary, error) {
	var summary GreenhouseSummary
	err := s.store.View(ctx, func(view TransactionView) error {
		greenhouse, ok := view.FindGreenhouse(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityGreenhouse, ID: id}
		}
		summary = summarizeGreenhouse(greenhouse, view.ListGreenhouseSeeds(id))
		return nil
	})
	return summary, err
}

// ListGreenhouseSummaries returns a summary per greenhouse.
func (s *Service) ListGreenhouseSummaries(ctx context.Context) ([]GreenhouseSummary, error) {
	var out []GreenhouseSummary
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, greenhouse := range view.ListGreenhouses() {
			out = append(out, summarizeGreenhouse(greenhouse, view.ListGreenhouseSeeds(greenhouse.ID)))
		}
		return nil
	})
	return out, err
}

// SeedDetail is a seed together with its schedule and derived guidance.
type SeedDetail struct {
	Seed              domain.Seed               `json:"seed"`
	SeedTypeName      string                    `json:"seed_type_name,omitempty"`
	SubstrateName     string                    `json:"substrate_name,omitempty"`
	Schedule          lifecycle.PhaseBoundaries `json:"schedule"`
	ScheduledPhase    domain.Phase              `json:"scheduled_phase"`
	TargetTemperature *float64                  `json:"target_temperature,omitempty"`
	LastFeedback      *domain.PhaseFeedback     `json:"last_feedback,omitempty"`
	SupplyCost        float64                   `json:"supply_cost"`
	Dangling          []string                  `json:"dangling,omitempty"`
}

// GetSeed returns the detail view for one seed.
func (s *Service) GetSeed(ctx context.Context, id string) (SeedDetail, error) {
	var detail SeedDetail
	now := s.clock.Now()
	err := s.store.View(ctx, func(view TransactionView) error {
		seed, ok := view.FindSeed(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntitySeed, ID: id}
		}
		detail = SeedDetail{
			Seed:       seed,
			Schedule:   lifecycle.ComputePhaseBoundaries(seed.StartDate),
			SupplyCost: domain.SupplyCost(seed.Supplies),
		}
		detail.ScheduledPhase = detail.Schedule.PhaseAt(now)

		var seedType *domain.SeedType
		if st, ok := view.FindSeedType(seed.TypeID); ok {
			seedType = &st
			detail.SeedTypeName = st.Name
		} else {
			detail.Dangling = append(detail.Dangling, domain.DanglingReferenceError{Entity: domain.EntitySeedType, ID: seed.TypeID}.Error())
		}
		if sub, ok := view.FindSubstrate(seed.SubstrateID); ok {
			detail.SubstrateName = sub.Name
		} else {
			detail.Dangling = append(detail.Dangling, domain.DanglingReferenceError{Entity: domain.EntitySubstrate, ID: seed.SubstrateID}.Error())
		}
		if target, ok := lifecycle.TargetTemperature(seed.Status, seedType); ok {
			detail.TargetTemperature = &target
		}
		if fb, ok := LatestFeedback(seed); ok {
			detail.LastFeedback = &fb
		}
		return nil
	})
	return detail, err
}

// LatestFeedback returns the newest entry of the most recently exited phase.
// Feedback is recorded on exit, so the current phase never has any yet.
func LatestFeedback(seed domain.Seed) (domain.PhaseFeedback, bool) {
	phases := domain.Phases()
	for i := seed.Status.Ordinal() - 1; i >= 0; i-- {
		if fb, ok := seed.LastFeedback(phases[i]); ok {
			return fb, true
		}
	}
	return domain.PhaseFeedback{}, false
}

// Analytics aggregates seeds by name along with overall totals.
func (s *Service) Analytics(ctx context.Context) (AnalyticsReport, error) {
	var report AnalyticsReport
	err := s.store.View(ctx, func(view TransactionView) error {
		report = BuildAnalytics(view.ListGreenhouses(), view.ListSeeds(), s.clock.Now())
		return nil
	})
	return report, err
}

func validateSeedType(st domain.SeedType) error {
	if strings.TrimSpace(st.Name) == "" {
		return domain.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !inRange(st.ExpectedGerminationRate, 0, 100) {
		return domain.ValidationError{Field: "expected_germination_rate", Message: "must be between 0 and 100"}
	}
	if !inRange(st.IdealHumidity, 0, 100) {
		return domain.ValidationError{Field: "ideal_humidity", Message: "must be between 0 and 100"}
	}
	if !finite(st.IdealTemperature) {
		return domain.ValidationError{Field: "ideal_temperature", Message: "must be a finite number"}
	}
	if !finite(st.EstimatedProfit) || st.EstimatedProfit < 0 {
		return domain.ValidationError{Field: "estimated_profit", Message: "must not be negative"}
	}
	return nil
}

func validateSubstrate(sub domain.Substrate) error {
	if strings.TrimSpace(sub.Name) == "" {
		return domain.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !inRange(sub.PH, 0, 14) {
		return domain.ValidationError{Field: "ph", Message: "must be between 0 and 14"}
	}
	if !inRange(sub.OrganicMatter, 0, 100) {
		return domain.ValidationError{Field: "organic_matter", Message: "must be between 0 and 100"}
	}
	if !inRange(sub.Moisture, 0, 100) {
		return domain.ValidationError{Field: "moisture", Message: "must be between 0 and 100"}
	}
	if !finite(sub.Cost) || sub.Cost < 0 {
		return domain.ValidationError{Field: "cost", Message: "must not be negative"}
	}
	return nil
}

func normalizeSupply(supply domain.Supply) (domain.Supply, error) {
	supply.Name = strings.TrimSpace(supply.Name)
	if supply.Name == "" {
		return domain.Supply{}, domain.ValidationError{Field: "supply.name", Message: "must not be empty"}
	}
	if !finite(supply.Quantity) || supply.Quantity < 0 {
		return domain.Supply{}, domain.ValidationError{Field: "supply.quantity", Message: "must not be negative"}
	}
	if !finite(supply.CostPerUnit) || supply.CostPerUnit < 0 {
		return domain.Supply{}, domain.ValidationError{Field: "supply.cost_per_unit", Message: "must not be negative"}
	}
	if supply.ID == "" {
		supply.ID = uuid.NewString()
	}
	return supply, nil
}

func removeSupply(supplies []domain.Supply, id string) ([]domain.Supply, bool) {
	for i, supply := range supplies {
		if supply.ID == id {
			out := make([]domain.Supply, 0, len(supplies)-1)
			out = append(out, supplies[:i]...)
			return append(out, supplies[i+1:]...), true
		}
	}
	return supplies, false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func inRange(v, lo, hi float64) bool { return finite(v) && v >= lo && v <= hi }
