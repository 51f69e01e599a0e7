// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"greenhouse/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// SeedType aliases domain.SeedType for in-memory persistence operations.
	SeedType = domain.SeedType
	// Substrate aliases domain.Substrate.
	Substrate = domain.Substrate
	// Greenhouse aliases domain.Greenhouse.
	Greenhouse = domain.Greenhouse
	// Seed aliases domain.Seed.
	Seed = domain.Seed
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	seedTypes   map[string]SeedType
	substrates  map[string]Substrate
	greenhouses map[string]Greenhouse
	seeds       map[string]Seed
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	SeedTypes   map[string]SeedType   `json:"seed_types"`
	Substrates  map[string]Substrate  `json:"substrates"`
	Greenhouses map[string]Greenhouse `json:"greenhouses"`
	Seeds       map[string]Seed       `json:"seeds"`
}

func newMemoryState() memoryState {
	return memoryState{
		seedTypes:   make(map[string]SeedType),
		substrates:  make(map[string]Substrate),
		greenhouses: make(map[string]Greenhouse),
		seeds:       make(map[string]Seed),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		SeedTypes:   cloned.seedTypes,
		Substrates:  cloned.substrates,
		Greenhouses: cloned.greenhouses,
		Seeds:       cloned.seeds,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, st := range s.SeedTypes {
		state.seedTypes[id] = st
	}
	for id, sub := range s.Substrates {
		state.substrates[id] = sub
	}
	for id, g := range s.Greenhouses {
		state.greenhouses[id] = g.Clone()
	}
	for id, seed := range s.Seeds {
		seed = seed.Clone()
		// Seeds imported without a status start in germination.
		if seed.Status == "" {
			seed.Status = domain.PhaseGermination
		}
		state.seeds[id] = seed
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.seedTypes {
		cloned.seedTypes[k] = v
	}
	for k, v := range s.substrates {
		cloned.substrates[k] = v
	}
	for k, v := range s.greenhouses {
		cloned.greenhouses[k] = v.Clone()
	}
	for k, v := range s.seeds {
		cloned.seeds[k] = v.Clone()
	}
	return cloned
}

func sortedSeedTypes(in map[string]SeedType) []SeedType {
	out := make([]SeedType, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].Base, out[j].Base) })
	return out
}

func sortedSubstrates(in map[string]Substrate) []Substrate {
	out := make([]Substrate, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].Base, out[j].Base) })
	return out
}

func sortedGreenhouses(in map[string]Greenhouse) []Greenhouse {
	out := make([]Greenhouse, 0, len(in))
	for _, v := range in {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].Base, out[j].Base) })
	return out
}

func sortedSeeds(in map[string]Seed, keep func(Seed) bool) []Seed {
	out := make([]Seed, 0, len(in))
	for _, v := range in {
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, v.Clone())
	}
	domain.SortSeeds(out)
	return out
}

func byCreation(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Store provides an in-memory transactional store for the greenhouse domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListSeedTypes() []SeedType   { return sortedSeedTypes(v.state.seedTypes) }
func (v transactionView) ListSubstrates() []Substrate { return sortedSubstrates(v.state.substrates) }
func (v transactionView) ListGreenhouses() []Greenhouse {
	return sortedGreenhouses(v.state.greenhouses)
}
func (v transactionView) ListSeeds() []Seed { return sortedSeeds(v.state.seeds, nil) }

func (v transactionView) ListGreenhouseSeeds(greenhouseID string) []Seed {
	return sortedSeeds(v.state.seeds, func(seed Seed) bool { return seed.GreenhouseID == greenhouseID })
}

func (v transactionView) FindSeedType(id string) (SeedType, bool) {
	st, ok := v.state.seedTypes[id]
	return st, ok
}

func (v transactionView) FindSubstrate(id string) (Substrate, bool) {
	sub, ok := v.state.substrates[id]
	return sub, ok
}

func (v transactionView) FindGreenhouse(id string) (Greenhouse, bool) {
	g, ok := v.state.greenhouses[id]
	if !ok {
		return Greenhouse{}, false
	}
	return g.Clone(), true
}

func (v transactionView) FindSeed(id string) (Seed, bool) {
	seed, ok := v.state.seeds[id]
	if !ok {
		return Seed{}, false
	}
	return seed.Clone(), true
}

// RunInTransaction executes fn against a cloned state, evaluates rules over
// the recorded changes and commits only when no blocking violation remains.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindSeedType(id string) (SeedType, bool) {
	return tx.Snapshot().FindSeedType(id)
}

func (tx *transaction) FindSubstrate(id string) (Substrate, bool) {
	return tx.Snapshot().FindSubstrate(id)
}

func (tx *transaction) FindGreenhouse(id string) (Greenhouse, bool) {
	return tx.Snapshot().FindGreenhouse(id)
}

func (tx *transaction) FindSeed(id string) (Seed, bool) {
	return tx.Snapshot().FindSeed(id)
}

// CreateSeedType stores a new seed type.
func (tx *transaction) CreateSeedType(st SeedType) (SeedType, error) {
	if st.ID == "" {
		st.ID = tx.store.newID()
	}
	if _, exists := tx.state.seedTypes[st.ID]; exists {
		return SeedType{}, fmt.Errorf("seed type %q already exists", st.ID)
	}
	st.CreatedAt = tx.now
	st.UpdatedAt = tx.now
	tx.state.seedTypes[st.ID] = st
	tx.recordChange(Change{Entity: domain.EntitySeedType, Action: domain.ActionCreate, After: st})
	return st, nil
}

// DeleteSeedType removes a seed type. Seeds referring to it are left in place.
func (tx *transaction) DeleteSeedType(id string) error {
	current, ok := tx.state.seedTypes[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySeedType, ID: id}
	}
	delete(tx.state.seedTypes, id)
	tx.recordChange(Change{Entity: domain.EntitySeedType, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateSubstrate stores a new substrate.
func (tx *transaction) CreateSubstrate(sub Substrate) (Substrate, error) {
	if sub.ID == "" {
		sub.ID = tx.store.newID()
	}
	if _, exists := tx.state.substrates[sub.ID]; exists {
		return Substrate{}, fmt.Errorf("substrate %q already exists", sub.ID)
	}
	sub.CreatedAt = tx.now
	sub.UpdatedAt = tx.now
	tx.state.substrates[sub.ID] = sub
	tx.recordChange(Change{Entity: domain.EntitySubstrate, Action: domain.ActionCreate, After: sub})
	return sub, nil
}

// DeleteSubstrate removes a substrate without touching seeds planted in it.
func (tx *transaction) DeleteSubstrate(id string) error {
	current, ok := tx.state.substrates[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySubstrate, ID: id}
	}
	delete(tx.state.substrates, id)
	tx.recordChange(Change{Entity: domain.EntitySubstrate, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateGreenhouse stores a new greenhouse.
func (tx *transaction) CreateGreenhouse(g Greenhouse) (Greenhouse, error) {
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.greenhouses[g.ID]; exists {
		return Greenhouse{}, fmt.Errorf("greenhouse %q already exists", g.ID)
	}
	if g.Supplies == nil {
		g.Supplies = []domain.Supply{}
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.greenhouses[g.ID] = g.Clone()
	tx.recordChange(Change{Entity: domain.EntityGreenhouse, Action: domain.ActionCreate, After: g.Clone()})
	return g.Clone(), nil
}

// UpdateGreenhouse mutates a greenhouse using the provided mutator function.
func (tx *transaction) UpdateGreenhouse(id string, mutator func(*Greenhouse) error) (Greenhouse, error) {
	current, ok := tx.state.greenhouses[id]
	if !ok {
		return Greenhouse{}, domain.ErrNotFound{Entity: domain.EntityGreenhouse, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Greenhouse{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.greenhouses[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityGreenhouse, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteGreenhouse removes a greenhouse and discards the seeds it owns.
func (tx *transaction) DeleteGreenhouse(id string) error {
	current, ok := tx.state.greenhouses[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityGreenhouse, ID: id}
	}
	for seedID, seed := range tx.state.seeds {
		if seed.GreenhouseID != id {
			continue
		}
		delete(tx.state.seeds, seedID)
		tx.recordChange(Change{Entity: domain.EntitySeed, Action: domain.ActionDelete, Before: seed})
	}
	delete(tx.state.greenhouses, id)
	tx.recordChange(Change{Entity: domain.EntityGreenhouse, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateSeed stores a new seed inside an existing greenhouse.
func (tx *transaction) CreateSeed(seed Seed) (Seed, error) {
	if seed.ID == "" {
		seed.ID = tx.store.newID()
	}
	if _, exists := tx.state.seeds[seed.ID]; exists {
		return Seed{}, fmt.Errorf("seed %q already exists", seed.ID)
	}
	if _, ok := tx.state.greenhouses[seed.GreenhouseID]; !ok {
		return Seed{}, domain.ErrNotFound{Entity: domain.EntityGreenhouse, ID: seed.GreenhouseID}
	}
	if seed.Status == "" {
		seed.Status = domain.PhaseGermination
	}
	seed = seed.Clone()
	seed.CreatedAt = tx.now
	seed.UpdatedAt = tx.now
	tx.state.seeds[seed.ID] = seed
	tx.recordChange(Change{Entity: domain.EntitySeed, Action: domain.ActionCreate, After: seed.Clone()})
	return seed.Clone(), nil
}

// UpdateSeed mutates a seed using the provided mutator function. Replacing
// the whole value inside the mutator is the replace-by-id path.
func (tx *transaction) UpdateSeed(id string, mutator func(*Seed) error) (Seed, error) {
	current, ok := tx.state.seeds[id]
	if !ok {
		return Seed{}, domain.ErrNotFound{Entity: domain.EntitySeed, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Seed{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current = current.Clone()
	tx.state.seeds[id] = current
	tx.recordChange(Change{Entity: domain.EntitySeed, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteSeed removes a seed from the transaction state.
func (tx *transaction) DeleteSeed(id string) error {
	current, ok := tx.state.seeds[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySeed, ID: id}
	}
	delete(tx.state.seeds, id)
	tx.recordChange(Change{Entity: domain.EntitySeed, Action: domain.ActionDelete, Before: current})
	return nil
}

// GetSeedType retrieves a seed type by ID.
func (s *Store) GetSeedType(id string) (SeedType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.seedTypes[id]
	return st, ok
}

// ListSeedTypes returns all seed types from committed state.
func (s *Store) ListSeedTypes() []SeedType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedSeedTypes(s.state.seedTypes)
}

// GetSubstrate retrieves a substrate by ID.
func (s *Store) GetSubstrate(id string) (Substrate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.state.substrates[id]
	return sub, ok
}

// ListSubstrates returns all substrates from committed state.
func (s *Store) ListSubstrates() []Substrate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedSubstrates(s.state.substrates)
}

// GetGreenhouse retrieves a greenhouse by ID.
func (s *Store) GetGreenhouse(id string) (Greenhouse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.greenhouses[id]
	if !ok {
		return Greenhouse{}, false
	}
	return g.Clone(), true
}

// ListGreenhouses returns all greenhouses from committed state.
func (s *Store) ListGreenhouses() []Greenhouse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedGreenhouses(s.state.greenhouses)
}

// GetSeed retrieves a seed by ID.
func (s *Store) GetSeed(id string) (Seed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seed, ok := s.state.seeds[id]
	if !ok {
		return Seed{}, false
	}
	return seed.Clone(), true
}

// ListSeeds returns all seeds from committed state.
func (s *Store) ListSeeds() []Seed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedSeeds(s.state.seeds, nil)
}
