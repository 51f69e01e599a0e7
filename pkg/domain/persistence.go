package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateSeedType(SeedType) (SeedType, error)
	DeleteSeedType(id string) error
	CreateSubstrate(Substrate) (Substrate, error)
	DeleteSubstrate(id string) error
	CreateGreenhouse(Greenhouse) (Greenhouse, error)
	UpdateGreenhouse(id string, mutator func(*Greenhouse) error) (Greenhouse, error)
	// DeleteGreenhouse removes the greenhouse together with every seed it owns.
	DeleteGreenhouse(id string) error
	CreateSeed(Seed) (Seed, error)
	UpdateSeed(id string, mutator func(*Seed) error) (Seed, error)
	DeleteSeed(id string) error
	FindSeedType(id string) (SeedType, bool)
	FindSubstrate(id string) (Substrate, bool)
	FindGreenhouse(id string) (Greenhouse, bool)
	FindSeed(id string) (Seed, bool)
}

// TransactionView provides read-only access to snapshot data for rules and queries.
type TransactionView interface {
	RuleView
	ListGreenhouseSeeds(greenhouseID string) []Seed
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetSeedType(id string) (SeedType, bool)
	ListSeedTypes() []SeedType
	GetSubstrate(id string) (Substrate, bool)
	ListSubstrates() []Substrate
	GetGreenhouse(id string) (Greenhouse, bool)
	ListGreenhouses() []Greenhouse
	GetSeed(id string) (Seed, bool)
	ListSeeds() []Seed
}
