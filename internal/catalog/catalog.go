// Package catalog loads seed type and substrate reference data from YAML and
// imports it into the service at startup.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"greenhouse/internal/core"
	"greenhouse/pkg/domain"
)

// SeedType is the YAML shape of a seed type entry.
type SeedType struct {
	Name                    string  `yaml:"name"`
	ExpectedGerminationRate float64 `yaml:"expected_germination_rate"`
	IdealTemperature        float64 `yaml:"ideal_temperature"`
	IdealHumidity           float64 `yaml:"ideal_humidity"`
	EstimatedProfit         float64 `yaml:"estimated_profit"`
}

// Substrate is the YAML shape of a substrate entry.
type Substrate struct {
	Name          string  `yaml:"name"`
	PH            float64 `yaml:"ph"`
	OrganicMatter float64 `yaml:"organic_matter"`
	Moisture      float64 `yaml:"moisture"`
	Cost          float64 `yaml:"cost"`
}

// Catalog is a parsed catalog file.
type Catalog struct {
	SeedTypes  []SeedType  `yaml:"seed_types"`
	Substrates []Substrate `yaml:"substrates"`
}

// Parse decodes catalog YAML. Names must be unique per section.
func Parse(data []byte) (Catalog, error) {
	var cat Catalog
	if len(bytes.TrimSpace(data)) == 0 {
		return cat, nil
	}
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	seen := make(map[string]bool)
	for _, st := range cat.SeedTypes {
		key := "seed_type:" + strings.ToLower(strings.TrimSpace(st.Name))
		if seen[key] {
			return Catalog{}, fmt.Errorf("catalog: duplicate seed type %q", st.Name)
		}
		seen[key] = true
	}
	for _, sub := range cat.Substrates {
		key := "substrate:" + strings.ToLower(strings.TrimSpace(sub.Name))
		if seen[key] {
			return Catalog{}, fmt.Errorf("catalog: duplicate substrate %q", sub.Name)
		}
		seen[key] = true
	}
	return cat, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Importer is the service surface the catalog writes to.
type Importer interface {
	ListSeedTypes() []domain.SeedType
	ListSubstrates() []domain.Substrate
	CreateSeedType(ctx context.Context, seedType domain.SeedType) (domain.SeedType, core.Result, error)
	CreateSubstrate(ctx context.Context, substrate domain.Substrate) (domain.Substrate, core.Result, error)
}

// Summary counts what Import created and skipped.
type Summary struct {
	SeedTypesCreated  int
	SubstratesCreated int
	Skipped           int
}

// Import creates catalog entries whose names are not yet present, so running
// it against a persistent store on every start is safe.
func Import(ctx context.Context, svc Importer, cat Catalog) (Summary, error) {
	var summary Summary

	existingTypes := make(map[string]bool)
	for _, st := range svc.ListSeedTypes() {
		existingTypes[strings.ToLower(st.Name)] = true
	}
	for _, entry := range cat.SeedTypes {
		name := strings.TrimSpace(entry.Name)
		if existingTypes[strings.ToLower(name)] {
			summary.Skipped++
			continue
		}
		_, _, err := svc.CreateSeedType(ctx, domain.SeedType{
			Name:                    name,
			ExpectedGerminationRate: entry.ExpectedGerminationRate,
			IdealTemperature:        entry.IdealTemperature,
			IdealHumidity:           entry.IdealHumidity,
			EstimatedProfit:         entry.EstimatedProfit,
		})
		if err != nil {
			return summary, fmt.Errorf("catalog: seed type %q: %w", name, err)
		}
		summary.SeedTypesCreated++
	}

	existingSubstrates := make(map[string]bool)
	for _, sub := range svc.ListSubstrates() {
		existingSubstrates[strings.ToLower(sub.Name)] = true
	}
	for _, entry := range cat.Substrates {
		name := strings.TrimSpace(entry.Name)
		if existingSubstrates[strings.ToLower(name)] {
			summary.Skipped++
			continue
		}
		_, _, err := svc.CreateSubstrate(ctx, domain.Substrate{
			Name:          name,
			PH:            entry.PH,
			OrganicMatter: entry.OrganicMatter,
			Moisture:      entry.Moisture,
			Cost:          entry.Cost,
		})
		if err != nil {
			return summary, fmt.Errorf("catalog: substrate %q: %w", name, err)
		}
		summary.SubstratesCreated++
	}
	return summary, nil
}
