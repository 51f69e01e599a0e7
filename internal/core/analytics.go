package core

import (
	"sort"
	"time"

	"greenhouse/pkg/domain"
)

// SeedAnalytics groups seeds sharing a name.
type SeedAnalytics struct {
	Name           string  `json:"name"`
	Count          int     `json:"count"`
	AverageSuccess float64 `json:"average_success"`
	TotalProfit    float64 `json:"total_profit"`
}

// AnalyticsReport is the cross-greenhouse profitability overview.
type AnalyticsReport struct {
	Seeds          []SeedAnalytics `json:"seeds"`
	TotalSeeds     int             `json:"total_seeds"`
	TotalProfit    float64         `json:"total_profit"`
	SupplyCost     float64         `json:"supply_cost"`
	AverageSuccess float64         `json:"average_success"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// NetProfit is total profit minus every greenhouse and seed supply cost.
func (r AnalyticsReport) NetProfit() float64 { return r.TotalProfit - r.SupplyCost }

// BuildAnalytics aggregates seeds by name, sorted by name.
func BuildAnalytics(greenhouses []domain.Greenhouse, seeds []domain.Seed, now time.Time) AnalyticsReport {
	report := AnalyticsReport{Seeds: []SeedAnalytics{}, GeneratedAt: now}
	byName := make(map[string]*SeedAnalytics)
	var successSum float64
	for _, seed := range seeds {
		group, ok := byName[seed.Name]
		if !ok {
			group = &SeedAnalytics{Name: seed.Name}
			byName[seed.Name] = group
		}
		group.Count++
		group.AverageSuccess += seed.GerminationSuccess
		group.TotalProfit += seed.Profit

		report.TotalSeeds++
		report.TotalProfit += seed.Profit
		report.SupplyCost += domain.SupplyCost(seed.Supplies)
		successSum += seed.GerminationSuccess
	}
	for _, greenhouse := range greenhouses {
		report.SupplyCost += domain.SupplyCost(greenhouse.Supplies)
	}
	for _, group := range byName {
		group.AverageSuccess /= float64(group.Count)
		report.Seeds = append(report.Seeds, *group)
	}
	sort.Slice(report.Seeds, func(i, j int) bool { return report.Seeds[i].Name < report.Seeds[j].Name })
	if report.TotalSeeds > 0 {
		report.AverageSuccess = successSum / float64(report.TotalSeeds)
	}
	return report
}
