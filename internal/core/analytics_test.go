package core

import (
	"context"
	"testing"
	"time"

	"greenhouse/pkg/domain"
)

func TestBuildAnalyticsGroupsByName(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seeds := []domain.Seed{
		{Name: "Tomato", GerminationSuccess: 80, Profit: 40, Supplies: []domain.Supply{{CostPerUnit: 2, Quantity: 3}}},
		{Name: "Basil", GerminationSuccess: 50, Profit: 10},
		{Name: "Tomato", GerminationSuccess: 60, Profit: 30},
	}
	greenhouses := []domain.Greenhouse{{Supplies: []domain.Supply{{CostPerUnit: 1, Quantity: 4}}}}
	report := BuildAnalytics(greenhouses, seeds, now)

	if len(report.Seeds) != 2 || report.Seeds[0].Name != "Basil" || report.Seeds[1].Name != "Tomato" {
		t.Fatalf("unexpected grouping %+v", report.Seeds)
	}
	tomato := report.Seeds[1]
	if tomato.Count != 2 || tomato.AverageSuccess != 70 || tomato.TotalProfit != 70 {
		t.Fatalf("unexpected tomato analytics %+v", tomato)
	}
	if report.TotalSeeds != 3 || report.TotalProfit != 80 || report.SupplyCost != 10 || report.NetProfit() != 70 {
		t.Fatalf("unexpected totals %+v", report)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timestamp %v", report.GeneratedAt)
	}
}

func TestServiceAnalyticsEmpty(t *testing.T) {
	report, err := NewInMemoryService(nil).Analytics(context.Background())
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if report.Seeds == nil || report.TotalSeeds != 0 || report.AverageSuccess != 0 {
		t.Fatalf("unexpected empty report %+v", report)
	}
}

func TestServiceAnalyticsAfterAdvance(t *testing.T) {
	f := newFixture(t, 5)
	seeds := f.plant(t, 2)
	if _, _, err := f.svc.AdvanceSeed(context.Background(), seeds[0].ID, FeedbackRequest{Temperature: floatPtr(27), Humidity: floatPtr(65)}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	report, err := f.svc.Analytics(context.Background())
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(report.Seeds) != 1 || report.Seeds[0].Count != 2 || report.Seeds[0].TotalProfit != 78.5 {
		t.Fatalf("unexpected analytics %+v", report.Seeds)
	}
	summaries, err := f.svc.ListGreenhouseSummaries(context.Background())
	if err != nil || len(summaries) != 1 || summaries[0].TotalProfit != 78.5 {
		t.Fatalf("unexpected summaries %+v %v", summaries, err)
	}
}
