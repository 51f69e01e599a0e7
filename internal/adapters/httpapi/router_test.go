package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenhouse/internal/adapters/reports"
	"greenhouse/internal/core"
	"greenhouse/internal/infra/blob/memory"
	"greenhouse/pkg/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	t       *testing.T
	svc     *core.Service
	worker  *reports.Worker
	handler http.Handler
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	svc := core.NewInMemoryService(nil, core.WithClock(core.ClockFunc(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})))
	worker := reports.NewWorker(svc, memory.New())
	worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = worker.Stop(ctx)
	})
	return &apiFixture{
		t:       t,
		svc:     svc,
		worker:  worker,
		handler: NewRouter(svc, worker, Options{Logger: zerolog.Nop()}),
	}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, BasePath+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedGreenhouse creates a tomato type, a substrate and a greenhouse of the given capacity.
func (f *apiFixture) seedGreenhouse(capacity int) (typeID, substrateID, greenhouseID string) {
	rec := f.do(http.MethodPost, "/seed-types", map[string]any{
		"name": "Tomato", "expected_germination_rate": 90, "ideal_temperature": 25,
		"ideal_humidity": 60, "estimated_profit": 100,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	typeID = decode[domain.SeedType](f.t, rec).ID

	rec = f.do(http.MethodPost, "/substrates", map[string]any{"name": "Coco", "ph": 6, "organic_matter": 80, "moisture": 40, "cost": 2})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	substrateID = decode[domain.Substrate](f.t, rec).ID

	rec = f.do(http.MethodPost, "/greenhouses", map[string]any{"capacity": capacity})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	gh := decode[domain.Greenhouse](f.t, rec)
	assert.Equal(f.t, "Greenhouse 1", gh.Name)
	return typeID, substrateID, gh.ID
}

func (f *apiFixture) plant(greenhouseID, typeID, substrateID string, qty int) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/greenhouses/"+greenhouseID+"/seeds", map[string]any{
		"seed_type_id": typeID, "substrate_id": substrateID, "quantity": qty, "start_date": "2024-01-01",
	})
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greenhouse_http_requests_total")
}

func TestPlantAndAdvanceFlow(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(5)

	rec := f.plant(ghID, typeID, substrateID, 2)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	planted := decode[struct {
		Seeds []domain.Seed `json:"seeds"`
	}](t, rec)
	require.Len(t, planted.Seeds, 2)
	seedID := planted.Seeds[0].ID

	rec = f.do(http.MethodPost, "/seeds/"+seedID+"/advance", map[string]any{"temperature": 27, "humidity": 65})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adv := decode[advanceResponse](t, rec)
	assert.Equal(t, domain.PhaseGermination, adv.From)
	assert.Equal(t, domain.PhaseNursery, adv.To)
	require.NotNil(t, adv.SuccessRate)
	assert.InDelta(t, 78.5, *adv.SuccessRate, 1e-9)
	assert.InDelta(t, 78.5, *adv.Profit, 1e-9)

	rec = f.do(http.MethodGet, "/seeds/"+seedID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[core.SeedDetail](t, rec)
	assert.Equal(t, "Tomato", detail.SeedTypeName)
	require.NotNil(t, detail.LastFeedback)
	assert.Equal(t, 27.0, detail.LastFeedback.Temperature)

	rec = f.do(http.MethodGet, "/greenhouses/"+ghID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[core.GreenhouseSummary](t, rec)
	assert.Equal(t, 2, summary.SeedCount)
	assert.Equal(t, 3, summary.RemainingCapacity)

	rec = f.do(http.MethodGet, "/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, analytics["total_seeds"])
}

func TestAdvanceWithEmptyBodyUsesIdeals(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(5)
	rec := f.plant(ghID, typeID, substrateID, 1)
	require.Equal(t, http.StatusCreated, rec.Code)
	seedID := decode[struct {
		Seeds []domain.Seed `json:"seeds"`
	}](t, rec).Seeds[0].ID

	req := httptest.NewRequest(http.MethodPost, BasePath+"/seeds/"+seedID+"/advance", nil)
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	adv := decode[advanceResponse](t, out)
	assert.InDelta(t, 90, *adv.SuccessRate, 1e-9)
}

func TestAdvanceCompletedConflict(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(5)
	rec := f.plant(ghID, typeID, substrateID, 1)
	seedID := decode[struct {
		Seeds []domain.Seed `json:"seeds"`
	}](t, rec).Seeds[0].ID

	for i := 0; i < 4; i++ {
		rec = f.do(http.MethodPost, "/seeds/"+seedID+"/advance", map[string]any{})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/seeds/"+seedID+"/advance", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec)["error"], "cannot advance")
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(1)

	rec := f.plant(ghID, typeID, substrateID, 2)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.plant(ghID, typeID, substrateID, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.plant("missing", typeID, substrateID, 1)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/seed-types", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/seeds/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/greenhouses/"+ghID+"/seeds", map[string]any{
		"seed_type_id": typeID, "substrate_id": substrateID, "quantity": 1, "start_date": "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, BasePath+"/substrates", bytes.NewBufferString("{"))
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.InvalidTransitionError{SeedID: "s", From: domain.PhaseCompleted}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.CapacityExceededError{}), http.StatusConflict},
		{domain.ErrNotFound{Entity: domain.EntitySeed, ID: "x"}, http.StatusNotFound},
		{domain.ValidationError{Field: "name"}, http.StatusBadRequest},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.RuleViolationError{}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestSuppliesAndDeletes(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(3)

	rec := f.do(http.MethodPost, "/greenhouses/"+ghID+"/supplies", map[string]any{"name": "Fertilizer", "unit": "kg", "cost_per_unit": 2.5, "quantity": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	supply := decode[domain.Supply](t, rec)
	require.NotEmpty(t, supply.ID)

	rec = f.do(http.MethodGet, "/greenhouses/"+ghID, nil)
	assert.InDelta(t, 10, decode[core.GreenhouseSummary](t, rec).SupplyCost, 1e-9)

	rec = f.do(http.MethodDelete, "/greenhouses/"+ghID+"/supplies/"+supply.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodDelete, "/greenhouses/"+ghID+"/supplies/"+supply.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.plant(ghID, typeID, substrateID, 1)
	seedID := decode[struct {
		Seeds []domain.Seed `json:"seeds"`
	}](t, rec).Seeds[0].ID
	rec = f.do(http.MethodPost, "/seeds/"+seedID+"/supplies", map[string]any{"name": "Tray", "cost_per_unit": 1, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	seedSupply := decode[domain.Supply](t, rec)
	rec = f.do(http.MethodDelete, "/seeds/"+seedID+"/supplies/"+seedSupply.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/seed-types/"+typeID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/seeds/"+seedID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[core.SeedDetail](t, rec).Dangling)

	rec = f.do(http.MethodDelete, "/greenhouses/"+ghID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/seeds/"+seedID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/greenhouses", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/seed-types", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/substrates", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodDelete, "/substrates/"+substrateID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReportRoutes(t *testing.T) {
	f := newFixture(t)
	typeID, substrateID, ghID := f.seedGreenhouse(3)
	require.Equal(t, http.StatusCreated, f.plant(ghID, typeID, substrateID, 1).Code)

	rec := f.do(http.MethodPost, "/reports", map[string]any{"kinds": []string{"analytics"}, "formats": []string{"csv"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	export := decode[reports.Export](t, rec)

	require.Eventually(t, func() bool {
		got, ok := f.worker.Get(export.ID)
		return ok && got.Status == reports.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(http.MethodGet, "/reports/"+export.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[reports.Export](t, rec).Artifacts, 1)

	rec = f.do(http.MethodGet, "/reports/"+export.ID+"/artifacts/analytics.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Tomato,1,")

	rec = f.do(http.MethodGet, "/reports/"+export.ID+"/artifacts/greenhouses.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/reports/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/reports", map[string]any{"formats": []string{"pdf"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportsDisabled(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	router := NewRouter(svc, nil, Options{Logger: zerolog.Nop(), CORSOrigins: []string{"http://localhost:3000"}})
	req := httptest.NewRequest(http.MethodGet, BasePath+"/reports/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportEnqueueAfterWorkerStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(ctx))

	rec := f.do(http.MethodPost, "/reports", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}
