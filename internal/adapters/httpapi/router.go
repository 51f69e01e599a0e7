// Package httpapi exposes the greenhouse service over JSON HTTP using gin.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"greenhouse/internal/adapters/reports"
	"greenhouse/internal/core"
	"greenhouse/internal/lifecycle"
	"greenhouse/internal/observability"
	"greenhouse/pkg/domain"
)

// BasePath prefixes every API route.
const BasePath = "/api/v1"

// Service is the subset of core.Service the handlers call.
type Service interface {
	ListSeedTypes() []domain.SeedType
	CreateSeedType(ctx context.Context, seedType domain.SeedType) (domain.SeedType, core.Result, error)
	DeleteSeedType(ctx context.Context, id string) (core.Result, error)

	ListSubstrates() []domain.Substrate
	CreateSubstrate(ctx context.Context, substrate domain.Substrate) (domain.Substrate, core.Result, error)
	DeleteSubstrate(ctx context.Context, id string) (core.Result, error)

	ListGreenhouseSummaries(ctx context.Context) ([]core.GreenhouseSummary, error)
	GetGreenhouse(ctx context.Context, id string) (core.GreenhouseSummary, error)
	CreateGreenhouse(ctx context.Context, greenhouse domain.Greenhouse) (domain.Greenhouse, core.Result, error)
	DeleteGreenhouse(ctx context.Context, id string) (core.Result, error)
	AddGreenhouseSupply(ctx context.Context, greenhouseID string, supply domain.Supply) (domain.Supply, core.Result, error)
	RemoveGreenhouseSupply(ctx context.Context, greenhouseID, supplyID string) (core.Result, error)

	PlantSeeds(ctx context.Context, req core.PlantRequest) ([]domain.Seed, core.Result, error)
	GetSeed(ctx context.Context, id string) (core.SeedDetail, error)
	AdvanceSeed(ctx context.Context, seedID string, req core.FeedbackRequest) (lifecycle.Advance, core.Result, error)
	AddSeedSupply(ctx context.Context, seedID string, supply domain.Supply) (domain.Supply, core.Result, error)
	RemoveSeedSupply(ctx context.Context, seedID, supplyID string) (core.Result, error)
	DeleteSeed(ctx context.Context, id string) (core.Result, error)

	Analytics(ctx context.Context) (core.AnalyticsReport, error)
}

// Reports schedules and serves report exports.
type Reports interface {
	Enqueue(ctx context.Context, req reports.Request) (reports.Export, error)
	Get(id string) (reports.Export, bool)
	OpenArtifact(ctx context.Context, id, name string) (reports.Artifact, io.ReadCloser, error)
}

// Options tune router construction.
type Options struct {
	Logger      zerolog.Logger
	CORSOrigins []string
}

type handler struct {
	svc     Service
	reports Reports
	started time.Time
}

// NewRouter builds the gin engine with logging, metrics and CORS middleware.
// reports may be nil, in which case the report routes answer 404.
func NewRouter(svc Service, rep Reports, opts Options) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	h := &handler{svc: svc, reports: rep, started: time.Now()}
	api := r.Group(BasePath)
	api.GET("/healthz", h.health)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.GET("/seed-types", h.listSeedTypes)
	api.POST("/seed-types", h.createSeedType)
	api.DELETE("/seed-types/:id", h.deleteSeedType)

	api.GET("/substrates", h.listSubstrates)
	api.POST("/substrates", h.createSubstrate)
	api.DELETE("/substrates/:id", h.deleteSubstrate)

	api.GET("/greenhouses", h.listGreenhouses)
	api.POST("/greenhouses", h.createGreenhouse)
	api.GET("/greenhouses/:id", h.getGreenhouse)
	api.DELETE("/greenhouses/:id", h.deleteGreenhouse)
	api.POST("/greenhouses/:id/supplies", h.addGreenhouseSupply)
	api.DELETE("/greenhouses/:id/supplies/:supplyID", h.removeGreenhouseSupply)
	api.POST("/greenhouses/:id/seeds", h.plantSeeds)

	api.GET("/seeds/:id", h.getSeed)
	api.POST("/seeds/:id/advance", h.advanceSeed)
	api.POST("/seeds/:id/supplies", h.addSeedSupply)
	api.DELETE("/seeds/:id/supplies/:supplyID", h.removeSeedSupply)
	api.DELETE("/seeds/:id", h.deleteSeed)

	api.GET("/analytics", h.analytics)

	api.POST("/reports", h.enqueueReport)
	api.GET("/reports/:id", h.getReport)
	api.GET("/reports/:id/artifacts/:name", h.downloadArtifact)
	return r
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		switch o {
		case "":
		case "*":
			cfg.AllowAllOrigins = true
			cfg.AllowOrigins = nil
			return cfg
		default:
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}
