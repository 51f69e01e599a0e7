package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"greenhouse/internal/adapters/reports"
	blobcore "greenhouse/internal/blob/core"
	"greenhouse/internal/core"
	"greenhouse/pkg/domain"
)

type greenhouseRequest struct {
	Name     string          `json:"name"`
	Capacity int             `json:"capacity"`
	Supplies []domain.Supply `json:"supplies"`
}

type plantRequest struct {
	SeedTypeID  string `json:"seed_type_id"`
	SubstrateID string `json:"substrate_id"`
	Quantity    int    `json:"quantity"`
	// StartDate accepts RFC 3339 or YYYY-MM-DD; empty means now.
	StartDate string `json:"start_date"`
}

type advanceRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Notes       string   `json:"notes"`
}

type advanceResponse struct {
	Seed        domain.Seed  `json:"seed"`
	From        domain.Phase `json:"from"`
	To          domain.Phase `json:"to"`
	SuccessRate *float64     `json:"success_rate,omitempty"`
	Profit      *float64     `json:"profit,omitempty"`
	Dangling    string       `json:"dangling,omitempty"`
}

func (h *handler) listSeedTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"seed_types": h.svc.ListSeedTypes()})
}

func (h *handler) createSeedType(c *gin.Context) {
	var req domain.SeedType
	if !bindJSON(c, &req, false) {
		return
	}
	req.Base = domain.Base{}
	created, _, err := h.svc.CreateSeedType(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handler) deleteSeedType(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.DeleteSeedType(c.Request.Context(), c.Param("id"))
	})
}

func (h *handler) listSubstrates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"substrates": h.svc.ListSubstrates()})
}

func (h *handler) createSubstrate(c *gin.Context) {
	var req domain.Substrate
	if !bindJSON(c, &req, false) {
		return
	}
	req.Base = domain.Base{}
	created, _, err := h.svc.CreateSubstrate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handler) deleteSubstrate(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.DeleteSubstrate(c.Request.Context(), c.Param("id"))
	})
}

func (h *handler) listGreenhouses(c *gin.Context) {
	summaries, err := h.svc.ListGreenhouseSummaries(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"greenhouses": summaries})
}

func (h *handler) createGreenhouse(c *gin.Context) {
	var req greenhouseRequest
	if !bindJSON(c, &req, true) {
		return
	}
	created, _, err := h.svc.CreateGreenhouse(c.Request.Context(), domain.Greenhouse{
		Name:     req.Name,
		Capacity: req.Capacity,
		Supplies: req.Supplies,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handler) getGreenhouse(c *gin.Context) {
	summary, err := h.svc.GetGreenhouse(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) deleteGreenhouse(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.DeleteGreenhouse(c.Request.Context(), c.Param("id"))
	})
}

func (h *handler) addGreenhouseSupply(c *gin.Context) {
	var req domain.Supply
	if !bindJSON(c, &req, false) {
		return
	}
	supply, _, err := h.svc.AddGreenhouseSupply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, supply)
}

func (h *handler) removeGreenhouseSupply(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.RemoveGreenhouseSupply(c.Request.Context(), c.Param("id"), c.Param("supplyID"))
	})
}

func (h *handler) plantSeeds(c *gin.Context) {
	var req plantRequest
	if !bindJSON(c, &req, false) {
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(c, domain.ValidationError{Field: "start_date", Message: err.Error()})
		return
	}
	seeds, _, err := h.svc.PlantSeeds(c.Request.Context(), core.PlantRequest{
		GreenhouseID: c.Param("id"),
		SeedTypeID:   req.SeedTypeID,
		SubstrateID:  req.SubstrateID,
		Quantity:     req.Quantity,
		StartDate:    start,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"seeds": seeds})
}

func (h *handler) getSeed(c *gin.Context) {
	detail, err := h.svc.GetSeed(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *handler) advanceSeed(c *gin.Context) {
	var req advanceRequest
	if !bindJSON(c, &req, true) {
		return
	}
	adv, _, err := h.svc.AdvanceSeed(c.Request.Context(), c.Param("id"), core.FeedbackRequest{
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	resp := advanceResponse{Seed: adv.Seed, From: adv.From, To: adv.To}
	if adv.Evaluation != nil {
		resp.SuccessRate = &adv.Evaluation.SuccessRate
		resp.Profit = &adv.Evaluation.Profit
	}
	if adv.Dangling != nil {
		resp.Dangling = adv.Dangling.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) addSeedSupply(c *gin.Context) {
	var req domain.Supply
	if !bindJSON(c, &req, false) {
		return
	}
	supply, _, err := h.svc.AddSeedSupply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, supply)
}

func (h *handler) removeSeedSupply(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.RemoveSeedSupply(c.Request.Context(), c.Param("id"), c.Param("supplyID"))
	})
}

func (h *handler) deleteSeed(c *gin.Context) {
	h.respondDelete(c, func() (core.Result, error) {
		return h.svc.DeleteSeed(c.Request.Context(), c.Param("id"))
	})
}

func (h *handler) analytics(c *gin.Context) {
	report, err := h.svc.Analytics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seeds":           report.Seeds,
		"total_seeds":     report.TotalSeeds,
		"total_profit":    report.TotalProfit,
		"supply_cost":     report.SupplyCost,
		"net_profit":      report.NetProfit(),
		"average_success": report.AverageSuccess,
		"generated_at":    report.GeneratedAt,
	})
}

func (h *handler) enqueueReport(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reports are not configured"})
		return
	}
	var req reports.Request
	if !bindJSON(c, &req, true) {
		return
	}
	export, err := h.reports.Enqueue(c.Request.Context(), req)
	switch {
	case errors.Is(err, reports.ErrQueueFull), errors.Is(err, reports.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, export)
}

func (h *handler) getReport(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reports are not configured"})
		return
	}
	export, ok := h.reports.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *handler) downloadArtifact(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reports are not configured"})
		return
	}
	artifact, rc, err := h.reports.OpenArtifact(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, artifact.SizeBytes, artifact.ContentType, rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + artifact.Name + `"`,
	})
}

func (h *handler) respondDelete(c *gin.Context, fn func() (core.Result, error)) {
	if _, err := fn(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindJSON decodes the body into v. An empty body is accepted when allowEmpty
// is set and leaves v at its zero value.
func bindJSON(c *gin.Context, v any, allowEmpty bool) bool {
	err := c.ShouldBindJSON(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
	return false
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("expected RFC 3339 or YYYY-MM-DD, got " + strconv.Quote(raw))
	}
	return t, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		notFound   domain.ErrNotFound
		validation domain.ValidationError
		violation  domain.RuleViolationError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.Is(err, blobcore.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		messages := make([]string, 0, len(violation.Result.Violations))
		for _, v := range violation.Result.Violations {
			messages = append(messages, v.Rule+": "+v.Message)
		}
		body["violations"] = messages
	}
	c.JSON(statusFor(err), body)
}
