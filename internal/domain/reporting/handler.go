package reporting

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/platform/auth"
)

// Definition describes a report for discovery.
type Definition struct {
	Kind        Kind     `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

var Definitions = []Definition{
	{
		Kind:        KindFinancialSummary,
		Name:        "Financial Summary",
		Description: "Billed, paid and outstanding totals with claim counts by status; defaults to the last 30 days",
		Parameters:  []string{"start_date", "end_date"},
	},
	{
		Kind:        KindHMOPerformance,
		Name:        "HMO Performance",
		Description: "Approval rate, payment rate and processing time per payer; defaults to the last 30 days",
		Parameters:  []string{"start_date", "end_date"},
	},
	{
		Kind:        KindClaimAging,
		Name:        "Claim Aging",
		Description: "Open claims bucketed by days since submission, as of today",
		Parameters:  []string{},
	},
	{
		Kind:        KindDenialAnalysis,
		Name:        "Denial Analysis",
		Description: "Denied claims by reason and by payer; defaults to the last 90 days",
		Parameters:  []string{"start_date", "end_date"},
	},
	{
		Kind:        KindReconciliationAudit,
		Name:        "Reconciliation Audit",
		Description: "Reconciliations in the window with claim, payer and invoice labels plus summary counts",
		Parameters:  []string{"start_date", "end_date"},
	},
}

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole("admin", "billing"))
	g.GET("", h.ListReports)
	g.GET("/:kind", h.GetReport)
}

func (h *Handler) ListReports(c echo.Context) error {
	return c.JSON(http.StatusOK, Definitions)
}

func (h *Handler) GetReport(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	w, err := WindowFromQuery(c.QueryParam("start_date"), c.QueryParam("end_date"))
	if err != nil {
		return billing.HTTPError(err)
	}
	rep, err := h.engine.Build(c.Request().Context(), kind, w)
	if err != nil {
		return billing.HTTPError(err)
	}
	c.Response().Header().Set("X-Report-Generated-At", time.Now().UTC().Format(time.RFC3339))
	return c.JSON(http.StatusOK, rep)
}

// WindowFromQuery parses optional YYYY-MM-DD bounds. Empty strings leave the
// bound to the report default.
func WindowFromQuery(start, end string) (Window, error) {
	var w Window
	if start != "" {
		d, err := billing.ParseDate(start)
		if err != nil {
			return Window{}, err
		}
		w.Start = &d
	}
	if end != "" {
		d, err := billing.ParseDate(end)
		if err != nil {
			return Window{}, err
		}
		w.End = &d
	}
	return w, nil
}
