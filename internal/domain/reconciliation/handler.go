package reconciliation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/platform/auth"
	"github.com/claimrecon/claimrecon/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reconciliations", auth.RequireRole("admin", "billing"))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/report", h.Report)
	g.GET("/classify", h.Classify)
	g.POST("/auto-reconcile", h.AutoReconcile)
	g.GET("/by-claim/:claim_id", h.ListByClaim)
	g.GET("/by-status/:status", h.ListByStatus)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
}

// actorID resolves the acting user from the authenticated subject.
func actorID(c echo.Context) (uuid.UUID, error) {
	sub := auth.UserIDFromContext(c.Request().Context())
	if sub == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authenticated user id is not a UUID")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.svc.Create(c.Request().Context(), in, actor, h.now())
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// Update accepts only the patchable fields. Any other field, including the
// amount snapshots, is rejected.
func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch ReconciliationPatch
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid patch: %v", err))
	}
	r, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListByClaim(c echo.Context) error {
	claimID, err := uuid.Parse(c.Param("claim_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	recs, err := h.svc.ListByClaim(c.Request().Context(), claimID)
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reconciliations": nonNil(recs)})
}

func (h *Handler) ListByStatus(c echo.Context) error {
	recs, err := h.svc.ListByStatus(c.Request().Context(), billing.Resolution(c.Param("status")))
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reconciliations": nonNil(recs)})
}

func (h *Handler) AutoReconcile(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.AutoReconcile(c.Request().Context(), actor, h.now())
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":         fmt.Sprintf("%d claims auto-reconciled", len(res.Created)),
		"reconciliations": res.Created,
		"skipped":         res.Skipped,
	})
}

func (h *Handler) Report(c echo.Context) error {
	rep, err := h.svc.Report(c.Request().Context())
	if err != nil {
		return billing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Classify previews the classification for the given amounts without
// storing anything.
func (h *Handler) Classify(c echo.Context) error {
	amounts := make([]decimal.Decimal, 3)
	for i, name := range []string{"billed", "approved", "paid"} {
		raw := c.QueryParam(name)
		if raw == "" {
			if name == "billed" {
				return echo.NewHTTPError(http.StatusBadRequest, "billed is required")
			}
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s amount", name))
		}
		amounts[i] = v
	}
	return c.JSON(http.StatusOK, ClassifyVariance(amounts[0], amounts[1], amounts[2]))
}

func nonNil(recs []*billing.Reconciliation) []*billing.Reconciliation {
	if recs == nil {
		return []*billing.Reconciliation{}
	}
	return recs
}
