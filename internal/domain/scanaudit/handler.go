package scanaudit

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmesh/healthmesh/internal/platform/auth"
	"github.com/healthmesh/healthmesh/internal/platform/db"
	"github.com/healthmesh/healthmesh/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	audit := api.Group("", auth.RequireRole("admin", "compliance"))
	audit.GET("/qr/audit", h.ListRecords)
	audit.GET("/qr/audit/:id", h.GetRecord)
	audit.POST("/qr/audit/:id/usage", h.AmendUsage)
}

func (h *Handler) ListRecords(c echo.Context) error {
	var filter Filter

	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = &id
	}
	if v := c.QueryParam("registration_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid registration_id")
		}
		filter.RegistrationID = &id
	}
	if v := c.QueryParam("scanned_by"); v != "" {
		filter.ScannedByUser = v
	}
	if v := c.QueryParam("allowed"); v != "" {
		allowed := v == "true"
		filter.Allowed = &allowed
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		filter.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		filter.To = &t
	}

	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, db.TenantFromContext(ctx), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit records")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Get(ctx, db.TenantFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit record not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) AmendUsage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var update UsageUpdate
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	rec, err := h.svc.AmendUsage(ctx, db.TenantFromContext(ctx), id, update)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "audit record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update usage")
	}
	return c.JSON(http.StatusOK, rec)
}
