package qrtoken

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmesh/healthmesh/internal/platform/auth"
	"github.com/healthmesh/healthmesh/internal/platform/db"
	"github.com/healthmesh/healthmesh/pkg/pagination"
)

type Handler struct {
	svc       *Service
	validator *ScanValidator
}

func NewHandler(svc *Service, validator *ScanValidator) *Handler {
	return &Handler{svc: svc, validator: validator}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	manage := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	manage.POST("/qr/registrations", h.IssueRegistration)
	manage.GET("/qr/registrations", h.ListRegistrations)
	manage.GET("/qr/registrations/:id", h.GetRegistration)
	manage.POST("/qr/registrations/:id/revoke", h.RevokeRegistration)

	// Scan has no route-level role gate: the validator applies the role
	// check itself so that failed attempts are still audited.
	api.POST("/qr/scan", h.Scan)
}

type issueRequest struct {
	PatientID               uuid.UUID `json:"patient_id"`
	FHIRPatientID           *string   `json:"fhir_patient_id,omitempty"`
	MasterPatientIdentifier string    `json:"master_patient_identifier"`
	ExpiresInSeconds        *int64    `json:"expires_in_seconds,omitempty"`
	MaxConcurrentActive     *int      `json:"max_concurrent_active,omitempty"`
}

func (h *Handler) IssueRegistration(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	result, err := h.svc.Issue(ctx, IssueRequest{
		TenantID:                db.TenantFromContext(ctx),
		PatientID:               req.PatientID,
		FHIRPatientID:           req.FHIRPatientID,
		MasterPatientIdentifier: req.MasterPatientIdentifier,
		CreatedByUserID:         auth.UserIDFromContext(ctx),
		ExpiresInSeconds:        req.ExpiresInSeconds,
		MaxConcurrentActive:     req.MaxConcurrentActive,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetRegistration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	reg, err := h.svc.Get(ctx, db.TenantFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "registration not found")
	}
	return c.JSON(http.StatusOK, reg)
}

func (h *Handler) ListRegistrations(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.ListByPatient(ctx, db.TenantFromContext(ctx), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list registrations")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type revokeResponse struct {
	Registration   *PatientQrRegistration `json:"registration"`
	AlreadyRevoked bool                   `json:"already_revoked"`
}

func (h *Handler) RevokeRegistration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	ctx := c.Request().Context()
	reg, alreadyRevoked, err := h.svc.Revoke(ctx, db.TenantFromContext(ctx), id, req.Reason, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "registration not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke registration")
	}
	return c.JSON(http.StatusOK, revokeResponse{Registration: reg, AlreadyRevoked: alreadyRevoked})
}

type scanRequest struct {
	Token     string `json:"token"`
	Purpose   string `json:"purpose,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Location  string `json:"location,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// scanResponse deliberately exposes only the generic denial message on
// failure; the specific reason lives in the audit trail.
type scanResponse struct {
	Allowed      bool                   `json:"allowed"`
	Message      string                 `json:"message,omitempty"`
	Registration *PatientQrRegistration `json:"registration,omitempty"`
	Patient      *Payload               `json:"patient,omitempty"`
	AuditID      uuid.UUID              `json:"audit_id,omitempty"`
}

func (h *Handler) Scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	rid, _ := c.Get("request_id").(string)
	decision := h.validator.Validate(ctx, ScanContext{
		Token:     req.Token,
		TenantID:  db.TenantFromContext(ctx),
		UserID:    auth.UserIDFromContext(ctx),
		Roles:     auth.RolesFromContext(ctx),
		Purpose:   req.Purpose,
		SourceIP:  c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		DeviceID:  req.DeviceID,
		Location:  req.Location,
		SessionID: req.SessionID,
		RequestID: rid,
	})

	resp := scanResponse{
		Allowed:      decision.Allowed,
		Message:      decision.Message,
		Registration: decision.Registration,
		Patient:      decision.Payload,
		AuditID:      decision.AuditID,
	}
	if !decision.Allowed {
		return c.JSON(http.StatusForbidden, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
