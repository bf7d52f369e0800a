package qrtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmesh/healthmesh/internal/platform/auth"
	"github.com/healthmesh/healthmesh/internal/platform/db"
)

func newTestHandler(t *testing.T) (*Handler, *validatorFixture, *echo.Echo) {
	t.Helper()
	f := newValidatorFixture(t)
	return NewHandler(f.svc, f.validator), f, echo.New()
}

func testContext(e *echo.Echo, method, target, body string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if len(roles) == 0 {
		roles = []string{"nurse"}
	}
	ctx := context.WithValue(req.Context(), db.TenantIDKey, "acme_clinic")
	ctx = context.WithValue(ctx, auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestIssueRegistration_Success(t *testing.T) {
	h, _, e := newTestHandler(t)
	patientID := uuid.New()

	body := fmt.Sprintf(`{"patient_id":%q,"master_patient_identifier":"MRN-00042"}`, patientID)
	c, rec := testContext(e, http.MethodPost, "/api/v1/qr/registrations", body)
	if err := h.IssueRegistration(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result IssueResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Token == "" {
		t.Error("response missing token")
	}
	if result.Registration == nil || result.Registration.PatientID != patientID {
		t.Error("response missing registration")
	}
}

func TestIssueRegistration_MissingMPI(t *testing.T) {
	h, _, e := newTestHandler(t)

	body := fmt.Sprintf(`{"patient_id":%q}`, uuid.New())
	c, _ := testContext(e, http.MethodPost, "/api/v1/qr/registrations", body)
	err := h.IssueRegistration(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("got %v, want 400", err)
	}
}

func TestScan_AllowedAndDenied(t *testing.T) {
	h, f, e := newTestHandler(t)
	res := f.issue(t, baseIssueRequest())

	body := fmt.Sprintf(`{"token":%q}`, res.Token)
	c, rec := testContext(e, http.MethodPost, "/api/v1/qr/scan", body)
	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ok scanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ok.Allowed || ok.Patient == nil {
		t.Error("allowed scan missing patient payload")
	}

	c, rec = testContext(e, http.MethodPost, "/api/v1/qr/scan", `{"token":"garbage"}`)
	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var denied scanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &denied); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if denied.Allowed || denied.Message != GenericDenialMessage {
		t.Errorf("denied response = %+v, want generic denial", denied)
	}
	if denied.Registration != nil || denied.Patient != nil {
		t.Error("denied response leaks registration data")
	}
	if strings.Contains(rec.Body.String(), "invalid_format") {
		t.Error("denied response leaks denial reason")
	}
}

func TestScan_ForwardsPurposeAndRequestID(t *testing.T) {
	h, f, e := newTestHandler(t)
	res := f.issue(t, baseIssueRequest())

	body := fmt.Sprintf(`{"token":%q,"purpose":"treatment","session_id":"sess-9"}`, res.Token)
	c, rec := testContext(e, http.MethodPost, "/api/v1/qr/scan", body)
	c.Set("request_id", "req-abc")
	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(f.audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(f.audit.entries))
	}
	entry := f.audit.entries[0]
	if entry.AccessPurpose != "treatment" {
		t.Errorf("audit purpose = %q, want treatment", entry.AccessPurpose)
	}
	if entry.SessionID != "sess-9" {
		t.Errorf("audit session id = %q, want sess-9", entry.SessionID)
	}
	if entry.RequestID != "req-abc" {
		t.Errorf("audit request id = %q, want req-abc", entry.RequestID)
	}
	if entry.ScannedByRole != "nurse" {
		t.Errorf("audit role = %q, want nurse", entry.ScannedByRole)
	}
}

func TestScan_UnprivilegedRoleGetsGenericDenial(t *testing.T) {
	h, f, e := newTestHandler(t)
	res := f.issue(t, baseIssueRequest())

	body := fmt.Sprintf(`{"token":%q}`, res.Token)
	c, rec := testContext(e, http.MethodPost, "/api/v1/qr/scan", body, "billing")
	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(f.audit.entries) == 0 || f.audit.entries[len(f.audit.entries)-1].DenialReason != DenialInsufficientRole {
		t.Error("role denial not audited")
	}
}

func TestRevokeRegistration(t *testing.T) {
	h, f, e := newTestHandler(t)
	res := f.issue(t, baseIssueRequest())

	c, rec := testContext(e, http.MethodPost, "/", `{"reason":"device lost"}`)
	c.SetParamNames("id")
	c.SetParamValues(res.Registration.ID.String())
	if err := h.RevokeRegistration(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out revokeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.AlreadyRevoked || out.Registration.IsActive {
		t.Errorf("revoke response = %+v", out)
	}

	// Second revoke is a 200 reporting the existing terminal state.
	c, rec = testContext(e, http.MethodPost, "/", `{"reason":"again"}`)
	c.SetParamNames("id")
	c.SetParamValues(res.Registration.ID.String())
	if err := h.RevokeRegistration(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if !out.AlreadyRevoked {
		t.Error("second revoke not flagged already_revoked")
	}
}

func TestRevokeRegistration_RequiresReason(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := testContext(e, http.MethodPost, "/", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.RevokeRegistration(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("got %v, want 400", err)
	}
}

func TestListRegistrations(t *testing.T) {
	h, f, e := newTestHandler(t)
	req := baseIssueRequest()
	for i := 0; i < 2; i++ {
		f.issue(t, req)
	}

	c, rec := testContext(e, http.MethodGet, "/api/v1/qr/registrations?patient_id="+req.PatientID.String(), "")
	if err := h.ListRegistrations(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Total != 2 {
		t.Errorf("total = %d, want 2", out.Total)
	}

	// Raw token material must never appear in list responses.
	if strings.Contains(rec.Body.String(), "token_ciphertext") || strings.Contains(rec.Body.String(), "token_hash") {
		t.Error("list response leaks token material")
	}
}

func TestGetRegistration_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := testContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetRegistration(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("got %v, want 404", err)
	}
}
