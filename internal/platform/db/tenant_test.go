package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func tenantRequest(t *testing.T, target string, header, jwtClaim string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, nil)
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	if jwtClaim != "" {
		c.Set("jwt_tenant_id", jwtClaim)
	}
	return c
}

func TestResolveTenant(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		jwt    string
		want   string
	}{
		{"jwt claim wins", "/?tenant_id=query_clinic", "header_clinic", "acme_clinic", "acme_clinic"},
		{"header over query", "/?tenant_id=query_clinic", "header_clinic", "", "header_clinic"},
		{"query param", "/?tenant_id=query_clinic", "", "", "query_clinic"},
		{"default fallback", "/", "", "", "default"},
		{"empty jwt falls through", "/", "header_clinic", "", "header_clinic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tenantRequest(t, tt.target, tt.header, tt.jwt)
			if got := resolveTenant(c, "default"); got != tt.want {
				t.Errorf("resolveTenant() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveTenant_EmptyJWTClaimIgnored(t *testing.T) {
	c := tenantRequest(t, "/", "header_clinic", "")
	c.Set("jwt_tenant_id", "")
	if got := resolveTenant(c, "default"); got != "header_clinic" {
		t.Errorf("resolveTenant() = %q, want header_clinic", got)
	}
}

func TestTenantIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"acme_clinic", true},
		{"hospital_1", true},
		{"A1B2", true},
		{"a", true},
		{"", false},
		{"acme-clinic", false},
		{"acme.clinic", false},
		{"acme clinic", false},
		{"'; DROP TABLE scan_audit", false},
		{"tenant@1", false},
	}
	for _, tt := range tests {
		if got := tenantIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("tenantIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestCreateTenantSchema_RejectsInvalidID(t *testing.T) {
	for _, id := range []string{"acme-clinic", "acme.clinic", "ac me", "drop;table", ""} {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for tenant id %q", id)
		}
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "acme_clinic")
	if got := TenantFromContext(ctx); got != "acme_clinic" {
		t.Errorf("TenantFromContext() = %q, want acme_clinic", got)
	}
	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("TenantFromContext() on empty context = %q, want empty", got)
	}
	// Wrong type behaves like absence.
	ctx = context.WithValue(context.Background(), TenantIDKey, 12345)
	if got := TenantFromContext(ctx); got != "" {
		t.Errorf("TenantFromContext() with wrong type = %q, want empty", got)
	}
}

func TestConnFromContext_AbsentOrWrongType(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn when context value has wrong type")
	}
}

func TestTxFromContext_AbsentOrWrongType(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx from empty context")
	}
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx when context value has wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	if _, _, err := WithTx(context.Background()); err == nil {
		t.Error("expected error when no connection in context")
	}
}
