package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScanDecision_Counts(t *testing.T) {
	before := testutil.ToFloat64(scanDecisions.WithLabelValues(ScanOutcomeGranted))
	ObserveScanDecision(ScanOutcomeGranted)
	after := testutil.ToFloat64(scanDecisions.WithLabelValues(ScanOutcomeGranted))
	if after != before+1 {
		t.Errorf("expected counter to increment, before=%v after=%v", before, after)
	}
}

func TestScanOutcomeGranted_Label(t *testing.T) {
	if ScanOutcomeGranted != "granted" {
		t.Errorf("grant outcome label = %q, want %q", ScanOutcomeGranted, "granted")
	}
}

func TestObserveAuditFailure_Counts(t *testing.T) {
	before := testutil.ToFloat64(auditWriteFailures)
	ObserveAuditFailure()
	after := testutil.ToFloat64(auditWriteFailures)
	if after != before+1 {
		t.Errorf("expected counter to increment, before=%v after=%v", before, after)
	}
}

func TestMiddleware_RecordsRequest(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/qr/scan", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/qr/scan")

	h := Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/qr/scan", "200"))
	if got < 1 {
		t.Errorf("expected request counter >= 1, got %v", got)
	}
}
