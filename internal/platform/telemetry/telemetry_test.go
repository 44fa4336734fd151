package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveReconciliation("staff", "ok")
	m.ObserveReconciliation("staff", "ok")
	m.ObserveReconciliation("patient", "no_invitation")
	m.ObserveWebhook("member", "CREATE", "ok")
	m.ObserveProviderRequest("/b2b/sessions/authenticate", 200, 42*time.Millisecond)
	m.ObserveProviderRequest("/b2b/sessions/authenticate", 0, 10*time.Second)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := m.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("metrics handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`carelink_reconciliations_total{flow="staff",outcome="ok"} 2`,
		`carelink_reconciliations_total{flow="patient",outcome="no_invitation"} 1`,
		`carelink_webhook_events_total{action="CREATE",object_type="member",outcome="ok"} 1`,
		`carelink_provider_request_seconds_count{endpoint="/b2b/sessions/authenticate",status="200"} 1`,
		`carelink_provider_request_seconds_count{endpoint="/b2b/sessions/authenticate",status="0"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
