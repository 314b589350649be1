package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExportsCounters(t *testing.T) {
	c := New()
	c.IncReceipt("file.write", "ALLOWED")
	c.IncReceipt("file.write", "ALLOWED")
	c.IncReceipt("shell.run", "DENIED")
	c.IncTokenIssued()
	c.IncTokenConsumed()
	c.IncTokenRejected()
	c.IncUndo()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(HandlerOptions{
		PendingConfirmations: func() int { return 2 },
		EventsDropped:        func() int64 { return 5 },
	}).ServeHTTP(rec, req)

	body := rec.Body.String()
	assertContains := func(substr string) {
		t.Helper()
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics output missing %q. Got:\n%s", substr, body)
		}
	}

	assertContains("opsgate_up 1")
	assertContains("opsgate_receipts_total 3")
	assertContains(`opsgate_receipts_by_decision_total{decision="ALLOWED"} 2`)
	assertContains(`opsgate_receipts_by_decision_total{decision="DENIED"} 1`)
	assertContains(`opsgate_receipts_by_tool_total{tool="file.write"} 2`)
	assertContains(`opsgate_receipts_by_tool_total{tool="shell.run"} 1`)
	assertContains("opsgate_tokens_issued_total 1")
	assertContains("opsgate_tokens_consumed_total 1")
	assertContains("opsgate_tokens_rejected_total 1")
	assertContains("opsgate_undo_executions_total 1")
	assertContains("opsgate_pending_confirmations 2")
	assertContains("opsgate_events_dropped_total 5")
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.IncReceipt("file.write", "ALLOWED")
	c.IncTokenIssued()
	c.IncTokenConsumed()
	c.IncTokenRejected()
	c.IncUndo()
}

func TestHandlerOmitsOptionalGauges(t *testing.T) {
	c := New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(HandlerOptions{}).ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "opsgate_pending_confirmations") {
		t.Fatal("pending gauge emitted without provider")
	}
	if strings.Contains(body, "opsgate_events_dropped_total") {
		t.Fatal("dropped counter emitted without provider")
	}
}
