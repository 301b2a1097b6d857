package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default() returned different collectors")
	}
}

func TestObserveUpstreamOutcome(t *testing.T) {
	c := Default()
	okBefore := testutil.ToFloat64(c.UpstreamCalls.WithLabelValues("test-svc", "ok"))
	errBefore := testutil.ToFloat64(c.UpstreamCalls.WithLabelValues("test-svc", "error"))

	ObserveUpstream("test-svc", time.Now(), nil)
	ObserveUpstream("test-svc", time.Now(), errors.New("boom"))
	ObserveUpstream("test-svc", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(c.UpstreamCalls.WithLabelValues("test-svc", "ok")) - okBefore; got != 1 {
		t.Fatalf("ok delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.UpstreamCalls.WithLabelValues("test-svc", "error")) - errBefore; got != 2 {
		t.Fatalf("error delta = %v, want 2", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	GraphGrowth(2, 1, 2)

	rec := httptest.NewRecorder()
	Default().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "folio_graph_nodes 2") {
		t.Fatalf("expected graph gauge in output, got:\n%s", body)
	}
}

func TestModelUsage(t *testing.T) {
	c := Default()
	before := testutil.ToFloat64(c.ModelTokens.WithLabelValues("output"))

	ModelUsage(10, 4)
	ModelUsage(0, -3)

	if got := testutil.ToFloat64(c.ModelTokens.WithLabelValues("output")) - before; got != 4 {
		t.Fatalf("output delta = %v, want 4", got)
	}
}
