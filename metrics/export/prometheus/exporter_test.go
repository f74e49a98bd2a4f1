package prometheus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
)

type fakeSource struct {
	snapshot goAccount.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goAccount.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func emptySnapshot() goAccount.MetricsSnapshot {
	return goAccount.MetricsSnapshot{
		Counters:   map[goAccount.MetricID]uint64{},
		Histograms: map[goAccount.MetricID][]uint64{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: emptySnapshot()})
	if got := exp.Render(context.Background()); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndLatencyHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters: map[goAccount.MetricID]uint64{
				goAccount.MetricVerificationConfirmed: 7,
				goAccount.MetricTransportFailure:      1,
			},
			Histograms: map[goAccount.MetricID][]uint64{
				goAccount.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render(context.Background())
	for _, want := range []string{
		"# TYPE goaccount_verification_confirmed_total counter",
		"goaccount_verification_confirmed_total 7",
		"goaccount_transport_failure_total 1",
		"goaccount_session_created_total 0",
		"# TYPE goaccount_authenticate_latency_seconds histogram",
		`goaccount_authenticate_latency_seconds_bucket{le="0.005"} 1`,
		`goaccount_authenticate_latency_seconds_bucket{le="+Inf"} 36`,
		"goaccount_authenticate_latency_seconds_count 36",
		"goaccount_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "goaccount_backend_up") {
		t.Fatal("backend gauge rendered without a health check")
	}
}

func TestHealthGauge(t *testing.T) {
	healthy := true
	check := func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}
	exp := New(fakeSource{snapshot: emptySnapshot()}, WithHealthCheck(check, time.Second))

	if out := exp.Render(context.Background()); !strings.Contains(out, "goaccount_backend_up 1") {
		t.Fatalf("expected backend up, got:\n%s", out)
	}
	healthy = false
	if out := exp.Render(context.Background()); !strings.Contains(out, "goaccount_backend_up 0") {
		t.Fatalf("expected backend down, got:\n%s", out)
	}
}

func TestServeHTTP(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters:   map[goAccount.MetricID]uint64{goAccount.MetricSessionCreated: 1},
			Histograms: map[goAccount.MetricID][]uint64{},
		},
	})

	rec := httptest.NewRecorder()
	exp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "goaccount_session_created_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("escapeHelp = %q", got)
	}
}
