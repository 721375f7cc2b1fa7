package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersMove(t *testing.T) {
	before := testutil.ToFloat64(FixFailures.WithLabelValues("timeout"))
	FixFailures.WithLabelValues("timeout").Inc()
	if got := testutil.ToFloat64(FixFailures.WithLabelValues("timeout")); got != before+1 {
		t.Fatalf("fix failures=%v want %v", got, before+1)
	}

	SamplesStored.Set(3)
	if got := testutil.ToFloat64(SamplesStored); got != 3 {
		t.Fatalf("samples stored=%v", got)
	}
}

func TestObserveFixLatency(t *testing.T) {
	before := testutil.CollectAndCount(FixLatency)
	ObserveFixLatency(time.Now().Add(-50 * time.Millisecond))
	if got := testutil.CollectAndCount(FixLatency); got != before {
		t.Fatalf("histogram series=%d want %d", got, before)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	FixRequests.Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"loctrack_fix_requests_total", "loctrack_fix_latency_seconds_bucket"} {
		if !strings.Contains(string(b), name) {
			t.Fatalf("missing %s", name)
		}
	}
}
