package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FixRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loctrack_fix_requests_total",
		Help: "Location fixes requested from the provider",
	})
	FixFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loctrack_fix_failures_total",
		Help: "Failed fixes by failure kind",
	}, []string{"kind"})
	FixesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loctrack_fixes_discarded_total",
		Help: "Fixes that completed after tracking stopped or the session was cleared",
	})
	FixesAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loctrack_fixes_abandoned_total",
		Help: "Fixes whose requester canceled before the provider answered",
	})
	SamplesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loctrack_samples_recorded_total",
		Help: "Samples appended to the store",
	})
	SamplesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loctrack_samples_stored",
		Help: "Samples currently held by the session",
	})
	Tracking = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loctrack_tracking",
		Help: "1 while the sampling loop is armed",
	})
	UnavailableNotices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loctrack_unavailable_total",
		Help: "Start or locate attempts rejected because no location provider is available",
	})
	FixLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loctrack_fix_latency_seconds",
		Help:    "Time from fix request to completion",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveFixLatency(start time.Time) {
	FixLatency.Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
