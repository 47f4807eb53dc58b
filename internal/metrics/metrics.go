package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geogate_decisions_total",
		Help: "Total number of access decisions, labelled by outcome reason",
	}, []string{"reason"})
	decisionsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geogate_decisions_blocked_total",
		Help: "Total number of blocked access decisions",
	})
	policyCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geogate_policy_cache_hits_total",
		Help: "Site policy cache hits, labelled by tier (memory, distributed, source)",
	}, []string{"tier"})
	screenshotsCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geogate_screenshots_captured_total",
		Help: "Total number of evidence screenshots captured and stored",
	})
	screenshotsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geogate_screenshots_failed_total",
		Help: "Total number of evidence screenshot jobs that exhausted retries",
	})
	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geogate_audit_dropped_total",
		Help: "Total number of audit entries dropped because the queue was full",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		decisionsTotal,
		decisionsBlockedTotal,
		policyCacheHits,
		screenshotsCaptured,
		screenshotsFailed,
		auditDropped,
	)
}

// IncDecision increments the decision counter for the given reason.
func IncDecision(reason string, allowed bool) {
	decisionsTotal.WithLabelValues(reason).Inc()
	if !allowed {
		decisionsBlockedTotal.Inc()
	}
}

// IncCacheHit increments the policy cache hit counter for a tier.
func IncCacheHit(tier string) { policyCacheHits.WithLabelValues(tier).Inc() }

// IncScreenshotCaptured increments the captured screenshot counter.
func IncScreenshotCaptured() { screenshotsCaptured.Inc() }

// IncScreenshotFailed increments the exhausted screenshot job counter.
func IncScreenshotFailed() { screenshotsFailed.Inc() }

// IncAuditDropped increments the dropped audit entry counter.
func IncAuditDropped() { auditDropped.Inc() }
