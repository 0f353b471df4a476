package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	throttled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofpa_rate_limit_throttled_total",
			Help: "Requests delayed or refused by the rate-limit wrapper",
		},
		[]string{"provider", "reason"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gofpa_rate_limit_retry_after_seconds",
			Help: "Retry-after seconds for provider rate limits",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gofpa_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		throttled,
		retryAfterGauge,
		lastStatusGauge,
	}
}
