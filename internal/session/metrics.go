package session

import "github.com/prometheus/client_golang/prometheus"

var (
	tokenValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gofpa_session_token_valid",
		Help: "Access token validity (1=valid, 0=invalid)",
	})
	remotePersistOK = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gofpa_session_remote_persist_ok",
		Help: "Remote blob persistence health (1=ok, 0=error)",
	})
)

// MetricsCollectors returns collectors for the session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		tokenValid,
		remotePersistOK,
	}
}
