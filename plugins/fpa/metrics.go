package fpa

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gofpa_stream_connected_bool",
		Help: "Streaming session state per device (1=connected, 0=disconnected)",
	}, []string{"device_id"})
	reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gofpa_stream_disconnects_total",
		Help: "Streaming sessions that ended or failed to connect",
	}, []string{"device_id"})
	backoffSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gofpa_stream_backoff_seconds",
		Help: "Delay before the next reconnect attempt (0 while connected)",
	}, []string{"device_id"})
	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gofpa_stream_messages_total",
		Help: "Inbound stream messages by subject",
	}, []string{"subject"})
	mergeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gofpa_shadow_malformed_total",
		Help: "Shadow updates dropped because the merged document was malformed",
	}, []string{"device_id"})
	listenerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gofpa_listener_panics_total",
		Help: "Listener callbacks that panicked",
	})
	listenerDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gofpa_listener_dropped_total",
		Help: "Device events dropped because a subscriber fell behind or was still busy at close",
	})
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gofpa_token_refresh_total",
		Help: "Token refresh attempts by result",
	}, []string{"result"})
)

// ShadowCollector exports the derived shadow state of every device with
// details loaded.
type ShadowCollector struct {
	client *Client

	temperature *prometheus.Desc
	powder      *prometheus.Desc
	volume      *prometheus.Desc
	making      *prometheus.Desc
	online      *prometheus.Desc
	alert       *prometheus.Desc
	bottles     *prometheus.Desc
}

func NewShadowCollector(client *Client) *ShadowCollector {
	labels := []string{"device_id", "title"}
	return &ShadowCollector{
		client: client,
		temperature: prometheus.NewDesc("gofpa_shadow_temperature",
			"Configured water temperature setting", labels, nil),
		powder: prometheus.NewDesc("gofpa_shadow_powder",
			"Configured powder setting", labels, nil),
		volume: prometheus.NewDesc("gofpa_shadow_volume",
			"Configured bottle volume", append(labels, "unit"), nil),
		making: prometheus.NewDesc("gofpa_shadow_making_bottle_bool",
			"Bottle in progress (1=yes, 0=no)", labels, nil),
		online: prometheus.NewDesc("gofpa_shadow_connected_bool",
			"Appliance reported cloud connectivity (1=yes, 0=no)", labels, nil),
		alert: prometheus.NewDesc("gofpa_shadow_alert_bool",
			"Hardware alert flags (1=raised, 0=clear)", append(labels, "alert"), nil),
		bottles: prometheus.NewDesc("gofpa_bottles_made_total",
			"Bottles recorded in the creation log", labels, nil),
	}
}

func (c *ShadowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.temperature
	ch <- c.powder
	ch <- c.volume
	ch <- c.making
	ch <- c.online
	ch <- c.alert
	ch <- c.bottles
}

func (c *ShadowCollector) Collect(ch chan<- prometheus.Metric) {
	for _, device := range c.client.Devices() {
		if device.Shadow == nil {
			continue
		}
		s := device.Shadow
		id, title := device.DeviceID, device.Title
		ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, float64(s.Temperature), id, title)
		ch <- prometheus.MustNewConstMetric(c.powder, prometheus.GaugeValue, float64(s.Powder), id, title)
		ch <- prometheus.MustNewConstMetric(c.volume, prometheus.GaugeValue, float64(s.Volume), id, title, s.VolumeUnit)
		ch <- prometheus.MustNewConstMetric(c.making, prometheus.GaugeValue, boolToFloat(s.MakingBottle), id, title)
		ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, boolToFloat(s.Connected), id, title)
		for name, raised := range alertFlags(s.Alerts) {
			ch <- prometheus.MustNewConstMetric(c.alert, prometheus.GaugeValue, boolToFloat(raised), id, title, name)
		}
		ch <- prometheus.MustNewConstMetric(c.bottles, prometheus.CounterValue, float64(len(device.BottleCreationLog)), id, title)
	}
}

func alertFlags(a Alerts) map[string]bool {
	return map[string]bool{
		"bottle_missing":         a.BottleMissing,
		"funnel_cleaning_needed": a.FunnelCleaningNeeded,
		"funnel_out":             a.FunnelOut,
		"lid_open":               a.LidOpen,
		"low_water":              a.LowWater,
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// MetricsCollectors returns the package collectors plus a shadow collector
// bound to client.
func MetricsCollectors(client *Client) []prometheus.Collector {
	collectors := []prometheus.Collector{
		connectedGauge,
		reconnects,
		backoffSeconds,
		messagesReceived,
		mergeFailures,
		listenerPanics,
		listenerDropped,
		refreshTotal,
	}
	if client != nil {
		collectors = append(collectors, NewShadowCollector(client))
	}
	return collectors
}
