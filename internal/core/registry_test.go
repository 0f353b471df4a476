package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type stubPlugin struct {
	id            string
	manifestID    string
	name          string
	version       string
	services      []string
	health        HealthStatus
	healthMessage string
	collectors    []prometheus.Collector
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	id := s.id
	if s.manifestID != "" {
		id = s.manifestID
	}
	return Manifest{
		PluginID:    id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) RegisterGRPC(*grpc.Server) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return s.collectors }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:       id,
		name:     "Demo",
		version:  "0.1.0",
		services: []string{"demo.v1.DemoService"},
		health:   HealthHealthy,
	}
}

func TestRegistrySummaries(t *testing.T) {
	registry := NewRegistry([]Plugin{newStubPlugin("demo")})

	summaries := registry.Summaries()
	require.Len(t, summaries, 1)

	got := summaries[0]
	assert.Equal(t, "demo", got.PluginID)
	assert.Equal(t, "Demo", got.DisplayName)
	assert.Equal(t, "0.1.0", got.Version)
	assert.Equal(t, string(HealthHealthy), got.Status)
}

func TestRegistryDescribe(t *testing.T) {
	degraded := newStubPlugin("demo")
	degraded.health = HealthDegraded
	degraded.healthMessage = "2 of 3 devices streaming"
	registry := NewRegistry([]Plugin{degraded})

	got, ok := registry.Describe("demo")
	require.True(t, ok)
	assert.Equal(t, string(HealthDegraded), got.Status)
	assert.Equal(t, "2 of 3 devices streaming", got.HealthMessage)
	assert.Equal(t, []string{"demo.v1.DemoService"}, got.Services)

	_, ok = registry.Describe("missing")
	assert.False(t, ok)
}

func TestValidatePlugins(t *testing.T) {
	require.NoError(t, ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("fpa")}))

	err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")})
	assert.ErrorContains(t, err, "duplicate plugin id")

	err = ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")})
	assert.ErrorContains(t, err, "does not match")

	mismatch := newStubPlugin("demo")
	mismatch.manifestID = "other"
	err = ValidatePlugins([]Plugin{mismatch})
	assert.ErrorContains(t, err, "plugin id mismatch")
}

func TestMetricsRegistryGathersPluginCollectors(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "demo_value", Help: "demo"})
	gauge.Set(3)
	plugin := newStubPlugin("demo")
	plugin.collectors = []prometheus.Collector{gauge}

	families, err := MetricsRegistry([]Plugin{plugin}).Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "demo_value", families[0].GetName())
}
