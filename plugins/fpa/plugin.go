package fpa

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/joshp123/gofpa/internal/config"
	"github.com/joshp123/gofpa/internal/core"
	"github.com/joshp123/gofpa/internal/logging"
	"github.com/joshp123/gofpa/internal/rate"
	"github.com/joshp123/gofpa/internal/session"
)

// Plugin implements the gofpa plugin contract for FPA appliances.
type Plugin struct {
	client *Client
	bridge *MQTTBridge

	mu            sync.Mutex
	healthSub     *Subscription
	startErr      error
	healthMessage string
}

// NewPlugin builds the client from config, restores the session, connects
// the configured devices and starts the MQTT bridge when configured. Startup
// failures are reported through Health rather than returned.
func NewPlugin(ctx context.Context, cfg *config.Config) *Plugin {
	log := logging.WithComponent("fpa")

	fpaCfg, err := ConfigFromFile(cfg.FPA)
	if err != nil {
		return &Plugin{startErr: err}
	}
	store, err := session.Open(cfg.Session)
	if err != nil {
		return &Plugin{startErr: err}
	}

	client := NewClient(fpaCfg, WithLogger(log), WithStateSaver(store))
	p := &Plugin{client: client}

	refreshToken, err := session.BootstrapRefreshToken(ctx, store, cfg.Session.RefreshTokenFile)
	if err != nil {
		p.startErr = fmt.Errorf("restore session: %w", err)
		return p
	}
	if err := client.RefreshWithToken(ctx, refreshToken); err != nil {
		p.startErr = err
		return p
	}
	if err := client.ConnectAll(ctx); err != nil {
		log.Error().Err(err).Msg("connect devices")
		p.healthMessage = err.Error()
	}

	if cfg.MQTT != nil {
		bridge, err := NewMQTTBridge(client, cfg.MQTT, logging.WithComponent("fpa_mqtt"))
		if err == nil {
			err = bridge.Start()
		}
		if err != nil {
			log.Error().Err(err).Msg("mqtt bridge disabled")
			p.healthMessage = err.Error()
		} else {
			p.bridge = bridge
		}
	}
	return p
}

func (p *Plugin) ID() string {
	return "fpa"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "fpa",
		DisplayName: "Formula Pro Advanced",
		Version:     "0.1.0",
		Services:    []string{"grpc.health.v1.Health"},
	}
}

// RegisterGRPC is a no-op: device state is published through the health
// service only.
func (p *Plugin) RegisterGRPC(*grpc.Server) {}

func (p *Plugin) RegisterHealth(hs *health.Server) {
	if p.client == nil {
		return
	}
	sub := publishDeviceHealth(p.client, hs)
	p.mu.Lock()
	p.healthSub = &sub
	p.mu.Unlock()
}

func (p *Plugin) Collectors() []prometheus.Collector {
	collectors := MetricsCollectors(p.client)
	collectors = append(collectors, session.MetricsCollectors()...)
	return append(collectors, rate.MetricsCollectors()...)
}

// Health is ERROR when startup failed, DEGRADED while any selected device is
// not streaming and HEALTHY otherwise.
func (p *Plugin) Health() core.HealthStatus {
	if p.startErr != nil || p.client == nil {
		return core.HealthError
	}
	if p.client.Closed() {
		return core.HealthError
	}
	connected, total := p.streamingCounts()
	if connected < total {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (p *Plugin) HealthMessage() string {
	if p.startErr != nil {
		return p.startErr.Error()
	}
	if p.client == nil {
		return "client not configured"
	}
	connected, total := p.streamingCounts()
	msg := fmt.Sprintf("%d of %d devices streaming", connected, total)
	if p.healthMessage != "" {
		msg += "; " + p.healthMessage
	}
	return msg
}

func (p *Plugin) streamingCounts() (connected, total int) {
	for _, device := range p.client.Devices() {
		if !p.client.cfg.wantsDevice(device.DeviceID) {
			continue
		}
		total++
		if device.Connected {
			connected++
		}
	}
	return connected, total
}

// Close stops the bridge and the client.
func (p *Plugin) Close() error {
	if p.client == nil {
		return nil
	}
	if p.bridge != nil {
		p.bridge.Close()
	}
	p.mu.Lock()
	if p.healthSub != nil {
		p.client.RemoveListener(*p.healthSub)
		p.healthSub = nil
	}
	p.mu.Unlock()
	return p.client.Close()
}
