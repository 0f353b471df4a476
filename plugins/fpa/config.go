package fpa

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/gofpa/internal/config"
)

const (
	defaultInfoURL        = config.DefaultInfoURL
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 600 * time.Second
	defaultPingInterval   = 600 * time.Second
)

// Config holds the FPA client settings.
type Config struct {
	InfoURL       string
	APIURL        string
	WebsocketsURL string

	// Devices lists the device ids to stream; empty means every device.
	Devices []string

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	PingInterval   time.Duration

	RateLimitPerMinute int
}

// ConfigFromFile converts the fpa section of the daemon config.
func ConfigFromFile(cfg *config.FPAConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("fpa config is required")
	}
	out := Config{
		InfoURL:            strings.TrimSpace(cfg.InfoURL),
		APIURL:             strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		WebsocketsURL:      strings.TrimSpace(cfg.WebsocketsURL),
		Devices:            append([]string(nil), cfg.Devices...),
		BackoffInitial:     time.Duration(cfg.BackoffInitialSeconds) * time.Second,
		BackoffMax:         time.Duration(cfg.BackoffMaxSeconds) * time.Second,
		PingInterval:       time.Duration(cfg.PingIntervalSeconds) * time.Second,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	out.applyDefaults()
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.InfoURL == "" {
		c.InfoURL = defaultInfoURL
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

func (c Config) wantsDevice(deviceID string) bool {
	if len(c.Devices) == 0 {
		return true
	}
	for _, id := range c.Devices {
		if id == deviceID {
			return true
		}
	}
	return false
}
