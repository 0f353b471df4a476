package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/gofpa/internal/logging"
)

const (
	SchemaVersion                = 1
	DefaultPath                  = "/etc/gofpa/config.yaml"
	DefaultGRPCAddr              = "0.0.0.0:9000"
	DefaultHTTPAddr              = "0.0.0.0:8080"
	DefaultStatePath             = "/var/lib/gofpa/session.json"
	DefaultBlobPrefix            = "gofpa/session"
	DefaultInfoURL               = "https://info.babybrezzacloud.com"
	DefaultBackoffInitialSeconds = 1
	DefaultBackoffMaxSeconds     = 600
	DefaultPingIntervalSeconds   = 600
	DefaultRateLimitPerMinute    = 60
	DefaultMQTTTopicPrefix       = "gofpa"
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Core          *CoreConfig    `yaml:"core"`
	Log           logging.Config `yaml:"log"`
	Session       *SessionConfig `yaml:"session"`
	FPA           *FPAConfig     `yaml:"fpa"`
	MQTT          *MQTTConfig    `yaml:"mqtt"`
}

type CoreConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// SessionConfig locates the persisted refresh token.
type SessionConfig struct {
	StatePath        string      `yaml:"state_path"`
	RefreshTokenFile string      `yaml:"refresh_token_file"`
	Blob             *BlobConfig `yaml:"blob"`
}

// BlobConfig mirrors session state to S3-compatible object storage.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

type FPAConfig struct {
	InfoURL               string   `yaml:"info_url"`
	APIURL                string   `yaml:"api_url"`
	WebsocketsURL         string   `yaml:"websockets_url"`
	Devices               []string `yaml:"devices"`
	BackoffInitialSeconds int      `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds     int      `yaml:"backoff_max_seconds"`
	PingIntervalSeconds   int      `yaml:"ping_interval_seconds"`
	RateLimitPerMinute    int      `yaml:"rate_limit_per_minute"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}

	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	if cfg.Session.StatePath == "" {
		cfg.Session.StatePath = DefaultStatePath
	}
	if cfg.Session.Blob != nil && cfg.Session.Blob.Prefix == "" {
		cfg.Session.Blob.Prefix = DefaultBlobPrefix
	}

	if cfg.FPA == nil {
		cfg.FPA = &FPAConfig{}
	}
	if cfg.FPA.InfoURL == "" {
		cfg.FPA.InfoURL = DefaultInfoURL
	}
	if cfg.FPA.BackoffInitialSeconds == 0 {
		cfg.FPA.BackoffInitialSeconds = DefaultBackoffInitialSeconds
	}
	if cfg.FPA.BackoffMaxSeconds == 0 {
		cfg.FPA.BackoffMaxSeconds = DefaultBackoffMaxSeconds
	}
	if cfg.FPA.PingIntervalSeconds == 0 {
		cfg.FPA.PingIntervalSeconds = DefaultPingIntervalSeconds
	}
	if cfg.FPA.RateLimitPerMinute == 0 {
		cfg.FPA.RateLimitPerMinute = DefaultRateLimitPerMinute
	}

	if cfg.MQTT != nil && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Session == nil {
		return fmt.Errorf("session config is required")
	}
	if cfg.Session.StatePath == "" {
		return fmt.Errorf("session.state_path is required")
	}
	if blob := cfg.Session.Blob; blob != nil {
		if blob.Endpoint == "" {
			return fmt.Errorf("session.blob.endpoint is required")
		}
		if blob.Bucket == "" {
			return fmt.Errorf("session.blob.bucket is required")
		}
		if blob.AccessKeyFile == "" {
			return fmt.Errorf("session.blob.access_key_file is required")
		}
		if blob.SecretKeyFile == "" {
			return fmt.Errorf("session.blob.secret_key_file is required")
		}
	}

	if cfg.FPA == nil {
		return fmt.Errorf("fpa config is required")
	}
	if (cfg.FPA.APIURL == "") != (cfg.FPA.WebsocketsURL == "") {
		return fmt.Errorf("fpa.api_url and fpa.websockets_url must be set together")
	}
	if cfg.FPA.WebsocketsURL != "" {
		u, err := url.Parse(cfg.FPA.WebsocketsURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("fpa.websockets_url must be a ws:// or wss:// url")
		}
	}
	if cfg.FPA.BackoffInitialSeconds < 0 || cfg.FPA.BackoffMaxSeconds < 0 {
		return fmt.Errorf("fpa backoff seconds must be positive")
	}
	if cfg.FPA.BackoffMaxSeconds < cfg.FPA.BackoffInitialSeconds {
		return fmt.Errorf("fpa.backoff_max_seconds must be >= backoff_initial_seconds")
	}
	if cfg.FPA.PingIntervalSeconds < 0 {
		return fmt.Errorf("fpa.ping_interval_seconds must be positive")
	}
	for _, id := range cfg.FPA.Devices {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("fpa.devices contains an empty id")
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	return nil
}
