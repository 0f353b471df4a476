package fpa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joshp123/gofpa/internal/config"
)

const mqttTimeout = 10 * time.Second

// MQTTBridge publishes device snapshots to an MQTT broker and accepts
// start-bottle commands.
type MQTTBridge struct {
	client *Client
	mqtt   mqtt.Client
	prefix string
	log    zerolog.Logger
	sub    Subscription
}

func NewMQTTBridge(client *Client, cfg *config.MQTTConfig, log zerolog.Logger) (*MQTTBridge, error) {
	if cfg == nil || strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = config.DefaultMQTTTopicPrefix
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gofpa-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	if cfg.PasswordFile != "" {
		data, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.SetPassword(strings.TrimSpace(string(data)))
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetWill(availabilityTopic(prefix), "offline", 1, true)

	b := &MQTTBridge{client: client, prefix: prefix, log: log}
	opts.OnConnect = func(c mqtt.Client) {
		b.onConnect(c)
	}
	b.mqtt = mqtt.NewClient(opts)
	return b, nil
}

// Start connects to the broker and begins publishing device changes.
func (b *MQTTBridge) Start() error {
	token := b.mqtt.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		b.log.Warn().Msg("mqtt connect pending, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	b.sub = b.client.AddListener(b.publishDevice)
	for _, device := range b.client.Devices() {
		b.publishDevice(device)
	}
	return nil
}

func (b *MQTTBridge) Close() {
	b.client.RemoveListener(b.sub)
	if b.mqtt.IsConnected() {
		b.mqtt.Publish(availabilityTopic(b.prefix), 1, true, "offline").WaitTimeout(mqttTimeout)
	}
	b.mqtt.Disconnect(250)
}

func (b *MQTTBridge) onConnect(c mqtt.Client) {
	c.Publish(availabilityTopic(b.prefix), 1, true, "online")
	topic := b.prefix + "/+/start"
	if token := c.Subscribe(topic, 1, b.handleStart); token.Wait() && token.Error() != nil {
		b.log.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
	}
}

func (b *MQTTBridge) publishDevice(device Device) {
	payload, err := json.Marshal(newDevicePayload(device))
	if err != nil {
		b.log.Error().Err(err).Str("device_id", device.DeviceID).Msg("encode mqtt state")
		return
	}
	topic := stateTopic(b.prefix, device.DeviceID)
	token := b.mqtt.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(mqttTimeout) {
		b.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
	}
}

func (b *MQTTBridge) handleStart(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := deviceFromStartTopic(b.prefix, msg.Topic())
	if !ok {
		return
	}
	log := b.log.With().Str("device_id", deviceID).Logger()
	if _, err := b.client.Device(deviceID); err != nil {
		log.Warn().Err(err).Msg("start command for unknown device")
		return
	}
	bottleID, err := parseStartCommand(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Msg("invalid start command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := b.client.StartBottle(ctx, bottleID); err != nil {
		log.Error().Err(err).Int("bottle_id", bottleID).Msg("start bottle failed")
		return
	}
	log.Info().Int("bottle_id", bottleID).Msg("bottle started")
}

func stateTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/state"
}

func availabilityTopic(prefix string) string {
	return prefix + "/status"
}

func deviceFromStartTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	deviceID, ok := strings.CutSuffix(rest, "/start")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}

// parseStartCommand accepts a bare bottle id or {"bottle_id": n}.
func parseStartCommand(payload []byte) (int, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, errors.New("empty payload")
	}
	if id, err := strconv.Atoi(text); err == nil {
		return id, nil
	}
	var cmd struct {
		BottleID *int `json:"bottle_id"`
	}
	if err := json.Unmarshal([]byte(text), &cmd); err != nil {
		return 0, fmt.Errorf("decode start command: %w", err)
	}
	if cmd.BottleID == nil {
		return 0, errors.New("start command missing bottle_id")
	}
	return *cmd.BottleID, nil
}

type devicePayload struct {
	DeviceID   string             `json:"device_id"`
	Title      string             `json:"title"`
	Connected  bool               `json:"connected"`
	HasDetails bool               `json:"has_details"`
	Shadow     *shadowPayload     `json:"shadow,omitempty"`
	Bottles    []bottlePayload    `json:"bottles,omitempty"`
	LastBottle *BottleCreationLog `json:"last_bottle,omitempty"`
}

type shadowPayload struct {
	Connected    bool            `json:"connected"`
	Temperature  int             `json:"temperature"`
	Powder       int             `json:"powder"`
	Volume       int             `json:"volume"`
	VolumeUnit   string          `json:"volume_unit"`
	MakingBottle bool            `json:"making_bottle"`
	WaterOnly    bool            `json:"water_only"`
	Alerts       map[string]bool `json:"alerts"`
}

type bottlePayload struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Volume  int    `json:"volume"`
	Unit    string `json:"volume_unit"`
	Formula string `json:"formula,omitempty"`
}

func newDevicePayload(device Device) devicePayload {
	out := devicePayload{
		DeviceID:   device.DeviceID,
		Title:      device.Title,
		Connected:  device.Connected,
		HasDetails: device.HasDetails,
	}
	if s := device.Shadow; s != nil {
		out.Shadow = &shadowPayload{
			Connected:    s.Connected,
			Temperature:  s.Temperature,
			Powder:       s.Powder,
			Volume:       s.Volume,
			VolumeUnit:   s.VolumeUnit,
			MakingBottle: s.MakingBottle,
			WaterOnly:    s.WaterOnly,
			Alerts:       alertFlags(s.Alerts),
		}
	}
	for _, bottle := range device.Bottles {
		bp := bottlePayload{ID: bottle.ID, Title: bottle.Title, Volume: bottle.Volume, Unit: bottle.VolumeUnit}
		if bottle.Formula != nil {
			bp.Formula = bottle.Formula.String()
		}
		out.Bottles = append(out.Bottles, bp)
	}
	if n := len(device.BottleCreationLog); n > 0 {
		last := device.BottleCreationLog[n-1]
		out.LastBottle = &last
	}
	return out
}
