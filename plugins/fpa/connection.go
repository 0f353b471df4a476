package fpa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// deviceConnection keeps one streaming session open for one device,
// reconnecting with exponential backoff until the client is closed.
type deviceConnection struct {
	client   *Client
	deviceID string
	log      zerolog.Logger
	backoff  *backoff.ExponentialBackOff
}

func newDeviceConnection(c *Client, deviceID string) *deviceConnection {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffInitial
	bo.MaxInterval = c.cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	return &deviceConnection{
		client:   c,
		deviceID: deviceID,
		log:      c.log.With().Str("device_id", deviceID).Logger(),
		backoff:  bo,
	}
}

func (dc *deviceConnection) run(ctx context.Context) {
	if _, err := dc.client.registry.Find(dc.deviceID); err != nil {
		dc.log.Error().Err(err).Msg("not connecting unknown device")
		return
	}

	for {
		if dc.stopped(ctx) {
			dc.log.Debug().Msg("connection closed")
			return
		}

		established, err := dc.session(ctx)
		if dc.stopped(ctx) {
			dc.log.Debug().Msg("connection closed")
			return
		}

		delay := dc.backoff.NextBackOff()
		reconnects.WithLabelValues(dc.deviceID).Inc()
		backoffSeconds.WithLabelValues(dc.deviceID).Set(delay.Seconds())
		dc.log.Warn().Err(err).
			Bool("established", established).
			Dur("delay", delay).
			Msg("stream disconnected, reconnecting after delay")

		if err := dc.client.sleep(ctx, delay); err != nil {
			return
		}
		if dc.stopped(ctx) {
			return
		}
		if err := dc.client.Refresh(ctx); err != nil {
			dc.log.Warn().Err(err).Msg("token refresh before reconnect failed")
		}
	}
}

func (dc *deviceConnection) stopped(ctx context.Context) bool {
	return dc.client.Closed() || ctx.Err() != nil
}

// session runs one connect and stream cycle. established reports whether the
// dial succeeded; the returned error is why the session ended.
func (dc *deviceConnection) session(ctx context.Context) (established bool, err error) {
	token, err := dc.client.creds.Token()
	if err != nil {
		return false, &TransportError{Op: "connect", Err: err}
	}

	dc.log.Info().Msg("connecting")
	stream, err := dc.client.session.Dial(ctx, streamURL(dc.client.websocketsURL(), token.AccessToken, dc.deviceID))
	if err != nil {
		return false, &TransportError{Op: "connect", Err: err}
	}

	dc.backoff.Reset()
	backoffSeconds.WithLabelValues(dc.deviceID).Set(0)
	dc.setConnected(true)
	dc.log.Info().Msg("connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dc.readLoop(gctx, stream) })
	g.Go(func() error { return dc.heartbeat(gctx, stream) })
	g.Go(func() error {
		<-gctx.Done()
		_ = stream.Close()
		return nil
	})
	err = g.Wait()

	dc.setConnected(false)
	return true, err
}

func (dc *deviceConnection) setConnected(connected bool) {
	device, err := dc.client.registry.SetConnected(dc.deviceID, connected)
	if err != nil {
		dc.log.Error().Err(err).Msg("update connectivity")
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	connectedGauge.WithLabelValues(dc.deviceID).Set(value)
	dc.client.listeners.Notify(device)
}

// readLoop never returns nil so that the errgroup context is always
// cancelled when it ends.
func (dc *deviceConnection) readLoop(ctx context.Context, stream Stream) error {
	for {
		frame, err := stream.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Op: "receive", Err: err}
		}
		messagesReceived.WithLabelValues(subjectLabel(frame.Subject)).Inc()

		if frame.Subject != subjectShadowUpdate {
			dc.log.Info().Str("subject", frame.Subject).RawJSON("body", rawOrNull(frame.Body)).Msg("ignoring unknown subject")
			continue
		}
		if err := dc.applyShadowUpdate(ctx, frame); err != nil {
			return err
		}
	}
}

func (dc *deviceConnection) applyShadowUpdate(ctx context.Context, frame Frame) error {
	var patch map[string]any
	if err := decodeJSON(frame.Body, &patch); err != nil {
		return &TransportError{Op: "decode", Err: err}
	}
	if patch == nil {
		return &TransportError{Op: "decode", Err: errors.New("shadow-update without body")}
	}
	target, _ := patch["deviceId"].(string)
	if target == "" {
		return &TransportError{Op: "decode", Err: errors.New("shadow-update body missing deviceId")}
	}

	device, err := dc.client.registry.Find(target)
	if err != nil {
		dc.log.Warn().Err(err).Str("target", target).Msg("dropping shadow update for unknown device")
		return nil
	}
	if !device.HasDetails {
		if _, err := dc.client.DeviceDetails(ctx, target); err != nil {
			if !isMalformedShadow(err) {
				return fmt.Errorf("load details for %s: %w", target, err)
			}
			dc.log.Warn().Err(err).Str("target", target).Msg("details shadow malformed")
		}
	}

	device, err = dc.client.registry.ApplyShadowPatch(target, patch)
	if err != nil {
		if isMalformedShadow(err) {
			mergeFailures.WithLabelValues(target).Inc()
			dc.log.Warn().Err(err).Str("target", target).Msg("dropping malformed shadow update")
			return nil
		}
		dc.log.Warn().Err(err).Str("target", target).Msg("dropping shadow update")
		return nil
	}
	dc.client.listeners.Notify(device)
	return nil
}

func (dc *deviceConnection) heartbeat(ctx context.Context, stream Stream) error {
	ticker := time.NewTicker(dc.client.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			dc.log.Debug().Msg("ping")
			if err := stream.Ping(); err != nil {
				return &TransportError{Op: "ping", Err: err}
			}
		}
	}
}

func streamURL(base, token, deviceID string) string {
	return fmt.Sprintf("%s?Authorization=%s&deviceId=%s", base, url.QueryEscape(token), url.QueryEscape(deviceID))
}

func subjectLabel(subject string) string {
	if subject == subjectShadowUpdate {
		return subject
	}
	return "other"
}

func rawOrNull(body []byte) []byte {
	if len(body) == 0 {
		return []byte("null")
	}
	return body
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
