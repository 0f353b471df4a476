package fpa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshp123/gofpa/internal/rate"
)

// Session issues API requests and opens streaming sessions. It is shared by
// every device connection of a Client.
type Session interface {
	Do(ctx context.Context, method, url string, header http.Header, body any) (int, []byte, error)
	Dial(ctx context.Context, url string) (Stream, error)
	Close() error
}

// Stream is one open streaming session.
type Stream interface {
	// Receive blocks for the next inbound frame.
	Receive() (Frame, error)
	Ping() error
	Close() error
}

// Frame is one inbound message on a stream.
type Frame struct {
	Subject string
	Body    json.RawMessage
}

const (
	requestTimeout = 15 * time.Second
	pingWriteWait  = 10 * time.Second
)

type httpSession struct {
	client *http.Client
	dialer *websocket.Dialer
}

// NewHTTPSession returns the default Session: a rate guarded HTTP client and
// a websocket dialer. perMinute <= 0 disables the request budget.
func NewHTTPSession(perMinute int) Session {
	decl := rate.Provider("fpa").
		MaxRequestsPerMinute(perMinute).
		ReadRetryAfter("Retry-After")
	return &httpSession{
		client: rate.WrapHTTP(decl, &http.Client{Timeout: requestTimeout}),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: requestTimeout,
		},
	}
}

func (s *httpSession) Do(ctx context.Context, method, url string, header http.Header, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (s *httpSession) Dial(ctx context.Context, url string) (Stream, error) {
	conn, resp, err := s.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Receive() (Frame, error) {
	var env envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return Frame{}, err
	}
	return Frame{Subject: env.Subject, Body: env.Body}, nil
}

func (s *wsStream) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
