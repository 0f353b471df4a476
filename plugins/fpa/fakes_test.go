package fpa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/gofpa/internal/session"
)

const detailsJSON = `{
	"bottles":[{"id":7,"title":"Night","temperature":37,"powder":3,"volume":150,"volumeUnit":"ml","waterOnly":false,
		"formula":{"territory":"US","brand":"Similac","type":"Pro-Advance","stage":"1","setting":3,"model":"a","density":"0.1"}}],
	"bottleCreationLog":[{"id":1,"volume":150,"volumeUnit":"ml","temperature":37,"bottleId":7,"powderSetting":3,
		"waterOnly":false,"completionTimestamp":"2024-01-01T03:00:00Z"}],
	"shadow":{"state":{"reported":{"connected":true,
		"settings":{"temperature":37,"powder":3,"volume":150,"volumeUnit":"ml","makingBottle":false,"waterOnly":false},
		"hardware":{"alerts":{"lowWater":false}}}}}}`

const meJSON = `{"email":"parent@example.com","firstName":"Sam","lastName":"Doe","devices":[
	{"id":"1","deviceId":"dev1","title":"Kitchen","wifiMacAddress":"aa","bleMacAddress":"bb"},
	{"id":"2","deviceId":"dev2","title":"Nursery","wifiMacAddress":"cc","bleMacAddress":"dd"}]}`

const tokensJSON = `{"token":"access-2","refreshToken":"refresh-2"}`

var errDialRefused = errors.New("dial refused")

type fakeResponse struct {
	status int
	body   string
}

type fakeRequest struct {
	method string
	path   string
	auth   string
	body   any
}

// fakeSession answers API calls from a route table and hands out scripted
// streams. Dial fails once the script is exhausted.
type fakeSession struct {
	mu       sync.Mutex
	routes   map[string]fakeResponse
	requests []fakeRequest
	dials    []string
	script   []*fakeStream
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{routes: map[string]fakeResponse{
		"GET /authentication/me":       {http.StatusOK, meJSON},
		"GET /devices/dev1/details":    {http.StatusOK, detailsJSON},
		"GET /devices/dev2/details":    {http.StatusOK, detailsJSON},
		"POST /authentication/refresh": {http.StatusOK, tokensJSON},
	}}
}

func (f *fakeSession) route(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = fakeResponse{status, body}
}

func (f *fakeSession) queue(streams ...*fakeStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, streams...)
}

func (f *fakeSession) Do(_ context.Context, method, rawURL string, header http.Header, body any) (int, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, fakeRequest{method: method, path: u.Path, auth: header.Get("Authorization"), body: body})
	resp, ok := f.routes[method+" "+u.Path]
	if !ok {
		return http.StatusNotFound, []byte(`{"message":"no route"}`), nil
	}
	return resp.status, []byte(resp.body), nil
}

func (f *fakeSession) Dial(_ context.Context, rawURL string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, rawURL)
	if len(f.script) == 0 {
		return nil, errDialRefused
	}
	next := f.script[0]
	f.script = f.script[1:]
	if next == nil {
		return nil, errDialRefused
	}
	return next, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

func (f *fakeSession) requestsTo(path string) []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeRequest
	for _, r := range f.requests {
		if r.path == path {
			out = append(out, r)
		}
	}
	return out
}

// fakeStream delivers frames pushed by the test. Closing the frames channel
// ends the session with io.EOF.
type fakeStream struct {
	frames  chan Frame
	done    chan struct{}
	once    sync.Once
	pings   atomic.Int32
	pingErr error
}

func newFakeStream(frames ...Frame) *fakeStream {
	s := &fakeStream{frames: make(chan Frame, 16), done: make(chan struct{})}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

// droppedStream connects and ends immediately.
func droppedStream() *fakeStream {
	s := newFakeStream()
	close(s.frames)
	return s
}

func (s *fakeStream) Receive() (Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-s.done:
		return Frame{}, errors.New("use of closed connection")
	}
}

func (s *fakeStream) Ping() error {
	s.pings.Add(1)
	return s.pingErr
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func frame(t *testing.T, subject string, body any) Frame {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return Frame{Subject: subject, Body: raw}
}

// sleepRecorder replaces Client.sleep. It records every backoff delay and
// either returns at once or, once limit delays are seen, parks until the
// client is closed.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	parked chan struct{}
	once   sync.Once
}

func newSleepRecorder(limit int) *sleepRecorder {
	return &sleepRecorder{limit: limit, parked: make(chan struct{})}
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()

	if n < r.limit {
		return nil
	}
	r.once.Do(func() { close(r.parked) })
	<-ctx.Done()
	return ctx.Err()
}

func (r *sleepRecorder) wait(t *testing.T) []time.Duration {
	t.Helper()
	select {
	case <-r.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect loop never reached the expected number of sleeps")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

func newTestClient(t *testing.T, fs *fakeSession, cfg Config) *Client {
	t.Helper()
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.test"
	}
	if cfg.WebsocketsURL == "" {
		cfg.WebsocketsURL = "wss://ws.test/stream"
	}
	creds := session.NewCredentials()
	creds.Set("access-1", "refresh-1")
	c := NewClient(cfg, WithSession(fs), WithCredentials(creds))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recordEvents subscribes a listener that keeps every device event.
func recordEvents(c *Client) *eventLog {
	log := &eventLog{}
	c.AddListener(func(d Device) {
		log.mu.Lock()
		log.events = append(log.events, d)
		log.mu.Unlock()
	})
	return log
}

type eventLog struct {
	mu     sync.Mutex
	events []Device
}

func (l *eventLog) all() []Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Device(nil), l.events...)
}

func (l *eventLog) find(match func(Device) bool) (Device, bool) {
	for _, d := range l.all() {
		if match(d) {
			return d, true
		}
	}
	return Device{}, false
}
