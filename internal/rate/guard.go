package rate

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Guard enforces a provider's request budget.
type Guard struct {
	decl    Declaration
	limiter *rate.Limiter

	mu       sync.Mutex
	cooldown time.Time
	now      func() time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: NewGuard(decl)}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	limit := rate.Inf
	burst := decl.burst
	if decl.perMinute > 0 {
		limit = rate.Limit(float64(decl.perMinute) / 60)
		if burst <= 0 {
			burst = max(1, decl.perMinute/6)
		}
	}
	return &Guard{
		decl:    decl,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.guard.checkCooldown(); err != nil {
		throttled.WithLabelValues(rt.guard.decl.provider, "cooldown").Inc()
		return nil, err
	}
	if err := rt.guard.limiter.Wait(req.Context()); err != nil {
		throttled.WithLabelValues(rt.guard.decl.provider, "budget").Inc()
		return nil, err
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) checkCooldown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cooldown.IsZero() && g.now().Before(g.cooldown) {
		return RateLimitError{Provider: g.decl.provider, Reason: "cooldown", RetryAt: g.cooldown}
	}
	return nil
}

// RecordResponse updates the cooldown from a Retry-After header on 429 or
// 503 responses.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	lastStatusGauge.WithLabelValues(g.decl.provider).Set(float64(status))
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}

	seconds := retryAfterSeconds(headers.Get(g.decl.retryAfter))
	if seconds <= 0 {
		return
	}
	g.mu.Lock()
	g.cooldown = g.now().Add(time.Duration(seconds) * time.Second)
	g.mu.Unlock()
	retryAfterGauge.WithLabelValues(g.decl.provider).Set(float64(seconds))
}

func retryAfterSeconds(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if at, err := http.ParseTime(value); err == nil {
		return int(time.Until(at).Seconds())
	}
	return 0
}
