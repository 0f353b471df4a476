package rate

import (
	"fmt"
	"time"
)

// RateLimitError is returned when a call is refused during a cooldown.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Declaration defines a provider's request budget.
type Declaration struct {
	provider   string
	perMinute  int
	burst      int
	retryAfter string
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfter: "Retry-After"}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPerMinute sets the sustained request rate. Zero disables the
// token bucket; cooldowns still apply.
func (d Declaration) MaxRequestsPerMinute(limit int) Declaration {
	d.perMinute = limit
	return d
}

func (d Declaration) Burst(burst int) Declaration {
	d.burst = burst
	return d
}

// ReadRetryAfter overrides the header carrying cooldown seconds.
func (d Declaration) ReadRetryAfter(header string) Declaration {
	d.retryAfter = header
	return d
}
