package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type window struct {
	start    time.Time
	requests int
}

// rateLimiter allows at most limit events per connection in each fixed window.
// Only the dispatcher goroutine touches it.
type rateLimiter struct {
	limit   int
	period  time.Duration
	windows map[uuid.UUID]*window
}

// parseRateLimit reads "<count>/<s|m|h>", e.g. "20/s".
func parseRateLimit(rule string) (int, time.Duration, error) {
	parts := strings.Split(rule, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", rule)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", parts[0])
	}

	var duration time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "s":
		duration = time.Second
	case "m":
		duration = time.Minute
	case "h":
		duration = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", parts[1])
	}
	return limit, duration, nil
}

// newRateLimiter returns nil for an empty rule, which disables limiting.
func newRateLimiter(rule string) (*rateLimiter, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, nil
	}
	limit, period, err := parseRateLimit(rule)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{limit: limit, period: period, windows: make(map[uuid.UUID]*window)}, nil
}

func (l *rateLimiter) Allow(connID uuid.UUID, now time.Time) bool {
	w, ok := l.windows[connID]
	if !ok || now.Sub(w.start) >= l.period {
		// First request in the window.
		l.windows[connID] = &window{start: now, requests: 1}
		return true
	}
	if w.requests < l.limit {
		w.requests++
		return true
	}
	return false
}

func (l *rateLimiter) Forget(connID uuid.UUID) {
	delete(l.windows, connID)
}
