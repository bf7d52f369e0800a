package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthmesh/healthmesh/internal/platform/auth"
)

// RateLimitConfig holds token-bucket settings applied per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig is the fallback when configuration supplies no
// usable rate.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100}
}

const (
	limiterIdleTTL       = 5 * time.Minute
	limiterSweepInterval = time.Minute
)

// limiterEntry is one caller's bucket. lastSeen lets idle entries be dropped
// so the map does not grow with every address that ever probed the API.
type limiterEntry struct {
	tokens   float64
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	cfg       RateLimitConfig
	nextSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		entries:   make(map[string]*limiterEntry),
		cfg:       cfg,
		nextSweep: time.Now().Add(limiterSweepInterval),
	}
}

// allow refills and consumes one token for key. When the bucket is empty it
// returns false with the whole seconds to wait before the next token.
func (s *limiterStore) allow(key string, now time.Time) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.nextSweep) {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.entries, k)
			}
		}
		s.nextSweep = now.Add(limiterSweepInterval)
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{tokens: float64(s.cfg.BurstSize), lastSeen: now}
		s.entries[key] = e
	} else {
		e.tokens += now.Sub(e.lastSeen).Seconds() * s.cfg.RequestsPerSecond
		if e.tokens > float64(s.cfg.BurstSize) {
			e.tokens = float64(s.cfg.BurstSize)
		}
		e.lastSeen = now
	}

	if e.tokens >= 1 {
		e.tokens--
		return true, 0
	}
	if s.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-e.tokens)/s.cfg.RequestsPerSecond) + 1
}

// limitKey buckets requests per tenant and caller so one busy clinic cannot
// starve another. Unauthenticated probes fall back to the source address.
func limitKey(c echo.Context) string {
	key := c.RealIP()
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		key = uid
	}
	if tid, _ := c.Get("tenant_id").(string); tid != "" {
		key = tid + ":" + key
	}
	return key
}

// RateLimit applies a per-caller token bucket to the routes it wraps.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64))

			ok, retryAfter := store.allow(limitKey(c), time.Now())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
