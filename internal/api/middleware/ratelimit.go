package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/metrics"
	"github.com/courier-im/courier/internal/store"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int64
	Window   time.Duration
}

// RateLimiter implements fixed-window rate limiting backed by Redis counters.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
	limits map[string]RateLimit
}

// NewRateLimiter creates a new rate limiter with per-route limits.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /register":    {10, time.Hour},
			"POST /login":       {20, time.Minute},
			"GET /users":        {60, time.Minute},
			"POST /messages":    {60, time.Minute},
			"GET /messages/":    {120, time.Minute},
			"DELETE /messages/": {10, time.Minute},
		},
	}
}

// Middleware enforces the configured limits, keyed by authenticated user
// where available and caller IP otherwise.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint, limit, ok := rl.matchLimit(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		caller := callerKey(r)
		count, err := rl.redis.IncrementRateLimit(r.Context(), endpoint, caller, limit.Window)
		if err != nil {
			// Fail open: a Redis outage must not take down the API.
			rl.logger.Warn().Err(err).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		if count > limit.Requests {
			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matchLimit finds the limit for a request, longest pattern first.
func (rl *RateLimiter) matchLimit(r *http.Request) (string, RateLimit, bool) {
	exact := r.Method + " " + r.URL.Path
	if limit, ok := rl.limits[exact]; ok {
		return exact, limit, true
	}
	for pattern, limit := range rl.limits {
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(exact, pattern) {
			return pattern, limit, true
		}
	}
	return "", RateLimit{}, false
}

// callerKey keys the counter by bearer token when present, IP otherwise.
func callerKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return "tok:" + token
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "ip:" + host
}
