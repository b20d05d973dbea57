package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps ingestion calls per client with a sliding window kept in a
// Redis sorted set (one member per admitted or attempted request).
type RateLimiter struct {
	client  redis.Cmdable
	scope   string
	limit   int64
	window  time.Duration
	nowFunc func() time.Time
}

// NewRateLimiter allows maxReqs per windowSec seconds for each client address.
// scope separates the counters of independently limited route groups.
func NewRateLimiter(client redis.Cmdable, scope string, maxReqs, windowSec int) *RateLimiter {
	return &RateLimiter{
		client:  client,
		scope:   scope,
		limit:   int64(maxReqs),
		window:  time.Duration(windowSec) * time.Second,
		nowFunc: time.Now,
	}
}

func (rl *RateLimiter) key(client string) string {
	return "ratelimit:" + rl.scope + ":" + client
}

// Middleware enforces the limit. Redis failures let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		seen, err := rl.record(r.Context(), rl.key(ip))
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err, "scope", rl.scope, "client", ip)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.limit-seen-1, 0)
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if seen >= rl.limit {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// record trims the window, adds this request and returns how many requests were
// already inside the window.
func (rl *RateLimiter) record(ctx context.Context, key string) (int64, error) {
	now := rl.nowFunc()
	cutoff := strconv.FormatInt(now.Add(-rl.window).UnixMilli(), 10)

	var seen *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		seen = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.Expire(ctx, key, rl.window+time.Second)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seen.Val(), nil
}

// clientIP prefers the first X-Forwarded-For hop set by the ingress proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
