package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/corkboard-app/corkboard/internal/metrics"
)

// Connect limit per IP. Reconnecting clients rehydrate via load_boxes, so a
// burst of reconnects is normal; sustained churn is not.
const (
	connectLimit  = 60
	connectWindow = time.Minute
)

// ConnectLimiter rate limits websocket connects per client IP using a Redis
// sliding window.
type ConnectLimiter struct {
	client       *redis.Client
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewConnectLimiter creates a connect limiter. Entries are single IPs or
// CIDRs exempt from limiting.
func NewConnectLimiter(client *redis.Client, logger zerolog.Logger, whitelist []string) *ConnectLimiter {
	cl := &ConnectLimiter{
		client:       client,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}

	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			cl.whitelist = append(cl.whitelist, ipNet)
		} else {
			cl.whitelistIPs[entry] = true
		}
	}

	if len(whitelist) > 0 {
		logger.Info().
			Int("ips", len(cl.whitelistIPs)).
			Int("cidrs", len(cl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return cl
}

// isWhitelisted checks if an IP is in the whitelist.
func (cl *ConnectLimiter) isWhitelisted(ipStr string) bool {
	if cl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range cl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// allow records one connect attempt and reports whether it is within the
// window. Returns remaining attempts and when the window resets.
func (cl *ConnectLimiter) allow(ctx context.Context, ip string) (bool, int, time.Time) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:connect:%s:%d", ip, now.Unix()/int64(connectWindow.Seconds()))

	pipe := cl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now.Add(-connectWindow).UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, connectWindow*2)
	_, _ = pipe.Exec(ctx)

	count := countCmd.Val()
	remaining := connectLimit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < connectLimit, remaining, now.Add(connectWindow)
}

// Middleware limits /ws connects; all other paths pass through untouched.
func (cl *ConnectLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		ip := RealIP(r)
		if cl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := cl.allow(r.Context(), ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(connectLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			metrics.RateLimitHits.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			cl.logger.Warn().
				Str("ip", ip).
				Msg("connect rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
