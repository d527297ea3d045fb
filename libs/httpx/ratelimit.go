package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits the current window.
// retryAfter is how long until the window resets when the request is refused.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimit throttles per caller: the authenticated subject when WithAuth ran first,
// otherwise the client address. Limiter errors let the request through when failOpen
// is set and answer 503 otherwise.
func RateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter, err := l.Allow(r.Context(), rateKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				writeLimitError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "try again shortly")
				return
			}
			if !allowed {
				secs := int(retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeLimitError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLimitError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func rateKey(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.Sub != "" {
		return "sub:" + claims.Sub
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// MemoryLimiter is a fixed-window limiter for a single instance.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*fixedWindow
	lastSweep time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, windows: map[string]*fixedWindow{}}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	win := m.windows[key]
	if win == nil || !now.Before(win.resetAt) {
		m.windows[key] = &fixedWindow{count: 1, resetAt: now.Add(m.window)}
		return true, 0, nil
	}
	if win.count >= m.limit {
		return false, win.resetAt.Sub(now), nil
	}
	win.count++
	return true, 0, nil
}

// sweep drops expired windows at most once per window so the map stays bounded.
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	m.lastSweep = now
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
