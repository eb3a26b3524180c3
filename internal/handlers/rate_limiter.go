package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/httpx"
)

// windowLimiter is a fixed-window counter keyed by actor.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limiterWindow
}

type limiterWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) *windowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]limiterWindow),
	}
}

// Allow counts one attempt for key and reports whether it fits the window.
func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.reset) {
		l.windows[key] = limiterWindow{count: 1, reset: now.Add(l.window)}
		l.evictExpiredLocked(now)
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) evictExpiredLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.reset) {
			delete(l.windows, key)
		}
	}
}

// Middleware rejects requests with 429 once the actor exhausts its window.
func (l *windowLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if actor, ok := auth.ActorFromContext(r.Context()); ok {
			key = actor.ID
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many voucher submissions", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
