package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor pairs a token bucket with its last activity, so idle buckets
// can be pruned.
type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns middleware enforcing perMinute requests per minute
// per client address on the wrapped route. Exceeding the budget yields a
// 429 with a Retry-After hint; the budget is per route, not global.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	limit := rate.Every(time.Minute / time.Duration(perMinute))

	allow := func(key string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		v, ok := visitors[key]
		if !ok {
			v = &visitor{lim: rate.NewLimiter(limit, perMinute)}
			visitors[key] = v
		}
		v.lastSeen = now

		// Prune buckets idle for more than three minutes.
		if len(visitors) > 1024 {
			for k, other := range visitors {
				if now.Sub(other.lastSeen) > 3*time.Minute {
					delete(visitors, k)
				}
			}
		}

		return v.lim.Allow()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			}

			if !allow(key) {
				w.Header().Set("Retry-After", "60")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
