package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// sweepAbove is the number of tracked clients after which expired windows
// are evicted on the next request.
const sweepAbove = 1024

type window struct {
	count   int
	resetAt time.Time
}

// RateLimit allows limit requests per client per fixed window. It guards the
// batch trigger so repeated clicks cannot pile work onto the generator.
// A non-positive limit disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		windows = make(map[string]*window)
	)
	// admit reports whether the client may proceed, and if not, how long
	// until its window resets.
	admit := func(key string) (bool, time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		t := now()
		if len(windows) > sweepAbove {
			for k, w := range windows {
				if !t.Before(w.resetAt) {
					delete(windows, k)
				}
			}
		}
		w, ok := windows[key]
		if !ok || !t.Before(w.resetAt) {
			w = &window{resetAt: t.Add(per)}
			windows[key] = w
		}
		if w.count >= limit {
			return false, w.resetAt.Sub(t)
		}
		w.count++
		return true, 0
	}

	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := admit(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many batch triggers, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey relies on chi's RealIP having already rewritten RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
