package middleware

import (
	"context"
	"net"
	"net/http"
)

// CountryLookup resolves an IP to an ISO country code.
type CountryLookup interface {
	CountryCode(ip string) (string, error)
}

const countryKey contextKey = "country"

// Country stores the caller's country in the request context for the access
// log. Lookup failures leave it empty. Must run after chi's RealIP.
func Country(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if lookup == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if code, err := lookup.CountryCode(host); err == nil && code != "" {
				r = r.WithContext(context.WithValue(r.Context(), countryKey, code))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(countryKey).(string); ok {
		return v
	}
	return ""
}
