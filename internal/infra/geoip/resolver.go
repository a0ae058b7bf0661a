// Package geoip resolves caller addresses to ISO country codes for the
// access log. Lookups are best effort and never block a request on failure.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned by lookups on a nil or closed Resolver.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// countryDB is the part of *geoip2.Reader the resolver uses.
type countryDB interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Resolver maps IPs to countries with a MaxMind GeoLite2/GeoIP2 database.
type Resolver struct {
	db countryDB
}

// Open loads the database at path. An empty path means geolocation is off
// and yields a nil *Resolver with no error.
func Open(path string) (*Resolver, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Resolver{db: reader}, nil
}

// CountryCode returns the ISO code for ip. Loopback, private and link-local
// addresses resolve to "" without touching the database.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.db == nil {
		return "", ErrUnavailable
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return "", nil
	}
	record, err := r.db.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup %s: %w", parsed, err)
	}
	if record == nil {
		return "", nil
	}
	return record.Country.IsoCode, nil
}

func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
