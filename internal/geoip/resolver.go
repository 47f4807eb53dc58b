// Package geoip resolves client IPs to locations and anonymity flags using
// MaxMind databases, with a bounded TTL cache in front of the readers.
package geoip

import (
	"context"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"

	"github.com/japperJ/geogate/internal/logger"
)

// Location is the IP-derived geolocation. HasCoords distinguishes a real
// (0, 0) coordinate from an absent one.
type Location struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Timezone    string  `json:"timezone"`
	PostalCode  string  `json:"postal_code"`
	HasCoords   bool    `json:"has_coords"`
}

// Flags marks an IP as belonging to an anonymization network. All flags
// default to false when the anonymity database is unavailable; this signal
// fails open.
type Flags struct {
	VPN     bool `json:"is_vpn"`
	Proxy   bool `json:"is_proxy"`
	Hosting bool `json:"is_hosting"`
	Tor     bool `json:"is_tor"`
}

// Any reports whether at least one anonymity flag is set.
func (f Flags) Any() bool {
	return f.VPN || f.Proxy || f.Hosting || f.Tor
}

// Resolver looks up location and anonymity data for an IP. Implementations
// must degrade gracefully: a failed lookup returns (nil, err) and zero Flags,
// never panics.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
	Anonymous(ctx context.Context, ip string) Flags
	Available() bool
}

type cacheEntry struct {
	loc     *Location
	flags   Flags
	expires time.Time
}

// MaxMindResolver resolves IPs against local MaxMind database files. Both
// databases are optional; a missing city database makes the resolver report
// unavailable, a missing anonymity database zeroes the flags.
type MaxMindResolver struct {
	city *geoip2.Reader
	anon *geoip2.Reader

	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

// Options tunes the resolver cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewMaxMindResolver opens the database files at the given paths. Either path
// may be empty or unreadable; the corresponding signal degrades instead of
// failing construction, so a missing database never blocks startup.
func NewMaxMindResolver(cityPath, anonPath string, opts Options) *MaxMindResolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}

	r := &MaxMindResolver{ttl: opts.CacheTTL}
	r.cache, _ = lru.New[string, cacheEntry](opts.CacheSize)

	if cityPath != "" {
		city, err := geoip2.Open(cityPath)
		if err != nil {
			logger.WithFields(map[string]interface{}{"path": cityPath, "error": err.Error()}).
				Warn("city database unavailable, geo lookups disabled")
		} else {
			r.city = city
		}
	}
	if anonPath != "" {
		anon, err := geoip2.Open(anonPath)
		if err != nil {
			logger.WithFields(map[string]interface{}{"path": anonPath, "error": err.Error()}).
				Warn("anonymous-IP database unavailable, VPN detection disabled")
		} else {
			r.anon = anon
		}
	}

	return r
}

// Available reports whether location lookups can succeed.
func (r *MaxMindResolver) Available() bool {
	return r.city != nil
}

// Lookup resolves an IP to a location. Results are cached for the configured
// TTL to keep per-request lookups cheap.
func (r *MaxMindResolver) Lookup(ctx context.Context, ip string) (*Location, error) {
	if r.city == nil {
		return nil, nil
	}
	if entry, ok := r.cached(ip); ok {
		return entry.loc, nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}

	record, err := r.city.City(parsed)
	if err != nil {
		return nil, err
	}

	loc := &Location{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Lat:         record.Location.Latitude,
		Lng:         record.Location.Longitude,
		Timezone:    record.Location.TimeZone,
		PostalCode:  record.Postal.Code,
	}
	loc.HasCoords = record.Location.Latitude != 0 || record.Location.Longitude != 0

	r.store(ip, loc, r.anonymous(parsed))
	return loc, nil
}

// Anonymous returns the anonymity flags for an IP. Flags are zero when the
// anonymity database is missing or the lookup fails.
func (r *MaxMindResolver) Anonymous(ctx context.Context, ip string) Flags {
	if entry, ok := r.cached(ip); ok {
		return entry.flags
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Flags{}
	}
	return r.anonymous(parsed)
}

// Close releases the underlying database readers.
func (r *MaxMindResolver) Close() {
	if r.city != nil {
		_ = r.city.Close()
	}
	if r.anon != nil {
		_ = r.anon.Close()
	}
}

func (r *MaxMindResolver) anonymous(ip net.IP) Flags {
	if r.anon == nil {
		return Flags{}
	}
	record, err := r.anon.AnonymousIP(ip)
	if err != nil {
		return Flags{}
	}
	return Flags{
		VPN:     record.IsAnonymousVPN,
		Proxy:   record.IsPublicProxy,
		Hosting: record.IsHostingProvider,
		Tor:     record.IsTorExitNode,
	}
}

func (r *MaxMindResolver) cached(ip string) (cacheEntry, bool) {
	entry, ok := r.cache.Get(ip)
	if !ok {
		return cacheEntry{}, false
	}
	if time.Now().After(entry.expires) {
		r.cache.Remove(ip)
		return cacheEntry{}, false
	}
	return entry, true
}

func (r *MaxMindResolver) store(ip string, loc *Location, flags Flags) {
	r.cache.Add(ip, cacheEntry{loc: loc, flags: flags, expires: time.Now().Add(r.ttl)})
}

// StaticResolver serves fixed lookup results; used by tests and by
// deployments without MaxMind databases.
type StaticResolver struct {
	Locations map[string]*Location
	FlagsByIP map[string]Flags
}

// Lookup returns the configured location for the IP, or nil.
func (s *StaticResolver) Lookup(ctx context.Context, ip string) (*Location, error) {
	if s.Locations == nil {
		return nil, nil
	}
	return s.Locations[ip], nil
}

// Anonymous returns the configured flags for the IP.
func (s *StaticResolver) Anonymous(ctx context.Context, ip string) Flags {
	if s.FlagsByIP == nil {
		return Flags{}
	}
	return s.FlagsByIP[ip]
}

// Available reports whether any locations are configured.
func (s *StaticResolver) Available() bool {
	return len(s.Locations) > 0
}
