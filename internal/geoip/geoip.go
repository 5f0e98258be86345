package geoip

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver maps client IPs to ISO country codes for catalog region gating.
// Without a database it resolves everything to "", which callers treat as
// unrestricted.
type Resolver struct {
	db *maxminddb.Reader
}

type geoResult struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func New(dbPath string) (*Resolver, error) {
	if dbPath == "" {
		return &Resolver{}, nil
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		slog.Warn("geoip: failed to open database, region gating disabled", "path", dbPath, "error", err)
		return &Resolver{}, nil
	}
	slog.Info("geoip: loaded database", "path", dbPath)
	return &Resolver{db: db}, nil
}

// Country returns the ISO country code for an IP, or "" when unknown.
func (r *Resolver) Country(ipStr string) string {
	if r.db == nil || ipStr == "" {
		return ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	var result geoResult
	if err := r.db.Lookup(ip, &result); err != nil {
		return ""
	}
	return result.Country.ISOCode
}

// Allowed reports whether a client from the request's IP may play content
// restricted to the given region list. An empty list, an unloaded database,
// or an unresolvable IP never blocks playback.
func (r *Resolver) Allowed(req *http.Request, regions []string) bool {
	if len(regions) == 0 {
		return true
	}
	country := r.Country(ClientIP(req))
	if country == "" {
		return true
	}
	for _, region := range regions {
		if strings.EqualFold(region, country) {
			return true
		}
	}
	return false
}

// ClientIP extracts the originating client IP, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
