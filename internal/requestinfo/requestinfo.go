// Package requestinfo derives submission metadata (client IP, user agent
// fingerprint and country) from an incoming HTTP request.
package requestinfo

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"leadflow/internal/models"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

// Enricher fills SubmissionMetadata. The GeoIP reader is optional and safe
// for concurrent reads.
type Enricher struct {
	geo        *geoip2.Reader
	trustProxy bool
}

// NewEnricher opens the MaxMind database when geoDBPath is set
func NewEnricher(geoDBPath string, trustProxy bool) (*Enricher, error) {
	e := &Enricher{trustProxy: trustProxy}
	if geoDBPath == "" {
		return e, nil
	}
	reader, err := geoip2.Open(geoDBPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open GeoIP database: %w", err)
	}
	e.geo = reader
	return e, nil
}

// Close releases the GeoIP database
func (e *Enricher) Close() error {
	if e.geo == nil {
		return nil
	}
	return e.geo.Close()
}

// Metadata describes the client behind r
func (e *Enricher) Metadata(r *http.Request) models.SubmissionMetadata {
	ip := ClientIP(r, e.trustProxy)
	raw := r.UserAgent()
	device, browser, os := ParseUserAgent(raw)

	return models.SubmissionMetadata{
		IP:        ip,
		UserAgent: raw,
		Device:    device,
		Browser:   browser,
		OS:        os,
		Country:   e.country(ip),
	}
}

func (e *Enricher) country(ip string) string {
	if e.geo == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	rec, err := e.geo.Country(parsed)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

// ClientIP returns the caller address. Forwarding headers are only honoured
// when the server sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ParseUserAgent reduces a User-Agent header to device class, browser and OS
func ParseUserAgent(raw string) (device, browser, os string) {
	if strings.TrimSpace(raw) == "" {
		return "", "", ""
	}
	ua := uasurfer.Parse(raw)

	browser = strings.TrimPrefix(ua.Browser.Name.String(), "Browser")
	os = strings.TrimPrefix(ua.OS.Name.String(), "OS")
	if os == "MacOSX" {
		os = "macOS"
	}

	switch ua.DeviceType {
	case uasurfer.DeviceComputer:
		device = "Desktop"
	case uasurfer.DevicePhone, uasurfer.DeviceWearable:
		device = "Mobile"
	case uasurfer.DeviceTablet:
		device = "Tablet"
	default:
		device = "Other"
	}
	if ua.IsBot() {
		device = "Bot"
	}
	return device, browser, os
}
