package gate

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"

	"github.com/japperJ/geogate/internal/geo"
)

// ErrInvalidGPSBody is returned when the request body is present but its GPS
// fields cannot be decoded as numbers.
var ErrInvalidGPSBody = errors.New("invalid gps fields in request body")

// Request carries everything the engine needs to decide one access attempt.
// GPS is nil when the client sent no coordinates. GPSParseErr records a body
// whose GPS fields could not be decoded; the engine weighs it only when the
// site's access mode requires GPS, so a garbled body cannot gate an IP-only
// site.
type Request struct {
	RemoteAddr   string
	ForwardedFor string
	RealIP       string
	Hostname     string
	UserAgent    string
	URL          string
	GPS          *geo.Fix
	GPSParseErr  error
}

// gpsBody is the typed shape of the optional JSON body. Pointers distinguish
// absent fields from zero values.
type gpsBody struct {
	Lat      *float64 `json:"gps_lat"`
	Lng      *float64 `json:"gps_lng"`
	Accuracy *float64 `json:"gps_accuracy"`
}

// ParseGPSBody decodes the optional GPS fields from a request body. An empty
// body or a body without coordinates yields (nil, nil); non-numeric
// coordinate fields yield ErrInvalidGPSBody.
func ParseGPSBody(r io.Reader) (*geo.Fix, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}

	var body gpsBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, ErrInvalidGPSBody
	}
	if body.Lat == nil || body.Lng == nil {
		return nil, nil
	}

	return &geo.Fix{Lat: *body.Lat, Lng: *body.Lng, Accuracy: body.Accuracy}, nil
}

// ExtractClientIP resolves the client IP with leftmost-wins precedence:
// X-Forwarded-For chain, then X-Real-IP, then the socket address. Returns ""
// when nothing parseable is found.
func ExtractClientIP(req Request) string {
	if req.ForwardedFor != "" {
		for _, part := range strings.Split(req.ForwardedFor, ",") {
			candidate := strings.TrimSpace(part)
			if _, err := netip.ParseAddr(candidate); err == nil {
				return candidate
			}
			// Leftmost entry wins; a garbage leftmost entry does not promote
			// the ones behind it, they are proxy-appended.
			break
		}
	}

	if req.RealIP != "" {
		if _, err := netip.ParseAddr(strings.TrimSpace(req.RealIP)); err == nil {
			return strings.TrimSpace(req.RealIP)
		}
	}

	host := req.RemoteAddr
	if h, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}

	return ""
}

// AnonymizeIP masks an IP for storage: IPv4 keeps the /24 prefix, IPv6 the
// /64 prefix. Unparseable input is returned unchanged.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}
