// Package identity derives the anonymous caller identity from request metadata.
//
// An identity is whatever network address the request arrived from. It is
// inherently spoofable when forwarded headers are trusted; the only guard is
// the Resolver's TrustProxy switch.
package identity

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrUnavailable is returned when no address can be determined for a request.
var ErrUnavailable = errors.New("identity unavailable")

// Resolver turns an inbound request into an identity string.
type Resolver struct {
	// TrustProxy makes X-Forwarded-For and X-Real-IP take precedence over
	// the connection address. Enable it only behind a proxy that sets them.
	TrustProxy bool
}

// Resolve returns the first usable address in priority order: forwarded
// client address (when trusted), connection host, raw socket address.
// Addresses are not validated.
func (r Resolver) Resolve(req *http.Request) (string, error) {
	if req == nil {
		return "", ErrUnavailable
	}
	if r.TrustProxy {
		if ip := firstForwarded(req.Header.Get("X-Forwarded-For")); ip != "" {
			return ip, nil
		}
		if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
			return ip, nil
		}
	}

	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host, nil
	}
	if addr != "" {
		return addr, nil
	}
	return "", ErrUnavailable
}

// firstForwarded returns the left-most non-empty hop, which is the address
// the first proxy saw.
func firstForwarded(header string) string {
	for _, hop := range strings.Split(header, ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	return ""
}
