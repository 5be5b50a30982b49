// Package httputil holds request helpers shared by the HTTP middleware.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from the request for access logs.
// When trustProxy is true the leftmost X-Forwarded-For entry, then X-Real-IP,
// are used if they hold a parseable address; otherwise the host part of
// RemoteAddr is returned. Enable trustProxy only behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip, ok := headerIP(r.Header.Get("X-Forwarded-For")); ok {
			return ip
		}
		if ip, ok := headerIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	return hostOnly(r.RemoteAddr)
}

// headerIP returns the first comma-separated entry of v when it is an
// address, with any port removed.
func headerIP(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	first, _, _ := strings.Cut(v, ",")
	ip := hostOnly(strings.TrimSpace(first))
	if net.ParseIP(ip) == nil {
		return "", false
	}
	return ip, true
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}
