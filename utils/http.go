package utils

import (
	"net"
	"net/http"
	"strings"
)

const ISOFormat = "2006-01-02T15:04:05.000Z"

// ParseRemoteAddr returns the client address, preferring the first hop
// of X-Forwarded-For when the request came through a proxy.
func ParseRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			if net.ParseIP(first) != nil {
				return net.JoinHostPort(first, "0")
			}
			return first
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return net.JoinHostPort(strings.TrimSpace(real), "0")
	}
	return r.RemoteAddr
}
