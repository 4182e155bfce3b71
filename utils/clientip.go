package utils

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the shared quota bucket for requests whose origin could
// not be resolved. Everyone in it shares one budget, which is reduced
// protection; it only applies when no address is available at all.
const UnknownClient = "unknown"

// ClientID derives a quota identity from the request: first hop of
// X-Forwarded-For, then X-Real-IP, then the connection's remote address.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownClient
}
