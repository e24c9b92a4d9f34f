package middleware

import (
	"net"
	"net/http"
	"strings"

	"mercator-hq/floodgate/pkg/config"
)

// KeyFunc extracts the client key a request is limited under.
type KeyFunc func(r *http.Request) string

// KeyFromConfig returns a KeyFunc that tries, in order:
//  1. the configured header (default X-API-Key)
//  2. the first X-Forwarded-For hop, if TrustForwardedFor is set
//  3. the host part of RemoteAddr
func KeyFromConfig(cfg config.KeyConfig) KeyFunc {
	header := cfg.Header
	trustXFF := cfg.TrustForwardedFor
	return func(r *http.Request) string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if first = strings.TrimSpace(first); first != "" {
					return first
				}
			}
		}
		return remoteHost(r.RemoteAddr)
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
