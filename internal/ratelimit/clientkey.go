// ABOUTME: Client identity extraction from proxy headers for rate limiting
// ABOUTME: Hashes the resolved IP so raw addresses never reach storage or logs

package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// unknownClient is the sentinel identity used when no header or remote
// address yields a parseable IP. All such requests share one bucket.
const unknownClient = "0.0.0.0"

// ClientKey resolves the caller's IP from proxy headers and returns its
// SHA-256 hex digest. Headers are consulted in trust order: CF-Connecting-IP,
// then the first X-Forwarded-For entry, then X-Real-IP, then the socket
// address. The first value that parses as an IP wins.
func ClientKey(r *http.Request) string {
	return hashKey(clientIP(r))
}

func clientIP(r *http.Request) string {
	if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return unknownClient
}

// parseIP returns the canonical form of candidate if it is a valid IP,
// or empty otherwise.
func parseIP(candidate string) string {
	ip := net.ParseIP(strings.TrimSpace(candidate))
	if ip == nil {
		return ""
	}
	return ip.String()
}

func hashKey(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
