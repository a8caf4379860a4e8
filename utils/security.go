// modgate/utils/security.go
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DefaultTrustedProxies covers a reverse proxy on the same host.
const DefaultTrustedProxies = "127.0.0.0/8,::1/128"

var (
	IPSalt string

	// TrustedProxies are the peers whose forwarding headers are honoured.
	// Requests from any other peer are attributed to the peer itself.
	TrustedProxies, _ = ParseTrustedProxies(DefaultTrustedProxies)
)

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare IPs.
func ParseTrustedProxies(list string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", part)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy range %q: %w", part, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// GetIPAddress extracts the real IP address from a request. Forwarding
// headers are only read when the connection comes from a trusted proxy.
func GetIPAddress(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrustedProxy(peer) {
		return peer
	}
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return strings.TrimSpace(cf)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	return peer
}

func isTrustedProxy(peer string) bool {
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, n := range TrustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// HashIP creates a salted SHA256 hash of an IP address and returns a truncated hex string.
func HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + IPSalt))
	return hex.EncodeToString(hash[:16])
}

// IsLAN checks if the request is coming from a private or loopback IP address.
func IsLAN(r *http.Request) bool {
	ip := net.ParseIP(GetIPAddress(r))
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}
