package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP extracts the client address from the request.
// X-Forwarded-For and X-Real-IP are honored only when trustProxy is set.
// When nothing usable is found it returns UnknownAddress.
//
// SECURITY CONSIDERATIONS:
// - Only enable trustProxy when behind a trusted reverse proxy (nginx, haproxy, etc.)
// - X-Forwarded-For format: "client, proxy1, proxy2, ..."
// - trustedProxyCount specifies how many proxies to trust from the right
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := canonicalIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return NormalizeAddress(extractIPFromRemoteAddr(r.RemoteAddr))
}

// extractIPFromXFF picks the client entry from X-Forwarded-For.
// The rightmost trustedProxyCount entries belong to proxies we control.
//
// Example with trustedProxyCount=2:
//
//	X-Forwarded-For: "1.2.3.4, untrusted-ip, proxy2-ip"
//	We extract: ips[len(ips) - trustedProxyCount - 1] = ips[0] = "1.2.3.4"
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	return canonicalIP(ips[clientIPIndex(len(ips), trustedProxyCount)])
}

// clientIPIndex returns the position of the client in an X-Forwarded-For list.
// A zero trustedProxyCount means one trusted proxy.
func clientIPIndex(numIPs, trustedProxyCount int) int {
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	return max(numIPs-proxyCount-1, 0)
}

// extractIPFromRemoteAddr strips the port from RemoteAddr
func extractIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := canonicalIP(host); ip != "" {
		return ip
	}
	return strings.TrimSpace(host)
}

// CanonicalAddress returns the canonical form of an IP address, or the
// NormalizeAddress form of anything that does not parse as one.
func CanonicalAddress(s string) string {
	if ip := canonicalIP(s); ip != "" {
		return ip
	}
	return NormalizeAddress(s)
}

// canonicalIP parses s as an IP and returns its canonical text form, so that
// "::ffff:1.2.3.4" and "1.2.3.4" share one address scope. Returns "" if s is not an IP.
func canonicalIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}
