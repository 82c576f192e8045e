package util

import (
	"net/netip"
	"strings"
)

// AddressClass is a coarse classification of a client address.
// It is attached to audit events so operators can tell internal traffic
// (health checks, sidecars) from public clients without logging more detail.
type AddressClass int

const (
	// AddressClassPublic indicates a publicly routable address.
	AddressClassPublic AddressClass = iota
	// AddressClassLoopback indicates a loopback address (127.0.0.0/8, ::1).
	AddressClassLoopback
	// AddressClassPrivate indicates a private address (RFC 1918, ULA).
	AddressClassPrivate
	// AddressClassLinkLocal indicates a link-local address (169.254.x.x, fe80::/10).
	AddressClassLinkLocal
	// AddressClassUnspecified indicates an unspecified address (0.0.0.0, ::).
	AddressClassUnspecified
	// AddressClassInvalid indicates the value is not an IP address at all.
	AddressClassInvalid
)

// String returns a human-readable name for the address class.
func (c AddressClass) String() string {
	switch c {
	case AddressClassPublic:
		return "public"
	case AddressClassLoopback:
		return "loopback"
	case AddressClassPrivate:
		return "private"
	case AddressClassLinkLocal:
		return "link_local"
	case AddressClassUnspecified:
		return "unspecified"
	default:
		return "invalid"
	}
}

// ClassifyAddress returns the class of a textual IP address.
// IPv4-mapped IPv6 addresses are classified as their IPv4 form.
func ClassifyAddress(address string) AddressClass {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return AddressClassInvalid
	}
	addr = addr.Unmap()

	switch {
	case addr.IsUnspecified():
		return AddressClassUnspecified
	case addr.IsLoopback():
		return AddressClassLoopback
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return AddressClassLinkLocal
	case addr.IsPrivate():
		return AddressClassPrivate
	default:
		return AddressClassPublic
	}
}
