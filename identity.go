package authguard

import "github.com/giantswarm/authguard/security"

// EndpointClass tells the guard how sensitive an endpoint is.
type EndpointClass int

const (
	// General endpoints are subject to the general request ceiling and to
	// lockouts of the client address
	General EndpointClass = iota
	// Auth endpoints (login, registration) are additionally subject to the
	// auth ceiling, and their outcomes drive lockouts
	Auth
)

// String returns the class name used in logs and metrics
func (c EndpointClass) String() string {
	switch c {
	case General:
		return "general"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// Identity is who a request claims to come from.
type Identity struct {
	// Address is the client network address. Empty is treated as "unknown".
	Address string

	// Identifier is the login identifier (username, email) carried by the
	// request body, if any. It only takes part in Auth decisions.
	Identifier string
}

// scopeKeys returns the identity keys evaluated for class.
// Identifier scopes only apply to endpoints that carry a login identifier.
func (id Identity) scopeKeys(class EndpointClass) []string {
	if class != Auth {
		return security.ScopeKeys(id.Address, "")
	}
	return security.ScopeKeys(id.Address, id.Identifier)
}
