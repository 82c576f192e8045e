package security

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/giantswarm/authguard/internal/util"
)

// UnknownAddress is the address used when none can be determined.
// Requests without an address share one throttling fate instead of bypassing it.
const UnknownAddress = "unknown"

// Scope is the dimension an identity key tracks abuse along.
type Scope string

const (
	// ScopeAddress keys by client address only
	ScopeAddress Scope = "addr"
	// ScopeIdentifier keys by the claimed login identifier only
	ScopeIdentifier Scope = "ident"
	// ScopeAddressIdentifier keys by address and identifier together
	ScopeAddressIdentifier Scope = "addr+ident"
)

// MaxIdentifierLength bounds the identifier bytes that take part in keying.
// Longer claims are truncated before hashing.
const MaxIdentifierLength = 256

// identifierDigestLength is the number of hex characters kept from the identifier digest
const identifierDigestLength = 32

// NormalizeAddress returns address, or UnknownAddress when it is blank.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return UnknownAddress
	}
	return address
}

// NormalizeIdentifier trims, lower-cases and bounds a login identifier
func NormalizeIdentifier(identifier string) string {
	return util.SafeTruncate(strings.ToLower(strings.TrimSpace(identifier)), MaxIdentifierLength)
}

// identifierDigest hashes a normalized identifier so raw usernames and
// emails never become map keys.
func identifierDigest(identifier string) string {
	sum := blake2b.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])[:identifierDigestLength]
}

// AddressKey builds the address-scope key
func AddressKey(address string) string {
	return string(ScopeAddress) + ":" + NormalizeAddress(address)
}

// IdentifierKey builds the identifier-scope key.
// Returns "" when the identifier is blank.
func IdentifierKey(identifier string) string {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return ""
	}
	return string(ScopeIdentifier) + ":" + identifierDigest(identifier)
}

// AddressIdentifierKey builds the combined-scope key.
// Returns "" when the identifier is blank.
func AddressIdentifierKey(address, identifier string) string {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return ""
	}
	return string(ScopeAddressIdentifier) + ":" + NormalizeAddress(address) + "|" + identifierDigest(identifier)
}

// ScopeKeys returns the identity keys a request is evaluated against:
// always the address scope, plus the identifier and combined scopes when
// an identifier is present. The order is stable.
func ScopeKeys(address, identifier string) []string {
	keys := []string{AddressKey(address)}
	if key := IdentifierKey(identifier); key != "" {
		keys = append(keys, key, AddressIdentifierKey(address, identifier))
	}
	return keys
}
