// Package util provides small helpers shared by the authguard packages.
//
// Key utilities:
//   - SafeTruncate: Bounds untrusted strings (login identifiers) without splitting runes
//   - ClassifyAddress: Labels client addresses as public, private, loopback, etc.
package util
