// Package allowlist parses and validates the comma-separated IP allow-lists
// stored against accounts.
package allowlist

import (
	"net"
	"strings"
)

// MetaKey is the account metadata key holding the raw allow-list.
const MetaKey = "list_ip"

// Separator between entries of a raw allow-list.
const Separator = ","

// cutset is the set of characters trimmed around each entry. NUL and
// vertical tab are included because stored lists already rely on it.
const cutset = " \t\n\r\x00\x0B"

// IsEmpty reports whether raw places no restriction on the account.
func IsEmpty(raw string) bool {
	return strings.Trim(raw, cutset) == ""
}

// Split breaks raw into trimmed tokens. Empty tokens are kept so that a
// trailing separator behaves like it always has.
func Split(raw string) []string {
	parts := strings.Split(raw, Separator)
	for i, p := range parts {
		parts[i] = strings.Trim(p, cutset)
	}
	return parts
}

// Contains reports whether clientIP appears in raw. The comparison is purely
// textual: "::1" and "0:0:0:0:0:0:0:1" are different entries.
func Contains(raw, clientIP string) bool {
	for _, token := range Split(raw) {
		if token == clientIP {
			return true
		}
	}
	return false
}

// Allows is the enforcement rule: an empty list allows everyone, otherwise
// clientIP must be listed.
func Allows(raw, clientIP string) bool {
	return IsEmpty(raw) || Contains(raw, clientIP)
}

// IsIPLiteral reports whether s is a bare IPv4 or IPv6 address.
// Zones, ports, and CIDR suffixes are rejected.
func IsIPLiteral(s string) bool {
	return net.ParseIP(s) != nil
}

// Validate sanitizes a submitted list and checks every token. It returns the
// sanitized value to persist and the tokens that are not IP literals. A
// submission that sanitizes to an empty string is valid and means "clear".
func Validate(submitted string) (clean string, invalid []string) {
	clean = Sanitize(submitted)
	if clean == "" {
		return "", nil
	}
	for _, token := range Split(clean) {
		token = strings.Trim(Sanitize(token), cutset)
		if !IsIPLiteral(token) {
			invalid = append(invalid, token)
		}
	}
	return clean, invalid
}
