package endpoint

import "strings"

// Flags is the transport flag word carried by every endpoint.
//
// The low nibble holds the IPv6 multicast scope; the upper bits select
// security, address family and multicast delivery.
type Flags uint16

// Multicast scopes (RFC 4291 §2.7). Only meaningful for IPv6.
const (
	ScopeInterface Flags = 0x1
	ScopeLink      Flags = 0x2
	ScopeRealm     Flags = 0x3
	ScopeAdmin     Flags = 0x4
	ScopeSite      Flags = 0x5
	ScopeOrg       Flags = 0x8
	ScopeGlobal    Flags = 0xE

	// ScopeMask selects the scope nibble.
	ScopeMask Flags = 0xF
)

// Transport bits.
const (
	Secure    Flags = 1 << 4
	IPv6      Flags = 1 << 5
	IPv4      Flags = 1 << 6
	Multicast Flags = 1 << 7
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Scope returns the multicast scope nibble.
func (f Flags) Scope() Flags {
	return f & ScopeMask
}

// Families returns the address families selected by f, IPv6 first.
func (f Flags) Families() []Family {
	var out []Family
	if f.Has(IPv6) {
		out = append(out, FamilyIPv6)
	}
	if f.Has(IPv4) {
		out = append(out, FamilyIPv4)
	}
	return out
}

func (f Flags) String() string {
	var parts []string
	if f.Has(IPv4) {
		parts = append(parts, "ipv4")
	}
	if f.Has(IPv6) {
		parts = append(parts, "ipv6")
	}
	if f.Has(Secure) {
		parts = append(parts, "secure")
	}
	if f.Has(Multicast) {
		parts = append(parts, "multicast")
	}
	if s := f.Scope(); s != 0 {
		parts = append(parts, "scope="+scopeName(s))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func scopeName(s Flags) string {
	switch s {
	case ScopeInterface:
		return "interface"
	case ScopeLink:
		return "link"
	case ScopeRealm:
		return "realm"
	case ScopeAdmin:
		return "admin"
	case ScopeSite:
		return "site"
	case ScopeOrg:
		return "org"
	case ScopeGlobal:
		return "global"
	default:
		return "unassigned"
	}
}

// ParseScope maps a scope name ("link", "site", ...) to its flag value.
// It returns false for unknown names.
func ParseScope(name string) (Flags, bool) {
	for _, s := range []Flags{ScopeInterface, ScopeLink, ScopeRealm, ScopeAdmin, ScopeSite, ScopeOrg, ScopeGlobal} {
		if scopeName(s) == strings.ToLower(name) {
			return s, true
		}
	}
	return 0, false
}

// Family is an IP address family.
type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// Flag returns the transport bit for the family.
func (f Family) Flag() Flags {
	if f == FamilyIPv6 {
		return IPv6
	}
	return IPv4
}

// Network returns the Go network name ("udp4" or "udp6").
func (f Family) Network() string {
	if f == FamilyIPv6 {
		return "udp6"
	}
	return "udp4"
}

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}
