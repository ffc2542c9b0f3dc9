// Package endpoint converts between OS socket addresses and the adapter's
// Endpoint value type.
//
// It is the only place that interprets packet-info control messages. The
// multicast flag of a received packet is cleared when the packet-info
// destination shows it was actually unicast; this filters mis-delivered
// datagrams and is not a security check.
package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/protocol"
)

// AdapterType identifies the transport adapter that owns an endpoint.
type AdapterType uint8

// AdapterIP is the only adapter type produced by this module.
const AdapterIP AdapterType = 1

// Endpoint identifies a remote or local peer.
//
// Addr is textual and may carry an IPv6 zone ("fe80::1%eth0"). IfIndex is the
// interface a packet arrived on, or zero when unknown.
type Endpoint struct {
	Adapter AdapterType
	Flags   Flags
	Addr    string
	Port    uint16
	IfIndex uint32
}

// New returns an IP endpoint.
func New(flags Flags, addr string, port uint16) Endpoint {
	return Endpoint{Adapter: AdapterIP, Flags: flags, Addr: addr, Port: port}
}

// IsSecure reports whether the endpoint uses the secure transport.
func (e Endpoint) IsSecure() bool { return e.Flags.Has(Secure) }

// IsMulticast reports whether the endpoint is a multicast destination or source.
func (e Endpoint) IsMulticast() bool { return e.Flags.Has(Multicast) }

// WithFlags returns a copy with flags replaced.
func (e Endpoint) WithFlags(f Flags) Endpoint {
	e.Flags = f
	return e
}

// WithAddr returns a copy with address and port replaced.
func (e Endpoint) WithAddr(addr string, port uint16) Endpoint {
	e.Addr = addr
	e.Port = port
	return e
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s [%s]", net.JoinHostPort(e.Addr, strconv.Itoa(int(e.Port))), e.Flags)
}

// PacketInfo is the destination metadata of a received datagram.
//
// Dst is nil when the platform did not deliver a control message; in that
// case IfIndex is zero and no multicast reclassification happens.
type PacketInfo struct {
	Dst     net.IP
	IfIndex int
}

// Known reports whether the control message was available.
func (p PacketInfo) Known() bool {
	return p.Dst != nil
}

// InfoFromControl4 extracts packet info from an IPv4 control message.
func InfoFromControl4(cm *ipv4.ControlMessage) PacketInfo {
	if cm == nil {
		return PacketInfo{}
	}
	return PacketInfo{Dst: cm.Dst, IfIndex: cm.IfIndex}
}

// InfoFromControl6 extracts packet info from an IPv6 control message.
func InfoFromControl6(cm *ipv6.ControlMessage) PacketInfo {
	if cm == nil {
		return PacketInfo{}
	}
	return PacketInfo{Dst: cm.Dst, IfIndex: cm.IfIndex}
}

// AddrToEndpoint builds the endpoint for a datagram received from src on a
// socket whose slot flags are base.
//
// When base has Multicast and info is known, Multicast is cleared unless the
// destination is 224.0.0.0/4 (IPv4) or ff00::/8 (IPv6).
func AddrToEndpoint(src net.Addr, info PacketInfo, base Flags) (Endpoint, error) {
	udp, ok := src.(*net.UDPAddr)
	if !ok || udp == nil {
		return Endpoint{}, &errors.ValidationError{
			Field:   "src",
			Value:   src,
			Message: "not a UDP address",
		}
	}

	flags := base
	if flags.Has(Multicast) && info.Known() && !isMulticastDst(info.Dst, flags) {
		flags &^= Multicast
	}

	host := udp.IP.String()
	if v4 := udp.IP.To4(); v4 != nil {
		host = v4.String()
	}
	if udp.Zone != "" {
		host += "%" + udp.Zone
	}

	return Endpoint{
		Adapter: AdapterIP,
		Flags:   flags,
		Addr:    host,
		Port:    uint16(udp.Port),
		IfIndex: uint32(info.IfIndex),
	}, nil
}

func isMulticastDst(dst net.IP, flags Flags) bool {
	if flags.Has(IPv6) && !flags.Has(IPv4) {
		return len(dst) == net.IPv6len && dst[0] == 0xff
	}
	v4 := dst.To4()
	if v4 == nil {
		return false
	}
	return v4[0] >= 224 && v4[0] <= 239
}

// EndpointToAddr converts an endpoint to a UDP address, keeping any IPv6 zone.
//
// The address must match the family flags: an IPv4-only endpoint needs an
// IPv4 literal, an IPv6-only endpoint an IPv6 literal.
func EndpointToAddr(e Endpoint) (*net.UDPAddr, error) {
	addr, err := netip.ParseAddr(e.Addr)
	if err != nil {
		return nil, &errors.ValidationError{Field: "addr", Value: e.Addr, Message: err.Error()}
	}

	is4 := addr.Unmap().Is4()
	switch {
	case e.Flags.Has(IPv4) && !e.Flags.Has(IPv6) && !is4:
		return nil, &errors.ValidationError{Field: "addr", Value: e.Addr, Message: "expected an IPv4 address"}
	case e.Flags.Has(IPv6) && !e.Flags.Has(IPv4) && is4:
		return nil, &errors.ValidationError{Field: "addr", Value: e.Addr, Message: "expected an IPv6 address"}
	}

	if is4 {
		addr = addr.Unmap()
	}
	return &net.UDPAddr{
		IP:   net.IP(addr.AsSlice()),
		Port: int(e.Port),
		Zone: addr.Zone(),
	}, nil
}

// MulticastGroup returns the "All CoAP Nodes" group for a family.
//
// For IPv6 the scope nibble selects the group; scope zero defaults to
// link-local and scopes without an assigned group yield ErrInvalidScope.
func MulticastGroup(family Family, scope Flags) (net.IP, error) {
	if family == FamilyIPv4 {
		return net.ParseIP(protocol.MulticastAddrIPv4), nil
	}

	var group string
	switch scope & ScopeMask {
	case 0, ScopeLink:
		group = protocol.MulticastAddrIPv6Link
	case ScopeInterface:
		group = protocol.MulticastAddrIPv6Interface
	case ScopeRealm:
		group = protocol.MulticastAddrIPv6Realm
	case ScopeAdmin:
		group = protocol.MulticastAddrIPv6Admin
	case ScopeSite:
		group = protocol.MulticastAddrIPv6Site
	case ScopeOrg:
		group = protocol.MulticastAddrIPv6Org
	case ScopeGlobal:
		group = protocol.MulticastAddrIPv6Global
	default:
		return nil, fmt.Errorf("scope 0x%x: %w", uint16(scope&ScopeMask), errors.ErrInvalidScope)
	}
	return net.ParseIP(group), nil
}
