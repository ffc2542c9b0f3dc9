// Package protocol holds the wire constants shared by the IP adapter:
// CoAP ports, the OIC multicast groups and buffer limits.
package protocol

import "net"

// CoAP UDP ports (RFC 7252 §6.1, §6.2).
const (
	// CoAPPort is the default port for plain CoAP traffic.
	CoAPPort = 5683

	// CoAPSecurePort is the default port for CoAP over DTLS.
	CoAPSecurePort = 5684
)

// MulticastAddrIPv4 is the IPv4 "All CoAP Nodes" group (RFC 7252 §12.8).
const MulticastAddrIPv4 = "224.0.1.187"

// IPv6 "All CoAP Nodes" groups, one per multicast scope (RFC 7252 §12.8, RFC 4291 §2.7).
const (
	MulticastAddrIPv6Interface = "ff01::158"
	MulticastAddrIPv6Link      = "ff02::158"
	MulticastAddrIPv6Realm     = "ff03::158"
	MulticastAddrIPv6Admin     = "ff04::158"
	MulticastAddrIPv6Site      = "ff05::158"
	MulticastAddrIPv6Org       = "ff08::158"
	MulticastAddrIPv6Global    = "ff0e::158"
)

// MaxPDUSize bounds a single datagram payload and sizes the receive buffers.
const MaxPDUSize = 16384

// DefaultMulticastTTL keeps outbound multicast on the local link.
const DefaultMulticastTTL = 1

// DefaultQueueSize is the default capacity of the outbound send queue.
const DefaultQueueSize = 1024

var (
	// IPv4Group is MulticastAddrIPv4 parsed.
	IPv4Group = net.ParseIP(MulticastAddrIPv4)

	// IPv6JoinGroups are the IPv6 groups joined on every interface when
	// listening: link-local, realm-local and site-local.
	IPv6JoinGroups = []net.IP{
		net.ParseIP(MulticastAddrIPv6Link),
		net.ParseIP(MulticastAddrIPv6Realm),
		net.ParseIP(MulticastAddrIPv6Site),
	}
)

// PortFor returns the default CoAP port for plain or secure traffic.
func PortFor(secure bool) uint16 {
	if secure {
		return CoAPSecurePort
	}
	return CoAPPort
}
