// Package transport owns the adapter's UDP sockets.
//
// Eight socket slots exist: plain and secure, unicast and multicast, for each
// of IPv4 and IPv6. A Table opens the slots for the enabled families at start
// and closes them all at stop; it is never partially rebuilt in between.
//
// Every socket is wrapped in an ipv4.PacketConn or ipv6.PacketConn so that
// the destination address and arrival interface of each datagram
// (IP_PKTINFO / IPV6_RECVPKTINFO) are available to the receive loop.
package transport

import (
	"net"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

// Conn abstracts one bound UDP socket.
//
// Implementations:
//   - *Socket: production socket wrapping golang.org/x/net/ipv4 or ipv6
//   - test doubles in the consuming packages
type Conn interface {
	// ReadPacket blocks until a datagram arrives or the socket is closed.
	//
	// Returns:
	//   - n: bytes copied into buf
	//   - src: sender address (*net.UDPAddr)
	//   - info: destination and interface index; zero value when the
	//     platform does not deliver control messages
	//   - err: NetworkError; wraps net.ErrClosed after Close
	ReadPacket(buf []byte) (n int, src net.Addr, info endpoint.PacketInfo, err error)

	// WritePacket transmits b to dst, retrying short writes until the whole
	// buffer was written or a hard error occurs.
	WritePacket(b []byte, dst *net.UDPAddr) error

	// JoinGroup joins group on ifi. Errors are returned unwrapped so callers
	// can classify "already a member".
	JoinGroup(ifi *net.Interface, group net.IP) error

	// LeaveGroup leaves group on ifi.
	LeaveGroup(ifi *net.Interface, group net.IP) error

	// SetMulticastInterface selects the outgoing interface for multicast sends.
	SetMulticastInterface(ifi *net.Interface) error

	// SetMulticastTTL sets the IPv4 TTL or IPv6 hop limit for multicast sends.
	SetMulticastTTL(ttl int) error

	// LocalPort returns the bound port.
	LocalPort() uint16

	// Close releases the socket. It is safe to call more than once.
	Close() error
}
