package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
)

// Socket is a bound UDP socket for one slot.
//
// The raw connection is wrapped in ipv4.PacketConn or ipv6.PacketConn for
// control message access and multicast options. Exactly one of p4/p6 is set.
type Socket struct {
	slot Slot
	conn net.PacketConn
	p4   *ipv4.PacketConn
	p6   *ipv6.PacketConn
	port uint16

	closeOnce sync.Once
	closeErr  error
}

// OpenSocket binds a UDP socket for slot on the wildcard address.
//
// Port zero asks the OS for an ephemeral port; the assigned port is available
// from LocalPort. SO_REUSEADDR is set only for fixed ports so that several
// processes can share the CoAP multicast ports. IPv6 sockets are IPv6-only.
//
// Packet-info control messages are enabled on a best-effort basis: if the
// platform refuses them, ReadPacket reports an unknown PacketInfo and the
// receive path degrades to interface index 0 without multicast
// reclassification.
//
// Returns:
//   - *Socket: bound socket
//   - error: NetworkError if the bind fails
func OpenSocket(ctx context.Context, slot Slot, port uint16, log logrus.FieldLogger) (*Socket, error) {
	family := slot.Family()
	host := "0.0.0.0"
	if family == endpoint.FamilyIPv6 {
		host = "::"
	}
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	lc := net.ListenConfig{Control: controlFunc(family, port != 0)}
	// Ownership moves to the Socket; released by Close.
	conn, err := lc.ListenPacket(ctx, family.Network(), address)
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "bind socket",
			Err:       err,
			Details:   fmt.Sprintf("slot %s on %s %s", slot, family.Network(), address),
		}
	}

	s := &Socket{slot: slot, conn: conn}
	if udp, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		s.port = uint16(udp.Port)
	}

	if family == endpoint.FamilyIPv6 {
		s.p6 = ipv6.NewPacketConn(conn)
		err = s.p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true)
	} else {
		s.p4 = ipv4.NewPacketConn(conn)
		err = s.p4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)
	}
	if err != nil {
		log.WithError(err).WithField("slot", slot.String()).
			Warn("packet info unavailable, interface index will be unknown")
	}

	return s, nil
}

// Slot returns the slot the socket was opened for.
func (s *Socket) Slot() Slot { return s.slot }

// LocalPort returns the bound port.
func (s *Socket) LocalPort() uint16 { return s.port }

// ReadPacket reads one datagram together with its packet info.
func (s *Socket) ReadPacket(buf []byte) (int, net.Addr, endpoint.PacketInfo, error) {
	var (
		n    int
		src  net.Addr
		info endpoint.PacketInfo
		err  error
	)
	if s.p6 != nil {
		var cm *ipv6.ControlMessage
		n, cm, src, err = s.p6.ReadFrom(buf)
		info = endpoint.InfoFromControl6(cm)
	} else {
		var cm *ipv4.ControlMessage
		n, cm, src, err = s.p4.ReadFrom(buf)
		info = endpoint.InfoFromControl4(cm)
	}
	if err != nil {
		return 0, nil, endpoint.PacketInfo{}, &errors.NetworkError{
			Operation: "receive",
			Err:       err,
			Details:   "slot " + s.slot.String(),
		}
	}
	return n, src, info, nil
}

// WritePacket sends b to dst, looping on short writes.
func (s *Socket) WritePacket(b []byte, dst *net.UDPAddr) error {
	for sent := 0; sent < len(b); {
		n, err := s.conn.WriteTo(b[sent:], dst)
		if err != nil {
			return &errors.NetworkError{
				Operation: "send",
				Err:       err,
				Details:   fmt.Sprintf("%d/%d bytes to %s via %s", sent, len(b), dst, s.slot),
			}
		}
		if n == 0 {
			return &errors.NetworkError{
				Operation: "send",
				Err:       fmt.Errorf("zero-length write: %w", errors.ErrSendFailed),
				Details:   fmt.Sprintf("%d/%d bytes to %s via %s", sent, len(b), dst, s.slot),
			}
		}
		sent += n
	}
	return nil
}

// JoinGroup joins the multicast group on ifi.
func (s *Socket) JoinGroup(ifi *net.Interface, group net.IP) error {
	g := &net.UDPAddr{IP: group}
	if s.p6 != nil {
		return s.p6.JoinGroup(ifi, g)
	}
	return s.p4.JoinGroup(ifi, g)
}

// LeaveGroup leaves the multicast group on ifi.
func (s *Socket) LeaveGroup(ifi *net.Interface, group net.IP) error {
	g := &net.UDPAddr{IP: group}
	if s.p6 != nil {
		return s.p6.LeaveGroup(ifi, g)
	}
	return s.p4.LeaveGroup(ifi, g)
}

// SetMulticastInterface selects the outgoing multicast interface.
func (s *Socket) SetMulticastInterface(ifi *net.Interface) error {
	if s.p6 != nil {
		return s.p6.SetMulticastInterface(ifi)
	}
	return s.p4.SetMulticastInterface(ifi)
}

// SetMulticastTTL sets the IPv4 multicast TTL or the IPv6 multicast hop limit.
func (s *Socket) SetMulticastTTL(ttl int) error {
	if s.p6 != nil {
		return s.p6.SetMulticastHopLimit(ttl)
	}
	return s.p4.SetMulticastTTL(ttl)
}

// Close releases the socket and unblocks a pending ReadPacket.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.closeErr = &errors.NetworkError{
				Operation: "close socket",
				Err:       err,
				Details:   "slot " + s.slot.String(),
			}
		}
	})
	return s.closeErr
}
