// Package membership keeps the multicast sockets joined to the CoAP groups
// on every usable interface.
//
// IPv4 multicast slots join 224.0.1.187. IPv6 multicast slots join the
// link-local, realm-local and site-local groups (ff02::158, ff03::158,
// ff05::158). Joining is idempotent: the kernel's "already a member" answer
// counts as success, so Apply can be called on every interface change.
package membership

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/protocol"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Sockets looks up the socket bound to a slot. *transport.Table satisfies it.
type Sockets interface {
	Conn(slot transport.Slot) (transport.Conn, bool)
}

// Manager joins and leaves the CoAP multicast groups.
type Manager struct {
	sockets Sockets
	log     logrus.FieldLogger
}

// New returns a manager operating on the multicast slots of sockets.
func New(sockets Sockets, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{sockets: sockets, log: log.WithField("component", "membership")}
}

// Groups returns the groups joined for family.
func Groups(family endpoint.Family) []net.IP {
	if family == endpoint.FamilyIPv6 {
		return protocol.IPv6JoinGroups
	}
	return []net.IP{protocol.IPv4Group}
}

func multicastSlots(family endpoint.Family) []transport.Slot {
	return []transport.Slot{
		transport.SlotFor(family, false, true),
		transport.SlotFor(family, true, true),
	}
}

// Apply joins every group of family on interface ifIndex, on both the plain
// and secure multicast sockets. Unbound slots are skipped. Failures are
// logged and do not stop the remaining joins; the number of failed joins is
// returned.
func (m *Manager) Apply(ifIndex int, family endpoint.Family) int {
	ifi := &net.Interface{Index: ifIndex}
	failed := 0
	for _, slot := range multicastSlots(family) {
		conn, ok := m.sockets.Conn(slot)
		if !ok {
			continue
		}
		for _, group := range Groups(family) {
			if err := m.join(conn, ifi, group); err != nil {
				failed++
				m.log.WithError(err).WithFields(logrus.Fields{
					"slot":  slot.String(),
					"index": ifIndex,
					"group": group.String(),
				}).Error("join multicast group failed")
			}
		}
	}
	return failed
}

func (m *Manager) join(conn transport.Conn, ifi *net.Interface, group net.IP) error {
	err := conn.JoinGroup(ifi, group)
	if err == nil {
		return nil
	}
	switch classifyJoinError(err) {
	case joinAlreadyMember:
		return nil
	case joinRejoin:
		_ = conn.LeaveGroup(ifi, group)
		return conn.JoinGroup(ifi, group)
	default:
		return err
	}
}

// ApplyAll applies membership for every up and running record. Each
// interface/family combination is applied once.
func (m *Manager) ApplyAll(records []netmon.Interface) {
	type key struct {
		index  int
		family endpoint.Family
	}
	done := make(map[key]bool)
	for _, r := range records {
		k := key{r.Index, r.Family}
		if !r.IsUpRunning() || done[k] {
			continue
		}
		done[k] = true
		m.Apply(r.Index, r.Family)
	}
}

// Drop leaves every group of family on interface ifIndex. Errors are logged
// at debug level; leaving a group that was never joined is not a failure.
func (m *Manager) Drop(ifIndex int, family endpoint.Family) {
	ifi := &net.Interface{Index: ifIndex}
	for _, slot := range multicastSlots(family) {
		conn, ok := m.sockets.Conn(slot)
		if !ok {
			continue
		}
		for _, group := range Groups(family) {
			if err := conn.LeaveGroup(ifi, group); err != nil {
				m.log.WithError(err).WithFields(logrus.Fields{
					"slot":  slot.String(),
					"index": ifIndex,
					"group": group.String(),
				}).Debug("leave multicast group failed")
			}
		}
	}
}

// DropAll leaves the groups on every interface/family in records.
func (m *Manager) DropAll(records []netmon.Interface) {
	type key struct {
		index  int
		family endpoint.Family
	}
	done := make(map[key]bool)
	for _, r := range records {
		k := key{r.Index, r.Family}
		if done[k] {
			continue
		}
		done[k] = true
		m.Drop(r.Index, r.Family)
	}
}

type joinResult int

const (
	joinFailed joinResult = iota
	joinAlreadyMember
	joinRejoin
)
