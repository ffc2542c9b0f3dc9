// Package netmon enumerates usable network interfaces and reports when they
// change.
//
// A Monitor produces Interface records (one per address) and a channel of
// Change notifications. The Tracker turns a notification into InterfaceUp and
// InterfaceDown events by re-enumerating the affected interface and diffing
// it against what was last seen.
//
// Loopback interfaces and loopback addresses are never reported.
package netmon

import (
	"context"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

// Interface is one address configured on a network interface.
type Interface struct {
	Name   string
	Index  int
	Family endpoint.Family
	Addr   string
	Flags  net.Flags
}

// IsUpRunning reports whether the interface is administratively up and has
// carrier.
func (i Interface) IsUpRunning() bool {
	return i.Flags&net.FlagUp != 0 && i.Flags&net.FlagRunning != 0
}

// NetInterface returns the value the socket layer expects for multicast
// options. Only Index and Name are populated.
func (i Interface) NetInterface() *net.Interface {
	return &net.Interface{Index: i.Index, Name: i.Name, Flags: i.Flags}
}

// ZonedAddr returns Addr, with "%<name>" appended for IPv6 link-local
// addresses so the result can be dialed or advertised as is.
func (i Interface) ZonedAddr() string {
	if i.Family != endpoint.FamilyIPv6 || i.Name == "" || strings.Contains(i.Addr, "%") {
		return i.Addr
	}
	ip := net.ParseIP(i.Addr)
	if ip == nil || !ip.IsLinkLocalUnicast() {
		return i.Addr
	}
	return i.Addr + "%" + i.Name
}

func (i Interface) key() string {
	return i.Name + "|" + i.Family.String() + "|" + i.Addr
}

// ChangeKind tells what kind of kernel notification produced a Change.
type ChangeKind int

const (
	ChangeAddr ChangeKind = iota + 1
	ChangeLink
	ChangePoll
)

// Change signals that interface Index may have changed. Index zero means
// "anything may have changed".
type Change struct {
	Index int
	Kind  ChangeKind
}

// Monitor enumerates interfaces and reports changes.
type Monitor interface {
	// List returns the usable addresses of interface index, or of every
	// interface when index is zero.
	List(index int) ([]Interface, error)

	// Changes is readable whenever an interface changed.
	Changes() <-chan Change

	// Start begins watching. Watching stops when ctx is cancelled or Close
	// is called.
	Start(ctx context.Context) error

	// Close stops watching and releases kernel resources.
	Close() error
}

// mobilePrefixes name cellular data interfaces that must not carry
// multicast discovery traffic.
var mobilePrefixes = []string{"rmnet", "pdp"}

// IsMobile reports whether name looks like a cellular data interface.
func IsMobile(name string) bool {
	for _, p := range mobilePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// usable filters loopback interfaces and addresses.
func usable(flags net.Flags, ip net.IP) bool {
	if flags&net.FlagLoopback != 0 {
		return false
	}
	return ip != nil && !ip.IsLoopback() && !ip.IsUnspecified()
}

func familyOf(ip net.IP) endpoint.Family {
	if ip.To4() != nil {
		return endpoint.FamilyIPv4
	}
	return endpoint.FamilyIPv6
}

// listStd enumerates interfaces through the net package.
func listStd(index int) ([]Interface, error) {
	var ifaces []net.Interface
	if index != 0 {
		ifi, err := net.InterfaceByIndex(index)
		if err != nil {
			return nil, err
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, err
		}
		ifaces = all
	}

	var out []Interface
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || !usable(ifi.Flags, ipnet.IP) {
				continue
			}
			out = append(out, Interface{
				Name:   ifi.Name,
				Index:  ifi.Index,
				Family: familyOf(ipnet.IP),
				Addr:   ipnet.IP.String(),
				Flags:  ifi.Flags,
			})
		}
	}
	return out, nil
}

// New returns the platform monitor: netlink on Linux, polling elsewhere.
func New(log logrus.FieldLogger) Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return newPlatformMonitor(log.WithField("component", "netmon"))
}
