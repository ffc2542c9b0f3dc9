package sendqueue

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/metrics"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/protocol"
	"github.com/joshuafuller/ipadapter/internal/security"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Sockets looks up the socket bound to a slot. *transport.Table satisfies it.
type Sockets interface {
	Conn(slot transport.Slot) (transport.Conn, bool)
}

// Lister enumerates interfaces. netmon.Monitor satisfies it.
type Lister interface {
	List(index int) ([]netmon.Interface, error)
}

// DispatcherConfig wires a Dispatcher. Sockets and Interfaces are required.
type DispatcherConfig struct {
	Sockets    Sockets
	Interfaces Lister
	Security   security.Hook

	// TTL returns the current multicast TTL. Nil means DefaultMulticastTTL.
	TTL func() int

	// SkipMobileInterfaces keeps multicast off cellular data interfaces.
	SkipMobileInterfaces bool

	IPv4 bool
	IPv6 bool

	// OnError receives every failed send with the original endpoint and payload.
	OnError func(ep endpoint.Endpoint, data []byte, err error)

	Metrics metrics.Reporter
	Logger  logrus.FieldLogger
}

// Dispatcher transmits queued messages.
type Dispatcher struct {
	cfg DispatcherConfig
	log logrus.FieldLogger
}

// NewDispatcher returns a dispatcher for cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.TTL == nil {
		cfg.TTL = func() int { return protocol.DefaultMulticastTTL }
	}
	return &Dispatcher{cfg: cfg, log: cfg.Logger.WithField("component", "dispatcher")}
}

// Dispatch sends msg once per applicable path. Nothing is retried.
func (d *Dispatcher) Dispatch(msg Message) {
	if msg.Multicast {
		d.multicast(msg)
		return
	}
	if err := d.unicast(msg); err != nil {
		d.fail(msg, "unicast", err)
		return
	}
	d.cfg.Metrics.PacketSent("unicast")
}

func (d *Dispatcher) fail(msg Message, reason string, err error) {
	d.cfg.Metrics.SendFailed(reason)
	d.log.WithError(err).WithField("to", msg.Endpoint.String()).Warn("send failed")
	if d.cfg.OnError != nil {
		d.cfg.OnError(msg.Endpoint, msg.Data, err)
	}
}

func (d *Dispatcher) enabled(f endpoint.Family) bool {
	if f == endpoint.FamilyIPv6 {
		return d.cfg.IPv6
	}
	return d.cfg.IPv4
}

func (d *Dispatcher) unicast(msg Message) error {
	ep := msg.Endpoint
	dst, err := endpoint.EndpointToAddr(ep)
	if err != nil {
		return err
	}
	family := endpoint.FamilyIPv6
	if dst.IP.To4() != nil {
		family = endpoint.FamilyIPv4
	}
	if !d.enabled(family) {
		return fmt.Errorf("unicast to %s: %w", ep, errors.ErrFamilyDisabled)
	}
	if dst.Port == 0 {
		dst.Port = int(protocol.PortFor(ep.IsSecure()))
	}

	slot := transport.SlotFor(family, ep.IsSecure(), false)
	conn, ok := d.cfg.Sockets.Conn(slot)
	if !ok {
		return fmt.Errorf("unicast via %s: %w", slot, errors.ErrSocketUnavailable)
	}

	payload, err := d.seal(ep, msg.Data)
	if err != nil {
		return err
	}

	d.log.WithFields(logrus.Fields{"slot": slot.String(), "to": dst.String(), "bytes": len(payload)}).Debug("unicast send")
	return conn.WritePacket(payload, dst)
}

func (d *Dispatcher) seal(ep endpoint.Endpoint, data []byte) ([]byte, error) {
	if !ep.IsSecure() {
		return data, nil
	}
	if d.cfg.Security == nil {
		return nil, fmt.Errorf("secure send to %s: %w", ep, errors.ErrNoSecurity)
	}
	out, err := d.cfg.Security.Encrypt(ep, data)
	if err != nil {
		return nil, fmt.Errorf("encrypt for %s: %w", ep, err)
	}
	return out, nil
}

// multicast sends msg to the CoAP group of every flagged, enabled family on
// every up and running interface of that family.
func (d *Dispatcher) multicast(msg Message) {
	ep := msg.Endpoint
	families := ep.Flags.Families()
	if len(families) == 0 {
		d.fail(msg, "multicast", &errors.ValidationError{Field: "flags", Value: ep.Flags, Message: "no address family"})
		return
	}

	var ifaces []netmon.Interface
	listed := false
	for _, family := range families {
		if !d.enabled(family) {
			continue
		}
		group, err := endpoint.MulticastGroup(family, ep.Flags.Scope())
		if err != nil {
			d.fail(msg, "scope", err)
			continue
		}
		slot := transport.SlotFor(family, ep.IsSecure(), true)
		conn, ok := d.cfg.Sockets.Conn(slot)
		if !ok {
			d.fail(msg, "multicast", fmt.Errorf("multicast via %s: %w", slot, errors.ErrSocketUnavailable))
			continue
		}
		payload, err := d.seal(ep, msg.Data)
		if err != nil {
			d.fail(msg, "encrypt", err)
			continue
		}

		if !listed {
			ifaces, err = d.cfg.Interfaces.List(0)
			if err != nil {
				d.fail(msg, "enumerate", &errors.NetworkError{Operation: "list interfaces", Err: err})
				return
			}
			listed = true
		}

		dst := &net.UDPAddr{IP: group, Port: int(protocol.PortFor(ep.IsSecure()))}
		d.sendToInterfaces(msg, conn, slot, family, dst, payload, ifaces)
	}
}

func (d *Dispatcher) sendToInterfaces(msg Message, conn transport.Conn, slot transport.Slot, family endpoint.Family, dst *net.UDPAddr, payload []byte, ifaces []netmon.Interface) {
	ttl := d.cfg.TTL()
	seen := make(map[int]bool)
	for _, ifi := range ifaces {
		if ifi.Family != family || !ifi.IsUpRunning() || seen[ifi.Index] {
			continue
		}
		seen[ifi.Index] = true
		if d.cfg.SkipMobileInterfaces && netmon.IsMobile(ifi.Name) {
			d.log.WithField("interface", ifi.Name).Debug("skipping mobile interface")
			continue
		}

		log := d.log.WithFields(logrus.Fields{"slot": slot.String(), "interface": ifi.Name, "to": dst.String()})
		if err := conn.SetMulticastInterface(ifi.NetInterface()); err != nil {
			d.fail(msg, "multicast", &errors.NetworkError{
				Operation: "set multicast interface",
				Err:       err,
				Details:   fmt.Sprintf("%s via %s", ifi.Name, slot),
			})
			continue
		}
		if err := conn.SetMulticastTTL(ttl); err != nil {
			log.WithError(err).Warn("set multicast ttl failed")
		}
		if err := conn.WritePacket(payload, dst); err != nil {
			d.fail(msg, "multicast", fmt.Errorf("multicast on %s: %w", ifi.Name, err))
			continue
		}
		log.WithField("bytes", len(payload)).Debug("multicast send")
		d.cfg.Metrics.PacketSent("multicast")
	}
}
