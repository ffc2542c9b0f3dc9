// Package receiver runs the adapter's receive loop.
//
// One reader goroutine per open socket blocks in ReadPacket and hands each
// datagram to a single dispatcher goroutine. The dispatcher also consumes
// interface change notifications, so packet and interface callbacks are
// never invoked concurrently. Cancelling the context passed to Run stops the
// dispatcher immediately; readers exit once their sockets are closed.
package receiver

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/metrics"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/security"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Sockets is the read side of the socket table.
type Sockets interface {
	Bound() []transport.Slot
	Conn(slot transport.Slot) (transport.Conn, bool)
}

// Membership re-applies multicast membership when an interface comes up.
type Membership interface {
	Apply(ifIndex int, family endpoint.Family) int
}

// Config wires the loop to its collaborators. Sockets is required; every
// other field may be nil.
type Config struct {
	Sockets    Sockets
	Monitor    netmon.Monitor
	Tracker    *netmon.Tracker
	Membership Membership
	Security   security.Hook
	Metrics    metrics.Reporter
	Logger     logrus.FieldLogger

	// IPv4 and IPv6 select the families whose interface events are handled.
	IPv4 bool
	IPv6 bool

	// OnPacket receives every delivered datagram. data is owned by the callee.
	OnPacket func(ep endpoint.Endpoint, data []byte)

	// OnInterface receives interface transitions of enabled families.
	OnInterface func(ev netmon.Event)
}

// Loop is the receive loop.
type Loop struct {
	cfg Config
	log logrus.FieldLogger
}

type datagram struct {
	slot transport.Slot
	buf  *[]byte
	n    int
	src  net.Addr
	info endpoint.PacketInfo
}

// New returns a loop for cfg.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Tracker == nil && cfg.Monitor != nil {
		cfg.Tracker = netmon.NewTracker(cfg.Monitor, cfg.Logger)
	}
	return &Loop{cfg: cfg, log: cfg.Logger.WithField("component", "receiver")}
}

// Run waits for datagrams and interface changes until ctx is cancelled.
// It always returns nil; read failures are logged and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	packets := make(chan datagram)
	for _, slot := range l.cfg.Sockets.Bound() {
		conn, ok := l.cfg.Sockets.Conn(slot)
		if !ok {
			continue
		}
		go l.read(ctx, slot, conn, packets)
	}

	var changes <-chan netmon.Change
	if l.cfg.Monitor != nil {
		changes = l.cfg.Monitor.Changes()
	}

	l.log.Debug("receive loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("receive loop stopped")
			return nil

		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			l.handleChange(c)

		case d := <-packets:
			l.dispatch(d)
			transport.PutBuffer(d.buf)
		}
	}
}

func (l *Loop) read(ctx context.Context, slot transport.Slot, conn transport.Conn, out chan<- datagram) {
	log := l.log.WithField("slot", slot.String())
	for {
		buf := transport.GetBuffer()
		n, src, info, err := conn.ReadPacket(*buf)
		if err != nil {
			transport.PutBuffer(buf)
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			l.cfg.Metrics.ReceiveError(slot.String())
			log.WithError(err).Warn("receive failed")
			continue
		}

		select {
		case out <- datagram{slot: slot, buf: buf, n: n, src: src, info: info}:
		case <-ctx.Done():
			transport.PutBuffer(buf)
			return
		}
	}
}

func (l *Loop) dispatch(d datagram) {
	ep, err := endpoint.AddrToEndpoint(d.src, d.info, d.slot.Flags())
	if err != nil {
		l.log.WithError(err).WithField("slot", d.slot.String()).Warn("undecodable source address")
		return
	}

	data := make([]byte, d.n)
	copy(data, (*d.buf)[:d.n])
	l.cfg.Metrics.PacketReceived(d.slot.String(), d.n)

	log := l.log.WithFields(logrus.Fields{"slot": d.slot.String(), "from": ep.String(), "bytes": d.n})
	log.Debug("datagram received")

	if d.slot.IsSecure() {
		if l.cfg.Security == nil {
			log.Warn("secure datagram dropped, no security hook")
			return
		}
		plain, err := l.cfg.Security.Decrypt(ep, data)
		if err != nil {
			log.WithError(err).Warn("decrypt failed")
			return
		}
		if plain == nil {
			return
		}
		data = plain
	}

	if l.cfg.OnPacket != nil {
		l.cfg.OnPacket(ep, data)
	}
}

func (l *Loop) handleChange(c netmon.Change) {
	if l.cfg.Tracker == nil {
		return
	}
	for _, ev := range l.cfg.Tracker.Process(c) {
		if !l.enabled(ev.Interface.Family) {
			continue
		}
		l.log.WithFields(logrus.Fields{
			"interface": ev.Interface.Name,
			"index":     ev.Interface.Index,
			"addr":      ev.Interface.Addr,
			"status":    ev.Status.String(),
		}).Info("interface changed")

		if ev.Status == netmon.InterfaceUp && l.cfg.Membership != nil {
			l.cfg.Membership.Apply(ev.Interface.Index, ev.Interface.Family)
		}
		l.cfg.Metrics.InterfaceEvent(ev.Status.String())
		if l.cfg.OnInterface != nil {
			l.cfg.OnInterface(ev)
		}
	}
}

func (l *Loop) enabled(f endpoint.Family) bool {
	if f == endpoint.FamilyIPv6 {
		return l.cfg.IPv6
	}
	return l.cfg.IPv4
}
