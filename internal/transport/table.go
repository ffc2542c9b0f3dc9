package transport

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/protocol"
)

// TableConfig selects which slots Open binds.
type TableConfig struct {
	IPv4 bool
	IPv6 bool

	// UnicastPorts holds fixed ports for unicast slots. Missing or zero
	// entries bind an ephemeral port. Entries for multicast slots are ignored.
	UnicastPorts map[Slot]uint16

	Logger logrus.FieldLogger
}

// Table is the set of open sockets, indexed by slot. A nil entry is unbound.
//
// The table is written once by Open (or NewTable) and is read-only until
// CloseAll, so lookups need no locking.
type Table struct {
	conns [slotCount]Conn
}

// NewTable builds a table from already open connections.
func NewTable(conns map[Slot]Conn) *Table {
	t := &Table{}
	for slot, c := range conns {
		if slot >= 0 && slot < slotCount {
			t.conns[slot] = c
		}
	}
	return t
}

type opener func(ctx context.Context, slot Slot, port uint16, log logrus.FieldLogger) (Conn, error)

func openSocket(ctx context.Context, slot Slot, port uint16, log logrus.FieldLogger) (Conn, error) {
	s, err := OpenSocket(ctx, slot, port, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open binds the slots of every enabled family.
//
// Multicast slots bind 5683 (plain) and 5684 (secure). Unicast slots bind the
// configured port; if that fails they are retried once on an ephemeral port.
// Slots open in {plain, secure} pairs: if either member fails, both are
// closed and the failure is logged. Open fails only when an enabled family
// ends up with no open slot at all; in that case every socket already opened
// is closed.
//
// Returns:
//   - *Table: the bound sockets
//   - error: NetworkError describing the family that could not be bound
func Open(ctx context.Context, cfg TableConfig) (*Table, error) {
	return openWith(ctx, cfg, openSocket)
}

func openWith(ctx context.Context, cfg TableConfig, open opener) (*Table, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "transport")

	t := &Table{}
	var families []endpoint.Family
	if cfg.IPv6 {
		families = append(families, endpoint.FamilyIPv6)
	}
	if cfg.IPv4 {
		families = append(families, endpoint.FamilyIPv4)
	}

	for _, family := range families {
		var failures []error
		for _, multicast := range []bool{false, true} {
			plain := SlotFor(family, false, multicast)
			if err := t.openPair(ctx, plain, cfg.UnicastPorts, open, log); err != nil {
				failures = append(failures, err)
				log.WithError(err).WithField("slot", plain.String()).Error("socket pair unavailable")
			}
		}

		if !t.hasFamily(family) {
			_ = t.CloseAll()
			return nil, &errors.NetworkError{
				Operation: "open sockets",
				Err:       stderrors.Join(failures...),
				Details:   "no usable socket for " + family.String(),
			}
		}
	}

	log.WithFields(logrus.Fields{
		"u6": t.Port(SlotU6), "u6s": t.Port(SlotU6S),
		"u4": t.Port(SlotU4), "u4s": t.Port(SlotU4S),
		"m6": t.Port(SlotM6), "m6s": t.Port(SlotM6S),
		"m4": t.Port(SlotM4), "m4s": t.Port(SlotM4S),
	}).Debug("port summary")

	return t, nil
}

func (t *Table) openPair(ctx context.Context, plain Slot, ports map[Slot]uint16, open opener, log logrus.FieldLogger) error {
	var opened []Conn
	for _, slot := range []Slot{plain, plain.Pair()} {
		c, err := openSlot(ctx, slot, ports, open, log)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return err
		}
		opened = append(opened, c)
	}
	t.conns[plain] = opened[0]
	t.conns[plain.Pair()] = opened[1]
	return nil
}

func openSlot(ctx context.Context, slot Slot, ports map[Slot]uint16, open opener, log logrus.FieldLogger) (Conn, error) {
	if slot.IsMulticast() {
		return open(ctx, slot, protocol.PortFor(slot.IsSecure()), log)
	}

	port := ports[slot]
	c, err := open(ctx, slot, port, log)
	if err == nil || port == 0 {
		return c, err
	}
	log.WithError(err).WithFields(logrus.Fields{"slot": slot.String(), "port": port}).
		Warn("fixed port unavailable, retrying on an ephemeral port")
	return open(ctx, slot, 0, log)
}

func (t *Table) hasFamily(family endpoint.Family) bool {
	for _, s := range Slots() {
		if s.Family() == family && t.conns[s] != nil {
			return true
		}
	}
	return false
}

// Conn returns the connection bound to slot, or false when unbound.
func (t *Table) Conn(slot Slot) (Conn, bool) {
	if t == nil || slot < 0 || slot >= slotCount || t.conns[slot] == nil {
		return nil, false
	}
	return t.conns[slot], true
}

// Port returns the port bound for slot, or 0 when unbound.
func (t *Table) Port(slot Slot) uint16 {
	c, ok := t.Conn(slot)
	if !ok {
		return 0
	}
	return c.LocalPort()
}

// Bound returns the open slots in table order.
func (t *Table) Bound() []Slot {
	var out []Slot
	for _, s := range Slots() {
		if _, ok := t.Conn(s); ok {
			out = append(out, s)
		}
	}
	return out
}

// CloseAll closes every open socket. Lookups stay valid afterwards and
// return the closed connections, whose operations fail with net.ErrClosed.
func (t *Table) CloseAll() error {
	if t == nil {
		return nil
	}
	var errs []error
	for i, c := range t.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("slot %s: %w", Slot(i), err))
		}
	}
	return stderrors.Join(errs...)
}
