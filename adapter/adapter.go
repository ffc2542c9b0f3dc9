// Package adapter implements the IP transport adapter of a CoAP stack.
//
// ## WHY THIS PACKAGE EXISTS
//
// A constrained-device messaging stack needs one component that owns every
// UDP socket, delivers inbound datagrams to the protocol layer, keeps the
// host joined to the CoAP multicast groups as interfaces come and go, and
// sends outbound datagrams without blocking the caller. This package is that
// component. CoAP message semantics, retransmission and the DTLS record
// layer live above it.
//
// ## PRIMARY TECHNICAL AUTHORITY
//
// - RFC 7252 §6: CoAP URIs and default ports (5683 plain, 5684 secure)
// - RFC 7252 §8, §12.8: Multicast CoAP and the "All CoAP Nodes" groups
// - RFC 4291 §2.7: IPv6 multicast address scopes
// - RFC 3542 §6: IPV6_PKTINFO ancillary data
//
// ## DESIGN RATIONALE
//
// Eight sockets are opened per start: plain and secure, unicast and
// multicast, for IPv4 and IPv6. Unicast sockets use ephemeral ports unless
// fixed ones are configured; multicast sockets bind the CoAP ports with
// SO_REUSEADDR so several processes can listen for group traffic.
//
// Two long-lived tasks run on the caller's Runner:
//
//  1. The receive loop: one reader goroutine per socket feeds a single
//     dispatcher, which also consumes interface change notifications. Packet
//     and state callbacks are therefore never concurrent.
//  2. The send worker: a single consumer of a bounded FIFO. SendUnicast and
//     SendMulticast only enqueue; failures surface through the error handler.
//
// Stop cancels the shared context and closes the sockets, which wakes the
// receive loop immediately.
//
// ## EXAMPLE USAGE
//
//	a, err := adapter.New(adapter.WithIPv4(true), adapter.WithIPv6(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a.SetPacketReceivedHandler(func(ep adapter.Endpoint, data []byte) {
//	    fmt.Printf("%d bytes from %s\n", len(data), ep)
//	})
//
//	var g errgroup.Group
//	if err := a.Start(&g); err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Stop()
//
//	// Discover resources on the local link
//	dst := adapter.NewEndpoint(adapter.FlagIPv6|adapter.FlagMulticast|adapter.ScopeLink, "", 0)
//	_ = a.SendMulticast(dst, request)
package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/membership"
	"github.com/joshuafuller/ipadapter/internal/metrics"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/protocol"
	"github.com/joshuafuller/ipadapter/internal/receiver"
	"github.com/joshuafuller/ipadapter/internal/sendqueue"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Adapter is the IP transport adapter.
//
// An Adapter can be started and stopped repeatedly. Each Start opens fresh
// sockets and a fresh interface monitor; each Stop releases them.
//
// Handlers are single-subscriber: setting one replaces the previous handler.
type Adapter struct {
	log        logrus.FieldLogger
	ipv4       bool
	ipv6       bool
	ports      map[transport.Slot]uint16
	security   SecurityHook
	newMonitor func(logrus.FieldLogger) netmon.Monitor
	metrics    metrics.Reporter
	queueSize  int
	skipMobile bool
	ttl        atomic.Int32

	handlerMu sync.RWMutex
	onPacket  PacketHandler
	onError   ErrorHandler
	onState   StateHandler

	mu          sync.Mutex
	started     bool
	terminating bool
	cancel      context.CancelFunc
	table       *transport.Table
	queue       *sendqueue.Queue
	members     *membership.Manager
	monitor     netmon.Monitor
}

// New creates an unstarted adapter.
//
// Parameters:
//   - opts: functional options (WithIPv4, WithIPv6, WithSecurity, ...)
//
// Returns:
//   - *Adapter: configured adapter; call Start to open sockets
//   - error: ValidationError if an option is invalid
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		log:        logrus.StandardLogger(),
		newMonitor: netmon.New,
		metrics:    metrics.Noop{},
		queueSize:  protocol.DefaultQueueSize,
	}
	a.ttl.Store(protocol.DefaultMulticastTTL)

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	a.log = a.log.WithField("component", "adapter")
	return a, nil
}

// Start opens the sockets and schedules the receive loop and send worker on
// runner. A nil runner runs them on an internal errgroup.
//
// Start is idempotent: calling it on a started adapter returns nil without
// re-initializing. When neither family is enabled, IPv4 is enabled.
//
// Returns:
//   - error: NetworkError if an enabled family has no usable socket;
//     ErrScheduleFailed if runner refuses a task. In both cases everything
//     opened so far is released.
func (a *Adapter) Start(runner Runner) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}
	if !a.ipv4 && !a.ipv6 {
		a.ipv4 = true
	}
	if runner == nil {
		runner = &errgroup.Group{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	table, err := transport.Open(ctx, transport.TableConfig{
		IPv4:         a.ipv4,
		IPv6:         a.ipv6,
		UnicastPorts: a.ports,
		Logger:       a.log,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open sockets: %w", err)
	}

	mon := a.newMonitor(a.log)
	if err := mon.Start(ctx); err != nil {
		a.log.WithError(err).Warn("interface monitoring unavailable")
	}

	members := membership.New(table, a.log)
	records, err := mon.List(0)
	if err != nil {
		a.log.WithError(err).Warn("initial interface enumeration failed")
	}
	records = a.enabledRecords(records)
	members.ApplyAll(records)

	tracker := netmon.NewTracker(mon, a.log)
	tracker.Seed(records)

	queue := sendqueue.NewQueue(a.queueSize)
	dispatcher := sendqueue.NewDispatcher(sendqueue.DispatcherConfig{
		Sockets:              table,
		Interfaces:           mon,
		Security:             a.security,
		TTL:                  a.MulticastTTL,
		SkipMobileInterfaces: a.skipMobile,
		IPv4:                 a.ipv4,
		IPv6:                 a.ipv6,
		OnError:              a.reportError,
		Metrics:              a.metrics,
		Logger:               a.log,
	})
	worker := sendqueue.NewWorker(queue, dispatcher, a.metrics, a.log)
	loop := receiver.New(receiver.Config{
		Sockets:     table,
		Monitor:     mon,
		Tracker:     tracker,
		Membership:  members,
		Security:    a.security,
		Metrics:     a.metrics,
		Logger:      a.log,
		IPv4:        a.ipv4,
		IPv6:        a.ipv6,
		OnPacket:    a.deliver,
		OnInterface: a.notifyState,
	})

	a.cancel = cancel
	a.table = table
	a.queue = queue
	a.members = members
	a.monitor = mon
	a.started = true

	if !runner.TryGo(func() error { return loop.Run(ctx) }) {
		a.stopLocked()
		return fmt.Errorf("receive loop: %w", errors.ErrScheduleFailed)
	}
	if !runner.TryGo(func() error { return worker.Run(ctx) }) {
		a.stopLocked()
		return fmt.Errorf("send worker: %w", errors.ErrScheduleFailed)
	}

	a.log.WithFields(logrus.Fields{
		"ipv4":  a.ipv4,
		"ipv6":  a.ipv6,
		"u4":    table.Port(transport.SlotU4),
		"u6":    table.Port(transport.SlotU6),
		"slots": len(table.Bound()),
	}).Info("adapter started")
	return nil
}

// Stop cancels the background tasks, closes the send queue, the sockets
// and the interface monitor. It is idempotent and safe after a failed Start.
// Stop does not wait for the tasks to return; use the Runner for that.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	if !a.started {
		return
	}
	a.terminating = true

	a.cancel()
	a.queue.Close()
	if err := a.table.CloseAll(); err != nil {
		a.log.WithError(err).Warn("closing sockets")
	}
	if err := a.monitor.Close(); err != nil {
		a.log.WithError(err).Warn("closing interface monitor")
	}

	a.cancel = nil
	a.table = nil
	a.queue = nil
	a.members = nil
	a.monitor = nil
	a.started = false
	a.terminating = false
	a.log.Info("adapter stopped")
}

// IsStarted reports whether the adapter is running.
func (a *Adapter) IsStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.terminating
}

// StartListening joins the CoAP multicast groups on every up interface.
// Unicast sockets are not affected.
func (a *Adapter) StartListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return errors.ErrNotStarted
	}
	records, err := a.monitor.List(0)
	if err != nil {
		return &errors.NetworkError{Operation: "list interfaces", Err: err}
	}
	a.members.ApplyAll(a.enabledRecords(records))
	return nil
}

// StopListening leaves the CoAP multicast groups on every interface.
// The multicast sockets stay open and unicast traffic is not affected.
func (a *Adapter) StopListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return errors.ErrNotStarted
	}
	records, err := a.monitor.List(0)
	if err != nil {
		return &errors.NetworkError{Operation: "list interfaces", Err: err}
	}
	a.members.DropAll(a.enabledRecords(records))
	return nil
}

// SendUnicast queues data for ep.
//
// Success means the datagram was accepted into the send queue, not that it
// was delivered. A port of zero selects 5683, or 5684 for secure endpoints.
//
// Returns:
//   - error: ValidationError for an empty or oversized payload, an endpoint
//     without address family or without address; ErrNotStarted;
//     ErrQueueFull
func (a *Adapter) SendUnicast(ep Endpoint, data []byte) error {
	if err := validate(ep, data, true); err != nil {
		return err
	}
	ep.Flags &^= endpoint.Multicast
	return a.enqueue(ep, data, false)
}

// SendMulticast queues data for the CoAP group of every family flagged on
// ep. The address and port of ep are ignored; the scope nibble selects the
// IPv6 group (link-local when zero).
func (a *Adapter) SendMulticast(ep Endpoint, data []byte) error {
	if err := validate(ep, data, false); err != nil {
		return err
	}
	ep.Flags |= endpoint.Multicast
	return a.enqueue(ep, data, true)
}

func (a *Adapter) enqueue(ep Endpoint, data []byte, multicast bool) error {
	a.mu.Lock()
	queue := a.queue
	running := a.started && !a.terminating
	a.mu.Unlock()

	if !running {
		return errors.ErrNotStarted
	}
	if ep.Adapter == 0 {
		ep.Adapter = endpoint.AdapterIP
	}
	if err := queue.Enqueue(ep, data, multicast); err != nil {
		return err
	}
	a.metrics.QueueDepth(queue.Len())
	return nil
}

func validate(ep Endpoint, data []byte, unicast bool) error {
	switch {
	case len(data) == 0:
		return &errors.ValidationError{Field: "payload", Value: 0, Message: "must not be empty"}
	case len(data) > protocol.MaxPDUSize:
		return &errors.ValidationError{Field: "payload", Value: len(data), Message: fmt.Sprintf("exceeds %d bytes", protocol.MaxPDUSize)}
	case !ep.Flags.Has(endpoint.IPv4) && !ep.Flags.Has(endpoint.IPv6):
		return &errors.ValidationError{Field: "flags", Value: ep.Flags, Message: "no address family"}
	case unicast && ep.Addr == "":
		return &errors.ValidationError{Field: "addr", Value: ep.Addr, Message: "must not be empty"}
	}
	return nil
}

// GetInterfaceInfo returns one endpoint per address of every up interface of
// an enabled family, carrying the plain unicast port of that family. IPv6
// link-local addresses carry the interface name as zone. When a
// security hook is configured, each address is reported a second time with
// FlagSecure and the secure unicast port.
func (a *Adapter) GetInterfaceInfo() ([]Endpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil, errors.ErrNotStarted
	}

	records, err := a.monitor.List(0)
	if err != nil {
		return nil, &errors.NetworkError{Operation: "list interfaces", Err: err}
	}

	var out []Endpoint
	for _, r := range a.enabledRecords(records) {
		if !r.IsUpRunning() {
			continue
		}
		ep := Endpoint{
			Adapter: endpoint.AdapterIP,
			Flags:   r.Family.Flag(),
			Addr:    r.ZonedAddr(),
			Port:    a.table.Port(transport.SlotFor(r.Family, false, false)),
			IfIndex: uint32(r.Index),
		}
		out = append(out, ep)
		if a.security != nil {
			secure := ep
			secure.Flags |= endpoint.Secure
			secure.Port = a.table.Port(transport.SlotFor(r.Family, true, false))
			out = append(out, secure)
		}
	}
	return out, nil
}

// Port returns the port bound for slot, or 0 when the slot is unbound or the
// adapter is stopped.
func (a *Adapter) Port(slot Slot) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return 0
	}
	return a.table.Port(slot)
}

// SetMulticastTTL sets the TTL (IPv6 hop limit) of subsequent multicast
// sends. It may be called at any time.
func (a *Adapter) SetMulticastTTL(ttl int) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	a.ttl.Store(int32(ttl))
	return nil
}

// MulticastTTL returns the current multicast TTL.
func (a *Adapter) MulticastTTL() int {
	return int(a.ttl.Load())
}

// SetPacketReceivedHandler registers the packet handler, replacing any
// previous one. A nil handler drops received datagrams.
func (a *Adapter) SetPacketReceivedHandler(h PacketHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.onPacket = h
}

// SetErrorHandler registers the send failure handler.
func (a *Adapter) SetErrorHandler(h ErrorHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.onError = h
}

// SetStateChangedHandler registers the interface state handler.
func (a *Adapter) SetStateChangedHandler(h StateHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.onState = h
}

func (a *Adapter) deliver(ep endpoint.Endpoint, data []byte) {
	a.handlerMu.RLock()
	h := a.onPacket
	a.handlerMu.RUnlock()
	if h != nil {
		h(ep, data)
	}
}

func (a *Adapter) reportError(ep endpoint.Endpoint, data []byte, err error) {
	a.handlerMu.RLock()
	h := a.onError
	a.handlerMu.RUnlock()
	if h != nil {
		h(ep, data, err)
	}
}

func (a *Adapter) notifyState(ev netmon.Event) {
	a.handlerMu.RLock()
	h := a.onState
	a.handlerMu.RUnlock()
	if h != nil {
		h(ev.Status, ev.Interface)
	}
}

func (a *Adapter) enabledRecords(records []netmon.Interface) []netmon.Interface {
	out := records[:0:0]
	for _, r := range records {
		if (r.Family == endpoint.FamilyIPv4 && a.ipv4) || (r.Family == endpoint.FamilyIPv6 && a.ipv6) {
			out = append(out, r)
		}
	}
	return out
}
