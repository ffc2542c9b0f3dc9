package adapter

import (
	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/metrics"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Option is a functional option for configuring an Adapter.
//
// Options are applied by New before the adapter is started. An option
// returning an error makes New fail with that error.
//
// Example:
//
//	a, err := adapter.New(
//	    adapter.WithIPv4(true),
//	    adapter.WithIPv6(true),
//	    adapter.WithLogger(logrus.WithField("app", "gateway")),
//	)
type Option func(*Adapter) error

// WithIPv4 enables or disables the IPv4 sockets.
//
// When neither family is enabled, Start enables IPv4.
func WithIPv4(enabled bool) Option {
	return func(a *Adapter) error {
		a.ipv4 = enabled
		return nil
	}
}

// WithIPv6 enables or disables the IPv6 sockets.
func WithIPv6(enabled bool) Option {
	return func(a *Adapter) error {
		a.ipv6 = enabled
		return nil
	}
}

// WithUnicastPorts fixes the ports of the unicast sockets.
//
// Zero keeps the default, an OS-assigned ephemeral port. A fixed port that
// cannot be bound falls back to an ephemeral one at Start.
//
// Parameters:
//   - port4, port4s: plain and secure IPv4 unicast ports
//   - port6, port6s: plain and secure IPv6 unicast ports
func WithUnicastPorts(port4, port4s, port6, port6s uint16) Option {
	return func(a *Adapter) error {
		a.ports = map[transport.Slot]uint16{
			transport.SlotU4:  port4,
			transport.SlotU4S: port4s,
			transport.SlotU6:  port6,
			transport.SlotU6S: port6s,
		}
		return nil
	}
}

// WithSecurity installs the DTLS hook used for secure endpoints.
//
// Without a hook, secure datagrams are dropped on receipt, secure sends fail
// through the error handler, and GetInterfaceInfo reports plain endpoints
// only.
func WithSecurity(hook SecurityHook) Option {
	return func(a *Adapter) error {
		a.security = hook
		return nil
	}
}

// WithMonitor uses mon for interface enumeration and change notification
// instead of the platform monitor. mon is started on every Start and closed
// on every Stop, so it must support being restarted.
func WithMonitor(mon netmon.Monitor) Option {
	return func(a *Adapter) error {
		if mon == nil {
			return &errors.ValidationError{Field: "monitor", Value: nil, Message: "must not be nil"}
		}
		a.newMonitor = func(logrus.FieldLogger) netmon.Monitor { return mon }
		return nil
	}
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Adapter) error {
		if log == nil {
			return &errors.ValidationError{Field: "logger", Value: nil, Message: "must not be nil"}
		}
		a.log = log
		return nil
	}
}

// WithMetrics enables Prometheus counters for traffic, failures and
// interface events.
func WithMetrics() Option {
	return func(a *Adapter) error {
		a.metrics = metrics.NewPrometheus()
		return nil
	}
}

// WithQueueSize bounds the outbound queue. SendUnicast and SendMulticast
// fail with ErrQueueFull once size messages are waiting.
func WithQueueSize(size int) Option {
	return func(a *Adapter) error {
		if size < 1 {
			return &errors.ValidationError{Field: "queue size", Value: size, Message: "must be at least 1"}
		}
		a.queueSize = size
		return nil
	}
}

// WithMulticastTTL sets the initial multicast TTL (hop limit for IPv6).
func WithMulticastTTL(ttl int) Option {
	return func(a *Adapter) error {
		if err := checkTTL(ttl); err != nil {
			return err
		}
		a.ttl.Store(int32(ttl))
		return nil
	}
}

// WithSkipMobileInterfaces keeps multicast traffic off cellular data
// interfaces (rmnet*, pdp*).
func WithSkipMobileInterfaces(skip bool) Option {
	return func(a *Adapter) error {
		a.skipMobile = skip
		return nil
	}
}

func checkTTL(ttl int) error {
	if ttl < 1 || ttl > 255 {
		return &errors.ValidationError{Field: "ttl", Value: ttl, Message: "must be within 1..255"}
	}
	return nil
}
