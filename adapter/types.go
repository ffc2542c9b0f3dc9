package adapter

import (
	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/security"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

// Endpoint identifies a peer: address, port, transport flags and the
// interface a packet arrived on.
type Endpoint = endpoint.Endpoint

// Flags is the transport flag word of an Endpoint.
type Flags = endpoint.Flags

// Transport flags.
const (
	FlagSecure    = endpoint.Secure
	FlagIPv6      = endpoint.IPv6
	FlagIPv4      = endpoint.IPv4
	FlagMulticast = endpoint.Multicast
)

// IPv6 multicast scopes, carried in the low nibble of Flags.
const (
	ScopeInterface = endpoint.ScopeInterface
	ScopeLink      = endpoint.ScopeLink
	ScopeRealm     = endpoint.ScopeRealm
	ScopeAdmin     = endpoint.ScopeAdmin
	ScopeSite      = endpoint.ScopeSite
	ScopeOrg       = endpoint.ScopeOrg
	ScopeGlobal    = endpoint.ScopeGlobal
)

// NewEndpoint returns an IP endpoint.
func NewEndpoint(flags Flags, addr string, port uint16) Endpoint {
	return endpoint.New(flags, addr, port)
}

// Interface is one address of a network interface.
type Interface = netmon.Interface

// InterfaceStatus reports whether an interface address came up or went down.
type InterfaceStatus = netmon.Status

const (
	InterfaceUp   = netmon.InterfaceUp
	InterfaceDown = netmon.InterfaceDown
)

// SecurityHook encrypts and decrypts secure datagrams.
type SecurityHook = security.Hook

// SecurityFuncs adapts plain functions to a SecurityHook.
type SecurityFuncs = security.HookFuncs

// Slot names one of the adapter's eight sockets.
type Slot = transport.Slot

const (
	SlotU6  = transport.SlotU6
	SlotU6S = transport.SlotU6S
	SlotU4  = transport.SlotU4
	SlotU4S = transport.SlotU4S
	SlotM6  = transport.SlotM6
	SlotM6S = transport.SlotM6S
	SlotM4  = transport.SlotM4
	SlotM4S = transport.SlotM4S
)

// Runner schedules long-lived tasks. *errgroup.Group satisfies it.
type Runner interface {
	TryGo(fn func() error) bool
}

// PacketHandler receives every delivered datagram. data is owned by the
// handler. Calls are never concurrent.
type PacketHandler func(ep Endpoint, data []byte)

// ErrorHandler receives asynchronous send failures with the endpoint and
// payload that could not be sent.
type ErrorHandler func(ep Endpoint, data []byte, err error)

// StateHandler receives interface transitions.
type StateHandler func(status InterfaceStatus, ifi Interface)

// Errors returned by the adapter; match with errors.Is.
var (
	ErrNotStarted        = errors.ErrNotStarted
	ErrInvalidArgument   = errors.ErrInvalidArgument
	ErrQueueFull         = errors.ErrQueueFull
	ErrQueueClosed       = errors.ErrQueueClosed
	ErrNoSecurity        = errors.ErrNoSecurity
	ErrSocketUnavailable = errors.ErrSocketUnavailable
	ErrInvalidScope      = errors.ErrInvalidScope
	ErrFamilyDisabled    = errors.ErrFamilyDisabled
	ErrScheduleFailed    = errors.ErrScheduleFailed
)

// NetworkError reports a socket failure; ValidationError an invalid argument.
type (
	NetworkError    = errors.NetworkError
	ValidationError = errors.ValidationError
)
