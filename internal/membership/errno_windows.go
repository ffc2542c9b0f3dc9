//go:build windows

package membership

import (
	"errors"
	"syscall"
)

// Winsock error codes returned by IP_ADD_MEMBERSHIP / IPV6_ADD_MEMBERSHIP.
const (
	wsaeinval     = syscall.Errno(10022)
	wsaeaddrinuse = syscall.Errno(10048)
)

// classifyJoinError handles Winsock's duplicate-join answers. WSAEINVAL is
// returned for a stale membership and is resolved by leaving and joining
// again.
func classifyJoinError(err error) joinResult {
	switch {
	case errors.Is(err, wsaeaddrinuse):
		return joinAlreadyMember
	case errors.Is(err, wsaeinval):
		return joinRejoin
	default:
		return joinFailed
	}
}
