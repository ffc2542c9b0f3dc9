//go:build !windows

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

// setSocketOptions applies the slot's socket options before bind.
func setSocketOptions(fd uintptr, family endpoint.Family, reuse bool) error {
	if reuse {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if family == endpoint.FamilyIPv6 {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return err
		}
	}
	return nil
}

func controlFunc(family endpoint.Family, reuse bool) func(string, string, syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) (err error) {
		controlErr := c.Control(func(fd uintptr) {
			err = setSocketOptions(fd, family, reuse)
		})
		if controlErr != nil {
			err = controlErr
		}
		return
	}
}
