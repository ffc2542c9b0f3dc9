//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

// setSocketOptions applies the slot's socket options before bind.
// Windows has SO_REUSEADDR but no SO_REUSEPORT.
func setSocketOptions(fd uintptr, family endpoint.Family, reuse bool) error {
	if reuse {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if family == endpoint.FamilyIPv6 {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_V6ONLY, 1); err != nil {
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
