//go:build windows

package transport

import (
	"syscall"
	"testing"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

// TestSetSocketOptions_Windows verifies SO_REUSEADDR and IPV6_V6ONLY can be
// applied on Windows. SO_REUSEPORT does not exist there.
func TestSetSocketOptions_Windows(t *testing.T) {
	tests := []struct {
		name   string
		domain int
		family endpoint.Family
	}{
		{"ipv4 fixed port", syscall.AF_INET, endpoint.FamilyIPv4},
		{"ipv6 fixed port", syscall.AF_INET6, endpoint.FamilyIPv6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, err := syscall.Socket(tt.domain, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
			if err != nil {
				t.Skipf("socket family unavailable: %v", err)
			}
			defer func() { _ = syscall.Close(fd) }()

			if err := setSocketOptions(uintptr(fd), tt.family, true); err != nil {
				t.Fatalf("setSocketOptions() failed: %v", err)
			}
		})
	}
}
