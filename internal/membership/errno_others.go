//go:build !windows

package membership

import (
	"errors"

	"golang.org/x/sys/unix"
)

// classifyJoinError maps EADDRINUSE, the kernel's answer to a duplicate
// join, to success.
func classifyJoinError(err error) joinResult {
	if errors.Is(err, unix.EADDRINUSE) {
		return joinAlreadyMember
	}
	return joinFailed
}
