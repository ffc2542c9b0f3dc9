//go:build !linux

package netmon

import "github.com/sirupsen/logrus"

func newPlatformMonitor(log logrus.FieldLogger) Monitor {
	return NewPollMonitor(log, 0)
}
