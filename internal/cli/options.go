package cli

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/adapter"
	"github.com/joshuafuller/ipadapter/internal/config"
	"github.com/joshuafuller/ipadapter/internal/netmon"
)

// adapterOptions maps the daemon configuration onto adapter options.
func adapterOptions(cfg *config.Config, log logrus.FieldLogger) []adapter.Option {
	opts := []adapter.Option{
		adapter.WithLogger(log),
		adapter.WithIPv4(cfg.IPv4),
		adapter.WithIPv6(cfg.IPv6),
		adapter.WithUnicastPorts(uint16(cfg.Port4), uint16(cfg.Port4S), uint16(cfg.Port6), uint16(cfg.Port6S)),
		adapter.WithMulticastTTL(cfg.MulticastTTL),
		adapter.WithQueueSize(cfg.QueueSize),
		adapter.WithSkipMobileInterfaces(cfg.SkipMobileInterfaces),
	}
	if cfg.MetricsAddr != "" {
		opts = append(opts, adapter.WithMetrics())
	}
	// Linux follows rtnetlink; everywhere else the interval drives polling.
	if runtime.GOOS != "linux" && cfg.PollInterval > 0 {
		opts = append(opts, adapter.WithMonitor(netmon.NewPollMonitor(log, cfg.PollInterval)))
	}
	return opts
}
