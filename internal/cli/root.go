// Package cli implements the coapipd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joshuafuller/ipadapter/internal/config"
	"github.com/joshuafuller/ipadapter/internal/protocol"
)

// NewRootCommand builds the coapipd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "coapipd",
		Short: "CoAP over UDP/IP transport daemon",
		Long: `CoAP over UDP/IP transport daemon.

coapipd opens the CoAP unicast and multicast sockets for IPv4 and IPv6,
follows interface changes and can send single datagrams for testing.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.Bool("ipv4", false, "enable IPv4 sockets")
	flags.Bool("ipv6", false, "enable IPv6 sockets")
	flags.Int("ttl", protocol.DefaultMulticastTTL, "multicast TTL / hop limit")
	flags.Int("queue-size", protocol.DefaultQueueSize, "outbound queue capacity")
	flags.Bool("skip-mobile", false, "do not send multicast on cellular interfaces")
	flags.Bool("debug", false, "debug logging")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	root.AddCommand(newListenCommand(), newSendCommand(), newInterfacesCommand())
	return root
}

// Execute runs the command tree with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads the merged configuration for cmd and returns a logger
// configured from it.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
