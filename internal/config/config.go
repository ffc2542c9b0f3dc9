// Package config loads the daemon configuration from flags, environment
// variables (COAPIP_*) and an optional YAML file, in that order of
// precedence, and validates it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joshuafuller/ipadapter/internal/protocol"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "COAPIP"

// Config is the daemon configuration.
type Config struct {
	IPv4 bool `mapstructure:"ipv4"`
	IPv6 bool `mapstructure:"ipv6"`

	// Fixed unicast ports; zero selects an ephemeral port.
	Port4  int `mapstructure:"port4" validate:"min=0,max=65535"`
	Port4S int `mapstructure:"port4s" validate:"min=0,max=65535"`
	Port6  int `mapstructure:"port6" validate:"min=0,max=65535"`
	Port6S int `mapstructure:"port6s" validate:"min=0,max=65535"`

	MulticastTTL         int           `mapstructure:"ttl" validate:"min=1,max=255"`
	QueueSize            int           `mapstructure:"queue-size" validate:"min=1,max=1048576"`
	SkipMobileInterfaces bool          `mapstructure:"skip-mobile"`
	PollInterval         time.Duration `mapstructure:"poll-interval" validate:"min=0"`

	LogLevel    string `mapstructure:"log-level" validate:"oneof=trace debug info warn error"`
	LogFormat   string `mapstructure:"log-format" validate:"oneof=text json"`
	MetricsAddr string `mapstructure:"metrics-addr" validate:"omitempty,hostname_port"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ipv4", false)
	v.SetDefault("ipv6", false)
	v.SetDefault("port4", 0)
	v.SetDefault("port4s", 0)
	v.SetDefault("port6", 0)
	v.SetDefault("port6s", 0)
	v.SetDefault("ttl", protocol.DefaultMulticastTTL)
	v.SetDefault("queue-size", protocol.DefaultQueueSize)
	v.SetDefault("skip-mobile", false)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("metrics-addr", "")
}

// Load builds a Config. flags may be nil; configFile may be empty.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
