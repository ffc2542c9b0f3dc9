package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, c.MulticastTTL)
	assert.Equal(t, 1024, c.QueueSize)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.False(t, c.IPv4)
	assert.False(t, c.IPv6)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "coapipd.yaml")
	require.NoError(t, os.WriteFile(file, []byte("ttl: 8\nqueue-size: 64\nipv6: true\n"), 0o600))

	t.Setenv("COAPIP_QUEUE_SIZE", "128")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("ttl", 1, "")
	require.NoError(t, flags.Parse([]string{"--ttl=16"}))

	c, err := Load(file, flags)
	require.NoError(t, err)

	assert.Equal(t, 16, c.MulticastTTL, "flag beats file")
	assert.Equal(t, 128, c.QueueSize, "env beats file")
	assert.True(t, c.IPv6, "file beats default")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{MulticastTTL: 1, QueueSize: 10, LogLevel: "info", LogFormat: "text"}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"ttl zero", func(c *Config) { c.MulticastTTL = 0 }, true},
		{"ttl too large", func(c *Config) { c.MulticastTTL = 256 }, true},
		{"queue zero", func(c *Config) { c.QueueSize = 0 }, true},
		{"port out of range", func(c *Config) { c.Port4 = 70000 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"metrics addr", func(c *Config) { c.MetricsAddr = "localhost:9100" }, false},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "no-port" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
