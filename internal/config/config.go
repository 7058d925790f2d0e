package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for a node process.
type Config struct {
	// Node endpoint. Port 0 asks the OS for a port; the bound port is
	// written back before the node identifier is derived.
	Host string
	Port int

	// HTTP admin API port; 0 disables the API.
	HTTPPort int

	// Bootstrap endpoint of an existing ring member. A zero port means
	// this process starts a new ring.
	BootstrapHost string
	BootstrapPort int

	// M is the identifier space width in bits; the ring has 2^M slots.
	M int

	// RPCTimeout bounds dial and I/O on each remote call. Zero means
	// calls block until the transport fails.
	RPCTimeout time.Duration

	// Logging
	LogLevel  string // trace, debug, info, warn, error
	LogFormat string // json, console
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:       "127.0.0.1",
		Port:       0,
		HTTPPort:   0,
		M:          7, // 128-slot ring
		RPCTimeout: 5 * time.Second,
		LogLevel:   "info",
		LogFormat:  "console",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.M < 1 || c.M > 63 {
		return fmt.Errorf("M must be between 1 and 63, got %d", c.M)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.BootstrapPort < 0 || c.BootstrapPort > 65535 {
		return fmt.Errorf("invalid bootstrap port: %d", c.BootstrapPort)
	}
	if c.RPCTimeout < 0 {
		return fmt.Errorf("RPC timeout cannot be negative")
	}
	return nil
}
