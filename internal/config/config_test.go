package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, 7, cfg.M)
	assert.Equal(t, 5*time.Second, cfg.RPCTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Port = 4000
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("M bounds", func(t *testing.T) {
		for _, m := range []int{0, -1, 64} {
			cfg := valid()
			cfg.M = m
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "M must be between")
		}
		for _, m := range []int{1, 7, 63} {
			cfg := valid()
			cfg.M = m
			assert.NoError(t, cfg.Validate())
		}
	})

	t.Run("port bounds", func(t *testing.T) {
		cfg := valid()
		cfg.Port = -1
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.Port = 70000
		assert.Error(t, cfg.Validate())

		// Port 0 is legal: the OS assigns one at bind time.
		cfg = valid()
		cfg.Port = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("http port bounds", func(t *testing.T) {
		cfg := valid()
		cfg.HTTPPort = -1
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.HTTPPort = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("bootstrap port bounds", func(t *testing.T) {
		cfg := valid()
		cfg.BootstrapPort = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative rpc timeout", func(t *testing.T) {
		cfg := valid()
		cfg.RPCTimeout = -time.Second
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("zero rpc timeout blocks forever and is legal", func(t *testing.T) {
		cfg := valid()
		cfg.RPCTimeout = 0
		assert.NoError(t, cfg.Validate())
	})
}
