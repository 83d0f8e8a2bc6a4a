package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "lifod/internal/errors"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, user)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestApplyTunnel(t *testing.T) {
	cfg := Default()
	cfg.Tunnel = "ops@gw:2022"
	require.NoError(t, cfg.ApplyTunnel())
	assert.True(t, cfg.TunnelEnabled)
	assert.Equal(t, "ops", cfg.TunnelUser)
	assert.Equal(t, "gw", cfg.TunnelHost)
	assert.Equal(t, 2022, cfg.TunnelPort)

	cfg.Tunnel = ""
	require.NoError(t, cfg.ApplyTunnel())
	assert.False(t, cfg.TunnelEnabled)

	cfg.Tunnel = "u@h:0x"
	var ce *lerrors.ConfigError
	require.ErrorAs(t, cfg.ApplyTunnel(), &ce)
	assert.Equal(t, "tunnel", ce.Field)
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	with := func(mode string, mut func(c *Config)) Config {
		c := Default()
		c.Mode = mode
		if mut != nil {
			mut(c)
		}
		return *c
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults serve", with(ModeServe, nil), false},
		{"defaults pop", with(ModePop, nil), false},
		{"defaults push", with(ModePush, nil), false},
		{"defaults shell", with(ModeShell, nil), false},
		{"unix endpoints", with(ModeServe, func(c *Config) {
			c.WriteAddr, c.ReadAddr = "unix:/tmp/w.sock", "unix:/tmp/r.sock"
		}), false},
		{"unknown mode", with("listen", nil), true},
		{"empty mode", with("", nil), true},
		{"bad write addr", with(ModeServe, func(c *Config) { c.WriteAddr = "nowhere" }), true},
		{"bad read addr", with(ModeServe, func(c *Config) { c.ReadAddr = "unix:" }), true},
		{"same endpoints", with(ModeServe, func(c *Config) { c.ReadAddr = c.WriteAddr }), true},
		{"zero capacity", with(ModeServe, func(c *Config) { c.Capacity = 0 }), true},
		{"negative memory", with(ModeServe, func(c *Config) { c.MemoryLimit = -1 }), true},
		{"bad log format", with(ModeServe, func(c *Config) { c.LogFormat = "xml" }), true},
		{"serve through tunnel", with(ModeServe, func(c *Config) {
			c.TunnelEnabled, c.TunnelHost = true, "gw"
		}), false},
		{"serve unix through tunnel", with(ModeServe, func(c *Config) {
			c.TunnelEnabled, c.TunnelHost = true, "gw"
			c.WriteAddr = "unix:/tmp/lifo_write.sock"
		}), true},
		{"rate without burst", with(ModeServe, func(c *Config) { c.WriteRate, c.WriteBurst = 10, 0 }), true},
		{"rate with burst", with(ModeServe, func(c *Config) { c.WriteRate = 10 }), false},
		{"bad metrics addr", with(ModeServe, func(c *Config) { c.MetricsAddr = "metrics" }), true},
		{"pop zero count", with(ModePop, func(c *Config) { c.Count = 0 }), true},
		{"push single frame", with(ModePush, func(c *Config) { c.ChunkSize = 0 }), false},
		{"push negative chunk", with(ModePush, func(c *Config) { c.ChunkSize = -1 }), true},
		{"push chunked", with(ModePush, func(c *Config) { c.ChunkSize = 512 }), false},
		{"selftest scenario 2", with(ModeSelfTest, func(c *Config) { c.Scenario = 2 }), false},
		{"selftest scenario 3", with(ModeSelfTest, func(c *Config) { c.Scenario = 3 }), true},
		{"pop through tunnel", with(ModePop, func(c *Config) {
			c.TunnelEnabled, c.TunnelHost, c.TunnelUser = true, "gw", "u"
		}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
