package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Worker.NumWorkers)
	assert.Equal(t, uint16(40000), cfg.Worker.RTCMinPort)
	assert.Equal(t, uint16(49999), cfg.Worker.RTCMaxPort)
	assert.Len(t, cfg.Router.MediaCodecs, 6)
}

func TestValidate_RequiresAnnouncedIPForWildcardListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.ListenIP = "0.0.0.0"
	cfg.Router.AnnouncedIP = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announced_ip")
}

func TestValidate_AnnouncedIPOptionalForConcreteListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.ListenIP = "192.168.1.10"
	cfg.Router.AnnouncedIP = ""
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"num workers must be > 0", func(c *Config) { c.Worker.NumWorkers = 0 }},
		{"rtc port range must be ordered", func(c *Config) { c.Worker.RTCMinPort = 50000; c.Worker.RTCMaxPort = 40000 }},
		{"listen ip required", func(c *Config) { c.Router.ListenIP = "" }},
		{"media codecs required", func(c *Config) { c.Router.MediaCodecs = nil }},
		{"initial bitrate must be > 0", func(c *Config) { c.Router.InitialAvailableOutgoingBitrate = 0 }},
		{"minimum bitrate must be > 0", func(c *Config) { c.Router.MinimumAvailableOutgoingBitrate = 0 }},
		{"minimum bitrate must not exceed initial", func(c *Config) {
			c.Router.MinimumAvailableOutgoingBitrate = c.Router.InitialAvailableOutgoingBitrate + 1
		}},
		{"signal port must be > 0", func(c *Config) { c.Signal.ListenPort = 0 }},
		{"engine call timeout must be > 0", func(c *Config) { c.Signal.EngineCallTimeout = 0 }},
		{"jwt secret required", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"ws messages per second must be > 0 when enabled", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.MessagesPerSecond = 0
		}},
		{"ws burst must be > 0 when enabled", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.Burst = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Router.ListenIP = "192.168.1.10"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.ListenIP = "192.168.1.10"
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 0
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.NumWorkers)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
worker:
  num_workers: 4
router:
  listen_ip: "10.0.0.5"
signal:
  listen_port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Worker.NumWorkers)
	assert.Equal(t, "10.0.0.5", cfg.Router.ListenIP)
	assert.Equal(t, 9000, cfg.Signal.ListenPort)
	// untouched sections keep defaults
	assert.Equal(t, uint16(40000), cfg.Worker.RTCMinPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALCORE_ANNOUNCED_IP", "203.0.113.7")
	t.Setenv("SIGNALCORE_SIGNAL_PORT", "9100")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", cfg.Router.AnnouncedIP)
	assert.Equal(t, 9100, cfg.Signal.ListenPort)
}
