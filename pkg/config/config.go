package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Worker struct {
		NumWorkers int    `yaml:"num_workers"`
		RTCMinPort uint16 `yaml:"rtc_min_port"`
		RTCMaxPort uint16 `yaml:"rtc_max_port"`
	} `yaml:"worker"`

	Router struct {
		ListenIP   string `yaml:"listen_ip"`
		AnnouncedIP string `yaml:"announced_ip"`

		InitialAvailableOutgoingBitrate int `yaml:"initial_available_outgoing_bitrate"`
		MinimumAvailableOutgoingBitrate int `yaml:"minimum_available_outgoing_bitrate"`

		MediaCodecs []MediaCodec `yaml:"media_codecs"`
	} `yaml:"router"`

	Signal struct {
		ListenPort      int           `yaml:"listen_port"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// EngineCallTimeout bounds every call into the media engine; a
		// call exceeding it is treated as EngineFailed.
		EngineCallTimeout time.Duration `yaml:"engine_call_timeout"`
	} `yaml:"signal"`

	Admin struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusPort    int    `yaml:"prometheus_port"`
		TracingEnabled    bool   `yaml:"tracing_enabled"`
		JaegerURL         string `yaml:"jaeger_url"`
		ServiceName       string `yaml:"service_name"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		// JWTSecret validates the opaque identity token presented before
		// join-room; no further peer authorization happens server-side.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	CircuitBreaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		Timeout          time.Duration `yaml:"timeout"`
	} `yaml:"circuit_breaker"`
}

// MediaCodec is one entry of the fixed router media codec list: the input
// to Router creation, not the negotiated set (the Router decides what it
// actually advertises).
type MediaCodec struct {
	Kind      string `yaml:"kind" json:"kind"`
	MimeType  string `yaml:"mime_type" json:"mime_type"`
	ClockRate int    `yaml:"clock_rate" json:"clock_rate"`
	Channels  int    `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Worker.NumWorkers <= 0 {
		return fmt.Errorf("worker.num_workers must be > 0")
	}
	if c.Worker.RTCMinPort == 0 || c.Worker.RTCMaxPort == 0 {
		return fmt.Errorf("worker.rtc_min_port and rtc_max_port must both be set")
	}
	if c.Worker.RTCMinPort >= c.Worker.RTCMaxPort {
		return fmt.Errorf("worker.rtc_min_port must be < rtc_max_port")
	}

	if c.Router.ListenIP == "" {
		return fmt.Errorf("router.listen_ip must not be empty")
	}
	// announcedIp is required whenever listenIp cannot itself be reached
	// by peers across NAT.
	if isWildcardAddress(c.Router.ListenIP) && c.Router.AnnouncedIP == "" {
		return fmt.Errorf("router.announced_ip is required when router.listen_ip is a wildcard address")
	}
	if len(c.Router.MediaCodecs) == 0 {
		return fmt.Errorf("router.media_codecs must not be empty")
	}
	if c.Router.InitialAvailableOutgoingBitrate <= 0 {
		return fmt.Errorf("router.initial_available_outgoing_bitrate must be > 0")
	}
	if c.Router.MinimumAvailableOutgoingBitrate <= 0 {
		return fmt.Errorf("router.minimum_available_outgoing_bitrate must be > 0")
	}
	if c.Router.MinimumAvailableOutgoingBitrate > c.Router.InitialAvailableOutgoingBitrate {
		return fmt.Errorf("router.minimum_available_outgoing_bitrate must be <= initial_available_outgoing_bitrate")
	}

	if c.Signal.ListenPort <= 0 {
		return fmt.Errorf("signal.listen_port must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}
	if c.Signal.EngineCallTimeout <= 0 {
		return fmt.Errorf("signal.engine_call_timeout must be > 0")
	}

	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.TracingEnabled && c.Monitoring.JaegerURL == "" {
		return fmt.Errorf("monitoring.jaeger_url must not be empty when tracing_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes <= 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be > 0 when rate limiting is enabled")
		}
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be > 0")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be > 0")
	}
	if c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("circuit_breaker.timeout must be > 0")
	}

	return nil
}

func isWildcardAddress(ip string) bool {
	return ip == "0.0.0.0" || ip == "::"
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides, then validates. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults for every
// recognized option.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Worker.NumWorkers = 2
	cfg.Worker.RTCMinPort = 40000
	cfg.Worker.RTCMaxPort = 49999

	cfg.Router.ListenIP = "0.0.0.0"
	// Loopback keeps local development working out of the box; any real
	// deployment overrides this with its reachable address.
	cfg.Router.AnnouncedIP = "127.0.0.1"
	cfg.Router.InitialAvailableOutgoingBitrate = 1_000_000
	cfg.Router.MinimumAvailableOutgoingBitrate = 100_000
	cfg.Router.MediaCodecs = []MediaCodec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "audio", MimeType: "audio/PCMU", ClockRate: 8000, Channels: 1},
		{Kind: "audio", MimeType: "audio/PCMA", ClockRate: 8000, Channels: 1},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
		{Kind: "video", MimeType: "video/VP9", ClockRate: 90000},
		{Kind: "video", MimeType: "video/H264", ClockRate: 90000},
	}

	cfg.Signal.ListenPort = 8081
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second
	cfg.Signal.EngineCallTimeout = 8 * time.Second

	cfg.Admin.Enabled = true
	cfg.Admin.Address = ":8080"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.TracingEnabled = false
	cfg.Monitoring.ServiceName = "signalcore"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.CircuitBreaker.FailureThreshold = 5
	cfg.CircuitBreaker.SuccessThreshold = 2
	cfg.CircuitBreaker.Timeout = 30 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SIGNALCORE_LISTEN_IP"); v != "" {
		c.Router.ListenIP = v
	}
	if v := os.Getenv("SIGNALCORE_ANNOUNCED_IP"); v != "" {
		c.Router.AnnouncedIP = v
	}
	if v := os.Getenv("SIGNALCORE_SIGNAL_PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			c.Signal.ListenPort = port
		}
	}
	if v := os.Getenv("SIGNALCORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SIGNALCORE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SIGNALCORE_JAEGER_URL"); v != "" {
		c.Monitoring.JaegerURL = v
		c.Monitoring.TracingEnabled = true
	}
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}
