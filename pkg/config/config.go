package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"api"`

	Relay struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`

	Client struct {
		AuthTimeout     time.Duration `yaml:"auth_timeout"`
		BackoffBase     time.Duration `yaml:"backoff_base"`
		MaxAttempts     int           `yaml:"max_attempts"`
		OutboundQueue   int           `yaml:"outbound_queue"`
		HandshakeWindow time.Duration `yaml:"handshake_window"`
	} `yaml:"client"`

	Rooms struct {
		HistoryCap       int           `yaml:"history_cap"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		SnapshotPath     string        `yaml:"snapshot_path"`
	} `yaml:"rooms"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Storage struct {
		Backend string `yaml:"backend"` // memory, redis or badger

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`

		Badger struct {
			Path string `yaml:"path"`
		} `yaml:"badger"`
	} `yaml:"storage"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			FramesPerSecond   float64 `yaml:"frames_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_connections"`
			MaxFrameSizeBytes int64   `yaml:"max_frame_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("api.read_timeout must be > 0")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be > 0")
	}

	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}

	if c.Client.AuthTimeout <= 0 {
		return fmt.Errorf("client.auth_timeout must be > 0")
	}
	if c.Client.BackoffBase <= 0 {
		return fmt.Errorf("client.backoff_base must be > 0")
	}
	if c.Client.MaxAttempts < 0 {
		return fmt.Errorf("client.max_attempts must be >= 0")
	}
	if c.Client.OutboundQueue <= 0 {
		return fmt.Errorf("client.outbound_queue must be > 0")
	}

	if c.Rooms.HistoryCap <= 0 {
		return fmt.Errorf("rooms.history_cap must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address must not be empty for the redis backend")
		}
		if c.Storage.Redis.PoolSize <= 0 {
			return fmt.Errorf("storage.redis.pool_size must be > 0 for the redis backend")
		}
	case "badger":
		if c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path must not be empty for the badger backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, redis, badger")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth.refresh_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.FramesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.frames_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
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

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.Address = ":8080"
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.ShutdownTimeout = 30 * time.Second

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second

	cfg.Client.AuthTimeout = 10 * time.Second
	cfg.Client.BackoffBase = 2 * time.Second
	cfg.Client.MaxAttempts = 5
	cfg.Client.OutboundQueue = 256
	cfg.Client.HandshakeWindow = 30 * time.Second

	cfg.Rooms.HistoryCap = 1000
	cfg.Rooms.SnapshotInterval = 5 * time.Minute
	cfg.Rooms.SnapshotPath = "./snapshots"

	cfg.Storage.Backend = "memory"
	cfg.Storage.Redis.Address = "localhost:6379"
	cfg.Storage.Redis.PoolSize = 10
	cfg.Storage.Badger.Path = "./data/rooms"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.FramesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxFrameSizeBytes = 64 * 1024

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("COMMLINK_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if addr := os.Getenv("COMMLINK_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if backend := os.Getenv("COMMLINK_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if addr := os.Getenv("COMMLINK_REDIS_ADDRESS"); addr != "" {
		c.Storage.Redis.Address = addr
	}
	if level := os.Getenv("COMMLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("COMMLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
