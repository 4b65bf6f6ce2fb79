package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the relay's runtime settings.
type Config struct {
	Server ServerConfig
	Socket SocketConfig
	Upload UploadConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	StaticDir      string   `mapstructure:"static_dir"`
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SocketConfig struct {
	PingInterval   time.Duration   `mapstructure:"ping_interval"`
	PongWait       time.Duration   `mapstructure:"pong_wait"`
	WriteWait      time.Duration   `mapstructure:"write_wait"`
	MaxMessageSize int64           `mapstructure:"max_message_size"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig defines per-connection inbound throttling. Defaults are
// generous; the limiter exists to stop floods, not to shape chat traffic.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

type UploadConfig struct {
	Dir         string
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// DefaultConfig returns the built-in defaults. Tests build on this directly.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			AllowedOrigins: []string{"*"},
		},
		Socket: SocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 4096,
			RateLimit: RateLimitConfig{
				Burst:          50,
				RefillInterval: time.Second,
			},
		},
		Upload: UploadConfig{
			Dir:         "uploads",
			MaxFileSize: 32 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig resolves configuration from defaults, an optional
// config/config.yaml, and environment overrides, in increasing precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.static_dir", "")
	v.SetDefault("socket.ping_interval", "30s")
	v.SetDefault("socket.pong_wait", "60s")
	v.SetDefault("socket.write_wait", "10s")
	v.SetDefault("socket.max_message_size", 4096)
	v.SetDefault("socket.rate_limit.burst", 50)
	v.SetDefault("socket.rate_limit.refill_interval", "1s")
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.max_file_size", 32<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.static_dir", "STATIC_DIR")
	_ = v.BindEnv("upload.dir", "UPLOAD_DIR")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Durations arrive as strings from yaml/env; parse them explicitly.
	cfg.Socket.PingInterval = parseDuration(v, "socket.ping_interval", 30*time.Second)
	cfg.Socket.PongWait = parseDuration(v, "socket.pong_wait", 60*time.Second)
	cfg.Socket.WriteWait = parseDuration(v, "socket.write_wait", 10*time.Second)
	cfg.Socket.RateLimit.RefillInterval = parseDuration(v, "socket.rate_limit.refill_interval", time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
