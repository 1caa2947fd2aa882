// Package config loads the service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"fusion-svr/internal/registry"
	"fusion-svr/internal/tak"
)

type Config struct {
	Server  ServerConfig            `koanf:"server"`
	TAK     TAKConfig               `koanf:"tak"`
	Streams StreamsConfig           `koanf:"streams"`
	Redis   RedisConfig             `koanf:"redis"`
	Feed    FeedConfig              `koanf:"feed"`
	Logging LoggingConfig           `koanf:"logging"`
	Cameras []registry.CameraConfig `koanf:"cameras" validate:"unique=ID,dive"`
}

type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port" validate:"min=1,max=65535"`
	GRPCPort        int           `koanf:"grpc_port" validate:"min=1,max=65535,nefield=HTTPPort"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	HealthInterval  time.Duration `koanf:"health_interval" validate:"gt=0"`
}

type TAKConfig struct {
	Host              string        `koanf:"host" validate:"required,hostname_rfc1123|ip"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	UseTLS            bool          `koanf:"use_tls"`
	CertPath          string        `koanf:"cert_path" validate:"required_if=UseTLS true"`
	KeyPath           string        `koanf:"key_path" validate:"required_if=UseTLS true"`
	CAPath            string        `koanf:"ca_path"`
	UID               string        `koanf:"uid"`
	ReconnectDelay    time.Duration `koanf:"reconnect_delay" validate:"gt=0"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`
}

// Gateway converts the section into the gateway's own config.
func (c TAKConfig) Gateway() tak.Config {
	return tak.Config{
		Host:              c.Host,
		Port:              c.Port,
		UseTLS:            c.UseTLS,
		CertPath:          c.CertPath,
		KeyPath:           c.KeyPath,
		CAPath:            c.CAPath,
		UID:               c.UID,
		ReconnectDelay:    c.ReconnectDelay,
		HeartbeatInterval: c.HeartbeatInterval,
	}
}

type StreamsConfig struct {
	OutputDir      string        `koanf:"output_dir" validate:"required"`
	Binary         string        `koanf:"binary" validate:"required"`
	StartupTimeout time.Duration `koanf:"startup_timeout" validate:"gt=0"`
	PublicPrefix   string        `koanf:"public_prefix" validate:"required"`
}

type RedisConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Addr         string `koanf:"addr" validate:"required_if=Enabled true"`
	Password     string `koanf:"password"`
	DB           int    `koanf:"db" validate:"min=0"`
	StreamMaxLen int64  `koanf:"stream_max_len" validate:"min=0"`
}

type FeedConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			GRPCPort:        9090,
			ShutdownTimeout: 10 * time.Second,
			HealthInterval:  5 * time.Second,
		},
		TAK: TAKConfig{
			Host:              "localhost",
			Port:              8087,
			ReconnectDelay:    tak.DefaultReconnectDelay,
			HeartbeatInterval: tak.DefaultHeartbeatInterval,
		},
		Streams: StreamsConfig{
			OutputDir:      "./streams",
			Binary:         "ffmpeg",
			StartupTimeout: 30 * time.Second,
			PublicPrefix:   "/streams",
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			StreamMaxLen: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
