package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are tried in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fusion-svr/config.yaml",
}

// envMappings maps environment variables to config paths. Variables not
// listed are ignored.
var envMappings = map[string]string{
	"http_port":        "server.http_port",
	"grpc_port":        "server.grpc_port",
	"shutdown_timeout": "server.shutdown_timeout",

	"tak_host":               "tak.host",
	"tak_port":               "tak.port",
	"tak_use_tls":            "tak.use_tls",
	"tak_cert_path":          "tak.cert_path",
	"tak_key_path":           "tak.key_path",
	"tak_ca_path":            "tak.ca_path",
	"tak_uid":                "tak.uid",
	"tak_reconnect_delay":    "tak.reconnect_delay",
	"tak_heartbeat_interval": "tak.heartbeat_interval",

	"stream_output_dir":      "streams.output_dir",
	"ffmpeg_path":            "streams.binary",
	"stream_startup_timeout": "streams.startup_timeout",
	"stream_public_prefix":   "streams.public_prefix",

	"redis_enabled":        "redis.enabled",
	"redis_addr":           "redis.addr",
	"redis_password":       "redis.password",
	"redis_db":             "redis.db",
	"redis_stream_max_len": "redis.stream_max_len",

	"feed_allowed_origins": "feed.allowed_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

var sliceConfigPaths = []string{
	"feed.allowed_origins",
}

// Load layers defaults, the config file and the environment, in that order
// of increasing precedence, and validates the result. An empty path falls
// back to CONFIG_PATH and then DefaultConfigPaths, and runs on defaults and
// environment alone when none of them exists.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// processSliceFields splits comma separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
