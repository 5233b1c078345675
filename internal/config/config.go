package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the broker listens on.
	DefaultAddr = ":43127"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256
	// DefaultMaxTopicPeers bounds how many connections may share one match topic.
	DefaultMaxTopicPeers = 16
	// DefaultPublishRate bounds payloads per second accepted from one connection.
	DefaultPublishRate = 240.0
	// DefaultPublishBurst is how many payloads may arrive back to back.
	DefaultPublishBurst = 480

	// DefaultLogLevel controls verbosity for broker logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "broker.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the broker service.
type Config struct {
	Address          string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxClients       int
	MaxTopicPeers    int
	PublishRate      float64
	PublishBurst     int
	TLSCertPath      string
	TLSKeyPath       string
	GRPCAddress      string
	GRPCSharedSecret string
	AdminToken       string
	WSTokenSecret    string
	Logging          LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console mirrors every entry to stderr in addition to the rotated file.
	Console bool
}

// Load reads the broker configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("BROKER_ADDR", DefaultAddr),
		AllowedOrigins:   parseList(os.Getenv("BROKER_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		MaxClients:       DefaultMaxClients,
		MaxTopicPeers:    DefaultMaxTopicPeers,
		PublishRate:      DefaultPublishRate,
		PublishBurst:     DefaultPublishBurst,
		TLSCertPath:      strings.TrimSpace(os.Getenv("BROKER_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("BROKER_TLS_KEY")),
		GRPCAddress:      strings.TrimSpace(os.Getenv("BROKER_GRPC_ADDR")),
		GRPCSharedSecret: strings.TrimSpace(os.Getenv("BROKER_GRPC_SHARED_SECRET")),
		AdminToken:       strings.TrimSpace(os.Getenv("BROKER_ADMIN_TOKEN")),
		WSTokenSecret:    strings.TrimSpace(os.Getenv("BROKER_WS_HMAC_SECRET")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("BROKER_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("BROKER_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
			Console:    true,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("BROKER_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BROKER_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BROKER_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BROKER_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BROKER_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BROKER_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BROKER_MAX_TOPIC_PEERS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BROKER_MAX_TOPIC_PEERS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxTopicPeers = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BROKER_PUBLISH_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BROKER_PUBLISH_RATE must be a non-negative number, got %q", raw))
		} else {
			cfg.PublishRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BROKER_PUBLISH_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BROKER_PUBLISH_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.PublishBurst = value
		}
	}

	problems = append(problems, loadLogging("BROKER", &cfg.Logging)...)

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "BROKER_TLS_CERT and BROKER_TLS_KEY must be provided together")
	}

	if cfg.GRPCSharedSecret != "" && cfg.GRPCAddress == "" {
		problems = append(problems, "BROKER_GRPC_SHARED_SECRET requires BROKER_GRPC_ADDR")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// loadLogging applies <prefix>_LOG_* overrides shared by the broker and the peer.
func loadLogging(prefix string, cfg *LoggingConfig) []string {
	var problems []string

	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("%s_LOG_MAX_SIZE_MB must be a positive integer, got %q", prefix, raw))
		} else {
			cfg.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("%s_LOG_MAX_BACKUPS must be a non-negative integer, got %q", prefix, raw))
		} else {
			cfg.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("%s_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", prefix, raw))
		} else {
			cfg.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s_LOG_COMPRESS must be a boolean value, got %q", prefix, raw))
		} else {
			cfg.Compress = value
		}
	}

	return problems
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
