// Package config loads and validates the process configuration from
// YAML files and TICKMATCH_-prefixed environment variables.
package config

import (
	"time"

	"github.com/tickmatch/tickmatch/internal/trading/engine"
)

// Config is the full process configuration.
type Config struct {
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=development staging production"`

	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Engine    engine.Config   `mapstructure:"engine"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// ContractsPath points at the contract catalog YAML.
	ContractsPath string `mapstructure:"contracts_path" validate:"required"`
}

// LogConfig tunes the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig is the HTTP API and observability server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GatewayConfig is the TCP order-entry listener.
type GatewayConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	MaxFrameBytes int           `mapstructure:"max_frame_bytes" validate:"gt=0"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// JournalConfig controls the write-ahead log.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// FeedConfig tunes the websocket market-data hub.
type FeedConfig struct {
	ReplayDepth  int           `mapstructure:"replay_depth" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gte=0"`
}

// KafkaConfig controls the external trade feed.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic        string        `mapstructure:"topic" validate:"required_if=Enabled true"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
