package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from the first existing paths, layers
// TICKMATCH_-prefixed environment variables on top, and validates the
// result. With no paths it probes the conventional locations; a missing
// file is not an error, the defaults stand.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TICKMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{
			"./config.yaml",
			"./config/config.yaml",
			"/etc/tickmatch/config.yaml",
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every known key so environment overrides resolve
// even when no config file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 9001)
	v.SetDefault("gateway.max_frame_bytes", 65536)
	v.SetDefault("gateway.idle_timeout", "5m")

	// engine.partitions 0 means one shard per CPU.
	v.SetDefault("engine.partitions", 0)
	v.SetDefault("engine.queue_depth", 4096)
	v.SetDefault("engine.queue_capacity", 1024)
	v.SetDefault("engine.egress_buffer", 8192)
	v.SetDefault("engine.validation.min_price", 1)
	v.SetDefault("engine.validation.min_quantity", 1)
	v.SetDefault("engine.validation.max_quantity", 1_000_000)
	v.SetDefault("engine.validation.enforce_cancel_owner", false)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "data/journal/engine.jsonl")

	v.SetDefault("feed.replay_depth", 256)
	v.SetDefault("feed.write_timeout", "10s")
	v.SetDefault("feed.send_buffer", 64)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.batch_timeout", "50ms")

	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("contracts_path", "config/contracts.yaml")
}
