package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the version of the node, set at build time.
var Version string

// DefaultConfigPath is the default path to the node configuration file.
const DefaultConfigPath = "./config/blockfeed.yml"

// Config is the top level struct representing the node configuration.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Default returns the configuration with every tunable set to its default
// value. Services are disabled.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			Notifier: Notifier{
				SendRetry: Retry{
					MaxAttempts: DefaultSendAttempts,
					MinDelay:    DefaultSendMinDelay,
					MaxDelay:    DefaultSendMaxDelay,
				},
				RemoveAttempts: DefaultRemoveAttempts,
				RemoveHoldoff:  DefaultRemoveHoldoff,
				RegistryShards: DefaultRegistryShards,
				DedupCacheSize: DefaultDedupCacheSize,
			},
			WebSocket: WebSocket{
				Path:       DefaultWebSocketPath,
				MaxClients: DefaultMaxClients,
				ReadLimit:  DefaultReadLimit,
			},
			Relay: Relay{
				DialTimeout: DefaultDialTimeout,
				Reconnect: Retry{
					MinDelay: DefaultReconnectMinDelay,
					MaxDelay: DefaultReconnectMaxDelay,
				},
				BreakerThreshold: DefaultBreakerThreshold,
				BreakerCooldown:  DefaultBreakerCooldown,
				PongTimeout:      DefaultPongTimeout,
			},
		},
	}
}

// LoadFile loads config from the provided path. Values missing from the file
// keep their defaults.
func LoadFile(configPath string) (Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config '%s' doesn't exist", configPath)
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return Load(configData)
}

// Load decodes config from the given YAML document on top of Default and
// validates the result.
func Load(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	err = cfg.ApplicationConfiguration.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Retry describes a bounded exponential-jitter retry policy. MaxAttempts of
// zero means unlimited where the consumer allows it.
type Retry struct {
	MaxAttempts int           `yaml:"MaxAttempts"`
	MinDelay    time.Duration `yaml:"MinDelay"`
	MaxDelay    time.Duration `yaml:"MaxDelay"`
}

// Validate checks Retry for internal consistency.
func (r Retry) Validate() error {
	if r.MaxAttempts < 0 {
		return errors.New("MaxAttempts can't be negative")
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		return errors.New("retry delays must be positive")
	}
	if r.MinDelay > r.MaxDelay {
		return fmt.Errorf("MinDelay (%s) is greater than MaxDelay (%s)", r.MinDelay, r.MaxDelay)
	}
	return nil
}
