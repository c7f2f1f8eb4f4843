package config

import (
	"errors"
	"fmt"
	"time"
)

// Default notifier settings.
const (
	DefaultSendAttempts   = 3
	DefaultSendMinDelay   = 50 * time.Millisecond
	DefaultSendMaxDelay   = 2 * time.Second
	DefaultRemoveAttempts = 5
	DefaultRemoveHoldoff  = 20 * time.Millisecond
	DefaultRegistryShards = 16
	DefaultDedupCacheSize = 4096
)

// Notifier configures the event distribution engine.
type Notifier struct {
	// SendRetry bounds delivery attempts of a single frame to a single
	// subscriber. Once exhausted, the subscriber is considered dead.
	SendRetry Retry `yaml:"SendRetry"`
	// RemoveAttempts and RemoveHoldoff bound non-blocking attempts to remove
	// a connection from a contended registry shard before removal is forced.
	RemoveAttempts int           `yaml:"RemoveAttempts"`
	RemoveHoldoff  time.Duration `yaml:"RemoveHoldoff"`
	RegistryShards int           `yaml:"RegistryShards"`
	// DedupCacheSize is the number of recent block hashes and transaction
	// IDs remembered to suppress duplicate broadcasts, 0 disables it.
	DedupCacheSize int `yaml:"DedupCacheSize"`
}

// Validate checks Notifier for internal consistency.
func (n Notifier) Validate() error {
	if err := n.SendRetry.Validate(); err != nil {
		return fmt.Errorf("SendRetry: %w", err)
	}
	if n.SendRetry.MaxAttempts == 0 {
		return errors.New("SendRetry.MaxAttempts must be positive")
	}
	if n.RemoveAttempts <= 0 {
		return errors.New("RemoveAttempts must be positive")
	}
	if n.RemoveHoldoff < 0 {
		return errors.New("RemoveHoldoff can't be negative")
	}
	if n.RegistryShards <= 0 {
		return errors.New("RegistryShards must be positive")
	}
	if n.DedupCacheSize < 0 {
		return errors.New("DedupCacheSize can't be negative")
	}
	return nil
}
