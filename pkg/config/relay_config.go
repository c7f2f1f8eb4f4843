package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Default relay settings.
const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultReconnectMinDelay = time.Second
	DefaultReconnectMaxDelay = 30 * time.Second
	DefaultBreakerThreshold  = 3
	DefaultBreakerCooldown   = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
)

// Relay configures the upstream forwarder client.
type Relay struct {
	Enabled     bool          `yaml:"Enabled"`
	URL         string        `yaml:"URL"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	// Reconnect governs connect+resubscribe attempts, MaxAttempts of 0
	// retries forever.
	Reconnect        Retry         `yaml:"Reconnect"`
	BreakerThreshold int           `yaml:"BreakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"BreakerCooldown"`
	// PongTimeout is the time upstream has to answer a ping before the
	// connection is considered dead, pings are sent every PongTimeout/2.
	PongTimeout time.Duration `yaml:"PongTimeout"`
}

// Validate checks Relay for internal consistency. Disabled relay is not
// checked.
func (r Relay) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.URL == "" {
		return errors.New("URL is required when relay is enabled")
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("bad URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if r.DialTimeout <= 0 {
		return errors.New("DialTimeout must be positive")
	}
	if err := r.Reconnect.Validate(); err != nil {
		return fmt.Errorf("Reconnect: %w", err)
	}
	if r.BreakerThreshold <= 0 {
		return errors.New("BreakerThreshold must be positive")
	}
	if r.BreakerCooldown <= 0 {
		return errors.New("BreakerCooldown must be positive")
	}
	if r.PongTimeout <= 0 {
		return errors.New("PongTimeout must be positive")
	}
	return nil
}
