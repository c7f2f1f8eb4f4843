package config

import "fmt"

// ApplicationConfiguration is the node-specific configuration.
type ApplicationConfiguration struct {
	LogLevel string `yaml:"LogLevel"`
	LogPath  string `yaml:"LogPath"`

	Notifier  Notifier  `yaml:"Notifier"`
	WebSocket WebSocket `yaml:"WebSocket"`
	Relay     Relay     `yaml:"Relay"`

	Prometheus BasicService `yaml:"Prometheus"`
	Pprof      BasicService `yaml:"Pprof"`
	Status     BasicService `yaml:"Status"`
}

// Validate checks ApplicationConfiguration for internal consistency.
func (a *ApplicationConfiguration) Validate() error {
	if err := a.Notifier.Validate(); err != nil {
		return fmt.Errorf("Notifier: %w", err)
	}
	if err := a.WebSocket.Validate(); err != nil {
		return fmt.Errorf("WebSocket: %w", err)
	}
	if err := a.Relay.Validate(); err != nil {
		return fmt.Errorf("Relay: %w", err)
	}
	return nil
}
