package config

import (
	"errors"
	"strings"
)

// Default websocket endpoint settings.
const (
	DefaultWebSocketPath = "/ws"
	DefaultMaxClients    = 1024
	DefaultReadLimit     = 4096
)

// WebSocket is the subscriber-facing websocket endpoint configuration.
type WebSocket struct {
	BasicService `yaml:",inline"`
	Path         string `yaml:"Path"`
	MaxClients   int    `yaml:"MaxClients"`
	// MaxFrameRate limits inbound frames per second per connection,
	// excess frames are dropped. 0 means no limit.
	MaxFrameRate         float64 `yaml:"MaxFrameRate"`
	ReadLimit            int64   `yaml:"ReadLimit"`
	EnableCORSWorkaround bool    `yaml:"EnableCORSWorkaround"`
	// IngestEnabled exposes POST /notify/block and /notify/tx for the
	// co-located node notifier.
	IngestEnabled bool `yaml:"IngestEnabled"`
}

// Validate checks WebSocket for internal consistency.
func (w WebSocket) Validate() error {
	if !strings.HasPrefix(w.Path, "/") {
		return errors.New("Path must start with '/'")
	}
	if w.MaxClients <= 0 {
		return errors.New("MaxClients must be positive")
	}
	if w.MaxFrameRate < 0 {
		return errors.New("MaxFrameRate can't be negative")
	}
	if w.ReadLimit <= 0 {
		return errors.New("ReadLimit must be positive")
	}
	return nil
}
