// Package config defines the runtime configuration for gorelay and
// validates it before anything binds a socket.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds every tuneable for one gorelay process.
type Config struct {
	// ── Relay ────────────────────────────────────────────────────────
	Port   int    // TCP rendezvous port (serve) or destination port (connect)
	WSPort int    // optional WebSocket listen port, 0 = disabled
	WSPath string // WebSocket endpoint path

	// ── Connect mode ─────────────────────────────────────────────────
	ConnectHost string // non-empty → run as a protocol peer
	Username    string
	DownloadDir string // where received files are written

	// ── Behaviour ────────────────────────────────────────────────────
	Timeout time.Duration // per-write / per-chunk deadline, 0 = none

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// ApplyDefaults fills zero-valued fields from defaults.go.
func ApplyDefaults(c *Config) {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.WSPath == "" {
		c.WSPath = DefaultWSPath
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}

	if c.WSPort != 0 {
		if c.WSPort < 1 || c.WSPort > 65535 {
			return fmt.Errorf("ws-port %d out of range 1-65535", c.WSPort)
		}
		if c.WSPort == c.Port {
			return fmt.Errorf("ws-port and port must differ")
		}
		if c.ConnectHost != "" {
			return fmt.Errorf("--ws-port only applies when serving")
		}
	}

	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws-path %q must start with /", c.WSPath)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if c.ConnectHost == "" && c.Username != "" {
		return fmt.Errorf("--user requires --connect")
	}

	return nil
}
