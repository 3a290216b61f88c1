package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file, GORELAY_ prefix)
//   3. Defaults   (defaults.go)

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// overlay mirrors the env-tuneable subset of Config.  Absent variables
// stay at their zero value and do not override anything.
type overlay struct {
	Port        int    `envconfig:"PORT"`
	WSPort      int    `envconfig:"WS_PORT"`
	WSPath      string `envconfig:"WS_PATH"`
	ConnectHost string `envconfig:"CONNECT"`
	Username    string `envconfig:"USER"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR"`
	TimeoutSec  int    `envconfig:"TIMEOUT"`
	Verbose     int    `envconfig:"VERBOSE"`
}

// LoadFromEnv overlays GORELAY_* environment variables onto cfg.
// This should be called BEFORE CLI flag parsing so that flags take
// precedence.
func LoadFromEnv(cfg *Config) error {
	var o overlay
	if err := envconfig.Process("gorelay", &o); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if o.Port > 0 {
		cfg.Port = o.Port
	}
	if o.WSPort > 0 {
		cfg.WSPort = o.WSPort
	}
	if o.WSPath != "" {
		cfg.WSPath = o.WSPath
	}
	if o.ConnectHost != "" {
		cfg.ConnectHost = o.ConnectHost
	}
	if o.Username != "" {
		cfg.Username = o.Username
	}
	if o.DownloadDir != "" {
		cfg.DownloadDir = o.DownloadDir
	}
	if o.TimeoutSec > 0 {
		cfg.Timeout = time.Duration(o.TimeoutSec) * time.Second
	}
	if o.Verbose > 0 {
		cfg.Verbose = o.Verbose
	}
	return nil
}
