// Package cmd wires up the CLI flags and dispatches to serve or
// connect mode.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"gorelay/config"
	"gorelay/server"
	"gorelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gorelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the appropriate gorelay mode.
func Execute(ctx context.Context, args []string) error {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	fs := flag.NewFlagSet("gorelay", flag.ContinueOnError)

	// ── serve ────────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP relay port")
	fs.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "WebSocket relay port (0 = disabled)")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "WebSocket endpoint path")

	// ── connect ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.ConnectHost, "connect", "C", cfg.ConnectHost, "Connect to a relay as a peer instead of serving")
	fs.StringVarP(&cfg.Username, "user", "u", cfg.Username, "Display name (connect mode)")
	fs.StringVar(&cfg.DownloadDir, "download-dir", cfg.DownloadDir, "Where received files are written (connect mode)")

	var timeoutSec int
	fs.IntVarP(&timeoutSec, "timeout", "w", 0, "Read/write timeout in seconds (0 = none)")

	// ── output ───────────────────────────────────────────────────
	var flagVerbose int
	fs.CountVarP(&flagVerbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("gorelay %s\n", version)
		return nil
	}

	if timeoutSec > 0 {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if flagVerbose > 0 {
		cfg.Verbose = flagVerbose
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)

	if cfg.ConnectHost != "" {
		return runConnect(ctx, cfg, logger)
	}
	return server.New(cfg, logger).Run(ctx)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gorelay – chat & file relay v%s

A rendezvous server that forwards private messages and files between
named peers, plus a terminal peer for talking to one.

Usage:
  gorelay [options]                           Serve a relay
  gorelay -C <host> [-u <name>] [options]     Join a relay as a peer

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  gorelay -v -p 12346                         Serve on port 12346
  gorelay --ws-port 8080                      Also accept WebSocket peers
  gorelay -C relay.example.com -u alice       Join as "alice"

Connect-mode commands:
  @<name> <message>       Send a private message
  /send <name> <path>     Send a file
  /quit                   Disconnect
`)
}
