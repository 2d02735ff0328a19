// vmarkd is the vMark-node daemon.
//
// It bundles the XDP MEF switch control plane, a TWAMP Light measurement
// engine, an interface manager, an HTTP management API, and an interactive
// operator CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vmark/vmark-node/pkg/config"
	"github.com/vmark/vmark-node/pkg/daemon"
	"github.com/vmark/vmark-node/pkg/logging"
)

func main() {
	configFile := flag.String("config", config.DefaultPath, "configuration file path")
	stateDir := flag.String("state-dir", "", "override the state directory")
	apiAddr := flag.String("api-addr", "", "override the HTTP API listen address")
	noDataplane := flag.Bool("no-dataplane", false, "run without kernel access (control-plane-only mode)")
	headless := flag.Bool("headless", false, "run without the interactive CLI")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmarkd: %v\n", err)
		os.Exit(1)
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logBuf := logging.NewRingBuffer(1000)
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logging.NewBufferHandler(base, logBuf)))

	d := daemon.New(daemon.Options{
		Config:      cfg,
		NoDataplane: *noDataplane,
		NoCLI:       *headless,
		LogBuf:      logBuf,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vmarkd: %v\n", err)
		os.Exit(1)
	}
}
