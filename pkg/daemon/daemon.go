// Package daemon implements the vmarkd lifecycle: wiring the forwarding
// engine, kernel binding, TWAMP sessions, HTTP API, and operator CLI.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vmark/vmark-node/pkg/api"
	"github.com/vmark/vmark-node/pkg/cli"
	"github.com/vmark/vmark-node/pkg/config"
	"github.com/vmark/vmark-node/pkg/dataplane"
	"github.com/vmark/vmark-node/pkg/forwarding"
	"github.com/vmark/vmark-node/pkg/ifman"
	"github.com/vmark/vmark-node/pkg/logging"
	"github.com/vmark/vmark-node/pkg/twamp"
)

// Options configures the daemon.
type Options struct {
	Config      *config.Config
	NoDataplane bool // run without kernel access (control-plane-only mode)
	NoCLI       bool // run headless (API only)
	LogBuf      *logging.RingBuffer
}

// Daemon is the vmarkd process.
type Daemon struct {
	opts     Options
	engine   *forwarding.Engine
	binding  *dataplane.Manager
	sessions *twamp.Manager
	ifm      *ifman.Manager
}

// New creates a daemon.
func New(opts Options) *Daemon {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.LogBuf == nil {
		opts.LogBuf = logging.NewRingBuffer(1000)
	}
	return &Daemon{opts: opts}
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.opts.Config
	slog.Info("starting vmarkd",
		"state_dir", cfg.StateDir,
		"pid", os.Getpid())

	table := forwarding.NewTable()
	store := forwarding.NewStore(cfg.StateDir)

	var rec *forwarding.Reconciler
	if !d.opts.NoDataplane {
		d.binding = dataplane.NewManager(cfg.XDPObjectPath, cfg.BPFPinDir)
		if err := d.binding.DiscoverPinned(); err != nil {
			slog.Warn("failed to discover pinned BPF state", "err", err)
		}
		rec = forwarding.NewReconciler(d.binding)
	}

	d.engine = forwarding.NewEngine(table, store, rec)
	if err := d.engine.Startup(ctx); err != nil {
		slog.Warn("startup left persisted rules unapplied", "err", err)
	} else {
		slog.Info("forwarding table loaded", "rules", len(d.engine.List()))
	}

	d.sessions = twamp.NewManager()
	d.ifm = ifman.New()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup

	if cfg.APIAddr != "" {
		srv := api.NewServer(api.Config{
			Addr:     cfg.APIAddr,
			Engine:   d.engine,
			Sessions: d.sessions,
			Ifman:    d.ifm,
			LogBuf:   d.opts.LogBuf,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				slog.Error("HTTP API server failed", "err", err)
			}
		}()
	}

	var runErr error
	if d.opts.NoCLI {
		<-ctx.Done()
		slog.Info("signal received, shutting down")
	} else {
		shell := cli.New(d.engine, d.sessions, d.ifm, d.opts.LogBuf, cfg.TWAMP)
		errCh := make(chan error, 1)
		go func() {
			errCh <- shell.Run()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				runErr = fmt.Errorf("CLI: %w", err)
			}
		case <-ctx.Done():
			slog.Info("signal received, shutting down")
		}
	}

	stop()
	wg.Wait()

	d.sessions.StopAll()
	if d.binding != nil {
		d.binding.Close()
	}

	slog.Info("shutdown complete")
	return runErr
}
