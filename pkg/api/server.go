// Package api implements the HTTP management API and Prometheus metrics
// endpoint for vmarkd.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmark/vmark-node/pkg/forwarding"
	"github.com/vmark/vmark-node/pkg/ifman"
	"github.com/vmark/vmark-node/pkg/logging"
	"github.com/vmark/vmark-node/pkg/twamp"
)

// Config wires the server to the daemon's subsystems.
type Config struct {
	Addr     string
	Engine   *forwarding.Engine
	Sessions *twamp.Manager
	Ifman    *ifman.Manager
	LogBuf   *logging.RingBuffer
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	engine     *forwarding.Engine
	sessions   *twamp.Manager
	ifm        *ifman.Manager
	logBuf     *logging.RingBuffer
	startTime  time.Time
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:    cfg.Engine,
		sessions:  cfg.Sessions,
		ifm:       cfg.Ifman,
		logBuf:    cfg.LogBuf,
		startTime: time.Now(),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/rules", s.listRulesHandler)
	mux.HandleFunc("POST /api/rules", s.createRuleHandler)
	mux.HandleFunc("GET /api/rules/{name}", s.getRuleHandler)
	mux.HandleFunc("PUT /api/rules/{name}", s.updateRuleHandler)
	mux.HandleFunc("DELETE /api/rules/{name}", s.deleteRuleHandler)
	mux.HandleFunc("POST /api/rules/{name}/enable", s.enableRuleHandler)
	mux.HandleFunc("POST /api/rules/{name}/disable", s.disableRuleHandler)
	mux.HandleFunc("GET /api/interfaces", s.interfacesHandler)
	mux.HandleFunc("GET /api/twamp/sessions", s.twampSessionsHandler)
	mux.HandleFunc("POST /api/twamp/sender", s.twampSenderHandler)
	mux.HandleFunc("POST /api/twamp/responder", s.twampResponderHandler)
	mux.HandleFunc("DELETE /api/twamp/sessions/{name}", s.twampStopHandler)
	mux.HandleFunc("GET /api/log", s.logHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
