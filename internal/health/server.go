// Package health serves liveness, readiness, metrics and the last cycle
// report while the autoscaler runs in loop mode.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// ReadinessChecker reports whether a cycle has completed.
type ReadinessChecker interface {
	IsReady() bool
}

// ReportProvider returns the most recent cycle report, or nil.
type ReportProvider interface {
	LatestReport() *model.CycleReport
}

// ErrorProvider returns the non-fatal failures of the last cycle.
type ErrorProvider interface {
	Errors() []apperrors.AutoscalerError
}

// Server exposes health, readiness, metrics and debug endpoints.
type Server struct {
	httpServer *http.Server
	readiness  ReadinessChecker
	reports    ReportProvider
	errs       ErrorProvider
	logger     *slog.Logger
}

// NewServer creates a health server on port. Port 0 picks a free port.
// Debug endpoints and pprof are registered only when enableDebug is set.
func NewServer(port int, metrics *observability.Metrics, readiness ReadinessChecker, reports ReportProvider, errs ErrorProvider, enableDebug bool, logger *slog.Logger) *Server {
	s := &Server{
		readiness: readiness,
		reports:   reports,
		errs:      errs,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if enableDebug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		mux.HandleFunc("GET /debug/report", s.handleDebugReport)
		mux.HandleFunc("GET /debug/errors", s.handleDebugErrors)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address, resolved after Start.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := s.readiness.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func (s *Server) handleDebugReport(w http.ResponseWriter, _ *http.Request) {
	report := s.reports.LatestReport()
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDebugErrors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.errs.Errors())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
