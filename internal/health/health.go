// Package health serves the console's health report and Prometheus metrics
// over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy  = "healthy"
	StatusIdle     = "idle"
	StatusDegraded = "degraded"
	StatusStarting = "starting"
)

// VehicleHealth is the per-vehicle part of a report.
type VehicleHealth struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Busy      bool   `json:"busy"`

	PacketsSent uint64 `json:"packets_sent"`
	Overwritten uint64 `json:"commands_overwritten"`
	Polls       uint64 `json:"polls"`

	VideoState    string  `json:"video_state"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	Frames        uint64  `json:"frames"`
	SkippedFrames uint64  `json:"skipped_frames"`
	FPS           float64 `json:"fps"`
	JitterMs      float64 `json:"jitter_ms"`
	StreamStable  bool    `json:"stream_stable"`

	Recording  bool   `json:"recording"`
	RecordPath string `json:"record_path,omitempty"`
	Tuning     bool   `json:"tuning"`

	LastError string `json:"last_error,omitempty"`
}

// Report is what a Reporter returns. Status and the runtime fields are
// filled in by the handler.
type Report struct {
	Status        string          `json:"status"`
	Ready         bool            `json:"ready"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Bridge        bool            `json:"bridge_connected"`
	Vehicles      []VehicleHealth `json:"vehicles"`

	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
}

// Reporter produces the current health snapshot.
type Reporter interface {
	HealthReport() Report
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func() Report

func (f ReporterFunc) HealthReport() Report { return f() }

// Evaluate derives the overall status: starting until ready, idle with no
// connected vehicle, degraded when a connected vehicle reports an error or a
// stalled stream.
func Evaluate(r Report) string {
	if !r.Ready {
		return StatusStarting
	}
	connected := 0
	for _, v := range r.Vehicles {
		if !v.Connected {
			continue
		}
		connected++
		if v.LastError != "" {
			return StatusDegraded
		}
	}
	if connected == 0 {
		return StatusIdle
	}
	return StatusHealthy
}

type handlers struct {
	reporter Reporter
	version  string
	started  time.Time
	logger   *slog.Logger
}

// NewRouter mounts /health, /healthz, /readiness and /metrics.
func NewRouter(reporter Reporter, version string, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{reporter: reporter, version: version, started: time.Now(), logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.livenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readiness", h.readinessCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (h *handlers) healthCheck(w http.ResponseWriter, _ *http.Request) {
	report := h.reporter.HealthReport()
	report.Version = h.version
	report.UptimeSeconds = int64(time.Since(h.started).Seconds())
	report.GoVersion = runtime.Version()
	report.NumGoroutine = runtime.NumGoroutine()
	report.Status = Evaluate(report)
	if report.Vehicles == nil {
		report.Vehicles = []VehicleHealth{}
	}

	w.Header().Set("Content-Type", "application/json")
	if !report.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	h.writeJSON(w, report)
}

func (h *handlers) livenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		h.writeJSON(w, map[string]any{
			"status": "alive",
			"uptime": int64(time.Since(h.started).Seconds()),
		})
	}
}

func (h *handlers) readinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.reporter.HealthReport().Ready {
		w.WriteHeader(http.StatusOK)
		h.writeJSON(w, map[string]string{"status": "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	h.writeJSON(w, map[string]string{"status": "not_ready"})
}

func (h *handlers) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("health: failed to encode response", "error", err)
	}
}

// Server runs the router on its own listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan struct{}
}

// NewServer prepares a server for addr. Nothing listens until Start.
func NewServer(addr string, reporter Reporter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "health")
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(reporter, version, logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("health: listen on %s: %w", s.srv.Addr, err)
	}
	s.ln = ln

	s.logger.Info("health: server listening",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/healthz", "/readiness", "/metrics"},
	)

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health: server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
