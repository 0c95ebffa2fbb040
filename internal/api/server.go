// Package api exposes the hub's health surface over HTTP: the metrics
// snapshot as JSON and the Prometheus scrape endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wanhive/hub/internal/hub"
)

// Server is the admin HTTP server. It runs on its own goroutines and
// only touches the hub through its goroutine-safe snapshot surface.
type Server struct {
	hub    *hub.Hub
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates an admin server bound to the given address.
func NewServer(h *hub.Hub, address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: h, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if registry := h.Registry(); registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:         address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Close or failure.
func (s *Server) Start() error {
	s.logger.Info("admin surface listening", "address", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the listener.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Metrics()); err != nil {
		s.logger.Warn("info encoding failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.hub.Healthy() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
