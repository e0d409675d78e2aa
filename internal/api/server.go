// Package api implements the gateway's admin HTTP surface: operator
// status, client/pool introspection, Prometheus metrics, and a liveness
// probe. It is entirely separate from the binary frame protocol and
// listens on its own configured port.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/dbexec"
	"github.com/dbbouncer/gateway/internal/metrics"
	"github.com/dbbouncer/gateway/internal/session"
)

// Server is the admin HTTP server.
type Server struct {
	sessions  *session.Registry
	clients   *clients.Registry
	executor  *dbexec.Executor
	metrics   *metrics.Collector
	startTime time.Time

	httpServer *http.Server
}

// NewServer builds an admin server reading from the given live registries.
func NewServer(sessions *session.Registry, clientReg *clients.Registry, executor *dbexec.Executor, m *metrics.Collector) *Server {
	return &Server{
		sessions:  sessions,
		clients:   clientReg,
		executor:  executor,
		metrics:   m,
		startTime: time.Now(),
	}
}

// Start binds bindAddr:port and begins serving in the background.
func (s *Server) Start(bindAddr string, port uint16) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/clients", s.clientsHandler).Methods("GET")
	r.HandleFunc("/pools", s.poolsHandler).Methods("GET")
	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", bindAddr, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("admin api listening", "addr", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin api server error", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":     int(time.Since(s.startTime).Seconds()),
		"go_version":         runtime.Version(),
		"goroutines":         runtime.NumGoroutine(),
		"memory_mb":          float64(mem.Alloc) / 1024 / 1024,
		"sessions_active":    s.sessions.Count(),
		"registered_clients": s.clients.Count(),
	})
}

func (s *Server) clientsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": s.clients.Names(),
		"count":   s.clients.Count(),
	})
}

type poolStatusView struct {
	Type    string `json:"type"`
	Ident   string `json:"ident"`
	Max     int    `json:"max"`
	Created int    `json:"created"`
	Idle    int    `json:"idle"`
	Closed  bool   `json:"closed"`
}

func (s *Server) poolsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.executor.Snapshot()
	views := make([]poolStatusView, 0, len(snap))
	for _, ps := range snap {
		views = append(views, poolStatusView{
			Type:    ps.Key.Type,
			Ident:   ps.Key.Ident,
			Max:     ps.Stats.Max,
			Created: ps.Stats.Created,
			Idle:    ps.Stats.Idle,
			Closed:  ps.Stats.Closed,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": views})
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
