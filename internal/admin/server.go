package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunedaq-go/ctbreadout/internal/telemetry"
)

// SnapshotSource supplies the current telemetry snapshot for the
// /telemetry endpoint, without triggering a collection cycle of its
// own (cmd/ctbreadout's telemetry poll loop owns collection cadence).
type SnapshotSource func() telemetry.Snapshot

// Server is the admin HTTP+WebSocket surface: /healthz, /telemetry,
// /metrics, /ws.
type Server struct {
	hub    *Hub
	http   *http.Server
	log    *slog.Logger
}

// NewServer builds the admin server bound to addr. snapshot supplies
// the JSON payload for GET /telemetry.
func NewServer(addr string, hub *Hub, snapshot SnapshotSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "admin_server")

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			log.Warn("telemetry encode failed", "error", err)
		}
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.HandleWebSocket)

	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		log: log,
	}
}

// Start begins serving in the background. ListenAndServe errors other
// than a clean shutdown are logged, not returned, since the admin
// surface is a convenience and must never abort the readout run.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("admin server stopped", "error", err)
		}
	}()
}

// Close shuts down the HTTP server and stops the hub loop.
func (s *Server) Close() error {
	s.hub.Stop()
	return s.http.Close()
}
