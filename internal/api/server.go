// Package api exposes the scoring pipeline over REST/JSON for judge
// tablets, the supervisor console, and broadcast integrations, plus a
// WebSocket feed for live score streams.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/webhooks"
)

// Server exposes the round manager and its supporting services.
type Server struct {
	manager     *rounds.Manager
	store       rounds.Store
	auditLog    *audit.Log
	bus         *bus.Bus
	coordinator *config.Coordinator
	webhooks    *webhooks.Registry

	httpServer *http.Server
	logger     *log.Logger
}

// ServerDeps wires the server's collaborators. Webhooks may be nil when
// the deployment runs without external delivery.
type ServerDeps struct {
	Manager     *rounds.Manager
	Store       rounds.Store
	Audit       *audit.Log
	Bus         *bus.Bus
	Coordinator *config.Coordinator
	Webhooks    *webhooks.Registry
}

// NewServer creates the API server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		manager:     deps.Manager,
		store:       deps.Store,
		auditLog:    deps.Audit,
		bus:         deps.Bus,
		coordinator: deps.Coordinator,
		webhooks:    deps.Webhooks,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Round lifecycle
	api.HandleFunc("/bouts/{bout_id}/rounds", s.handleOpenRound).Methods("POST")
	api.HandleFunc("/bouts/{bout_id}/rounds", s.handleListRounds).Methods("GET")
	api.HandleFunc("/rounds/{round_id}", s.handleGetRound).Methods("GET")
	api.HandleFunc("/rounds/{round_id}/events", s.handleAppendEvent).Methods("POST")
	api.HandleFunc("/rounds/{round_id}/events/batch", s.handleAppendBatch).Methods("POST")
	api.HandleFunc("/rounds/{round_id}/momentum", s.handleMomentum).Methods("POST")
	api.HandleFunc("/rounds/{round_id}/score", s.handleComputeScore).Methods("POST")
	api.HandleFunc("/rounds/{round_id}/lock", s.handleLockRound).Methods("POST")
	api.HandleFunc("/rounds/{round_id}/validate", s.handleValidate).Methods("GET")
	api.HandleFunc("/rounds/{round_id}/stats", s.handlePipelineStats).Methods("GET")
	api.HandleFunc("/rounds/{round_id}/verify", s.handleVerifyRound).Methods("POST")

	// Audit trail
	api.HandleFunc("/bouts/{bout_id}/audit", s.handleAuditExport).Methods("GET")
	api.HandleFunc("/bouts/{bout_id}/audit/verify", s.handleAuditVerify).Methods("POST")

	// Calibration
	api.HandleFunc("/calibration", s.handleGetCalibration).Methods("GET")
	api.HandleFunc("/calibration", s.handleUpdateCalibration).Methods("PUT")

	// Webhook management
	api.HandleFunc("/webhooks", s.handleRegisterWebhook).Methods("POST")
	api.HandleFunc("/webhooks", s.handleListWebhooks).Methods("GET")
	api.HandleFunc("/webhooks/{id}", s.handleUnregisterWebhook).Methods("DELETE")

	r.Use(corsMiddleware)
	r.Use(loggingMiddleware)
	return r
}

// Start runs the server until Shutdown.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Printf("🚀 Scoring API listening on :%d", port)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "healthy",
		"service":         "ringside-scoring",
		"bus_subscribers": s.bus.SubscriberCount(),
	})
}

// actorFrom returns the operator identity for the audit trail. Requests
// without an X-Actor header are recorded as the system actor.
func actorFrom(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}
