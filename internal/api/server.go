// Package api exposes a read-only HTTP view of a running node plus a
// WebSocket feed of ring events. It never mutates ring state; all
// writes go through the node RPC transport.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/pkg"
)

// Server serves node introspection endpoints and the event stream.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	node       *chord.Node
	logger     *pkg.Logger
}

// NewServer creates an HTTP server for node.
func NewServer(node *chord.Node, logger *pkg.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Server{
		node:   node,
		hub:    NewHub(logger),
		logger: logger.WithFields(pkg.Fields{"component": "http_api"}),
	}, nil
}

// Hub returns the event hub so the node can be wired to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins serving on port.
func (s *Server) Start(port int) error {
	go s.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/api/node", corsMiddleware(http.HandlerFunc(s.nodeHandler)))
	mux.Handle("/api/fingers", corsMiddleware(http.HandlerFunc(s.fingersHandler)))
	mux.HandleFunc("/api/ws", s.hub.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Int("port", port).Msg("HTTP API server started")
	return nil
}

// Stop shuts the server and the event hub down.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	if s.hub != nil {
		s.hub.Stop()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// nodeHandler returns a point-in-time snapshot of the node.
func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Snapshot())
}

// fingersHandler returns the node's routing table, entries 1..M.
func (s *Server) fingersHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.FingerTable())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
