package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/config"
	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server that serves the marketplace XRPC endpoints.
type Server struct {
	cfg        *config.Config
	indexer    *domain.Indexer
	engine     *domain.QueryEngine
	store      Pinger
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the indexer and query engine.
func NewServer(cfg *config.Config, indexer *domain.Indexer, engine *domain.QueryEngine, store Pinger, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		indexer: indexer,
		engine:  engine,
		store:   store,
		logger:  logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	notify := http.HandlerFunc(s.handleNotifyNewListing)
	browse := http.HandlerFunc(s.handleGetListings)
	search := http.HandlerFunc(s.handleSearchListings)

	mux.Handle("POST /xrpc/com.marketplace.notifyNewListing", notify)
	mux.Handle("GET /xrpc/com.marketplace.getListings", browse)
	mux.Handle("GET /xrpc/com.marketplace.searchListings", search)
	mux.HandleFunc("GET /xrpc/com.marketplace.getListing", s.handleGetListing)
	mux.HandleFunc("GET /xrpc/com.marketplace.getAuthorListings", s.handleGetAuthorListings)
	mux.HandleFunc("GET /xrpc/com.marketplace.getKnownAuthors", s.handleGetKnownAuthors)

	// Netlify function paths used by existing deployments.
	mux.Handle("POST /.netlify/functions/com-marketplace-notifyNewListing", notify)
	mux.Handle("GET /.netlify/functions/com-marketplace-getListings", browse)
	mux.Handle("GET /.netlify/functions/com-marketplace-getAllListings", browse)
	mux.Handle("GET /.netlify/functions/com-marketplace-searchListings", search)

	mux.HandleFunc("GET /health", s.handleHealth)

	return withLogging(s.logger, withCORS(mux))
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
