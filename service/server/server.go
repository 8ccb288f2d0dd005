// Package server exposes the custodial wallet service over HTTP: wallet
// onboarding, minting-policy registration, transaction intake and status
// reads. Handlers validate at the boundary and enqueue work on the engine;
// they never build or submit transactions themselves.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/engine"
	"github.com/heronlabs/heron/service/keys"
	"github.com/heronlabs/heron/service/ledger"
	"github.com/heronlabs/heron/service/metrics"
)

// enqueuer hands accepted transactions to the owning wallet's worker.
type enqueuer interface {
	Enqueue(ctx context.Context, txID uuid.UUID) error
}

// keyMaker generates encrypted signing material for wallets and policies.
type keyMaker interface {
	NewWallet() (*keys.WalletMaterial, error)
	NewPolicy(lockingSlot *uint64) (*keys.PolicyMaterial, error)
}

// labelChecker validates transaction metadata labels at intake.
type labelChecker interface {
	IsKnownLabel(label uint64) bool
}

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr       string
	store      *db.Store
	keyring    keyMaker
	supervisor enqueuer
	cache      *engine.BalanceCache
	client     ledger.ChainClient
	registry   labelChecker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The supervisor receives accepted transactions for processing.
// The registry validates metadata labels; the cache and client serve
// balance reads. The metrics is optional - if nil, the /metrics endpoint
// won't be available.
func New(addr string, store *db.Store, keyring keyMaker, supervisor enqueuer, cache *engine.BalanceCache, client ledger.ChainClient, registry labelChecker, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		store:      store,
		keyring:    keyring,
		supervisor: supervisor,
		cache:      cache,
		client:     client,
		registry:   registry,
		metrics:    m,
		logger:     logger,
	}
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Wallet routes
	mux.Handle("POST /api/v1/wallets", handleCreateWallet(s.store, s.keyring, s.logger))
	mux.Handle("GET /api/v1/wallets", handleListWallets(s.store, s.logger))
	mux.Handle("GET /api/v1/wallets/{id}", handleGetWallet(s.store, s.logger))
	mux.Handle("GET /api/v1/wallets/{id}/balance", handleGetWalletBalance(s.store, s.cache, s.logger))
	mux.Handle("DELETE /api/v1/wallets/{id}", handleDeleteWallet(s.store, s.logger))

	// Minting policy routes
	mux.Handle("POST /api/v1/policies", handleCreatePolicy(s.store, s.keyring, s.logger))
	mux.Handle("GET /api/v1/policies", handleListPolicies(s.store, s.logger))

	// Transaction routes
	mux.Handle("POST /api/v1/transactions", handleCreateTransaction(s.store, s.supervisor, s.registry, s.logger))
	mux.Handle("GET /api/v1/transactions", handleListTransactions(s.store, s.logger))
	mux.Handle("GET /api/v1/transactions/{id}", handleGetTransaction(s.store, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(s.withHTTPMetrics(mux))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to all responses and answers preflight
// requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withHTTPMetrics records request counts and latencies per route pattern.
func (s *Server) withHTTPMetrics(next *http.ServeMux) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		_, pattern := next.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.RecordHTTPRequest(pattern, r.Method, rec.status, time.Since(start).Seconds())
	})
}
