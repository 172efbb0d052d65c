package health

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/directory"
	"github.com/intentmesh-hq/auctioneer/pkg/dispatcher"
	"github.com/intentmesh-hq/auctioneer/pkg/escrow"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
	"github.com/intentmesh-hq/auctioneer/pkg/registry"
)

// Server represents a health check HTTP server
type Server struct {
	port            string
	intents         *registry.Registry
	ledger          *escrow.Ledger
	agents          *directory.Directory
	dispatch        *dispatcher.Dispatcher
	circuitBreakers map[string]*circuitbreaker.CircuitBreaker
	metricsAPIKey   string
}

// NewServer creates a new health check server
func NewServer(
	port string,
	intents *registry.Registry,
	ledger *escrow.Ledger,
	agents *directory.Directory,
	dispatch *dispatcher.Dispatcher,
	circuitBreakers map[string]*circuitbreaker.CircuitBreaker,
) *Server {
	return &Server{
		port:            port,
		intents:         intents,
		ledger:          ledger,
		agents:          agents,
		dispatch:        dispatch,
		circuitBreakers: circuitBreakers,
		metricsAPIKey:   os.Getenv("METRICS_API_KEY"),
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the health check server
func (s *Server) Start() {
	// Health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.intents == nil || s.ledger == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Registry not initialized"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	// Service status endpoint
	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]interface{})

		intents := make(map[string]int)
		for _, st := range []models.IntentStatus{
			models.StatusOpen,
			models.StatusBidding,
			models.StatusExecuting,
			models.StatusCompleted,
			models.StatusDisputed,
			models.StatusCancelled,
		} {
			intents[string(st)] = len(s.intents.ListByStatus(st))
		}
		status["intents"] = intents
		status["locked_value_wei"] = s.ledger.LockedValue().String()
		status["registered_agents"] = s.agents.Count()
		if s.dispatch != nil {
			status["pending_messages"] = s.dispatch.PendingCount()
		}

		circuits := make(map[string]string)
		for name, cb := range s.circuitBreakers {
			state := "closed"
			if cb.IsOpen() {
				state = "open"
			}
			circuits[name] = state
		}
		status["circuits"] = circuits

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	http.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing name parameter"))
			return
		}

		cb, ok := s.circuitBreakers[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker named %s", name)))
			return
		}

		cb.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", name)))
	})

	// Expose Prometheus metrics with API key authentication
	http.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	log.Printf("Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, nil); err != nil {
		log.Printf("Health server error: %v", err)
	}
}
