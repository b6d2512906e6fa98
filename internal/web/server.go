package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/limwakra/youless-bridge/internal/discovery"
	"github.com/limwakra/youless-bridge/internal/meter"
	"github.com/limwakra/youless-bridge/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics exposes a Prometheus registry at /metrics.
func WithMetrics(registry *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// Server is the HTTP server for the admin API.
type Server struct {
	manager        *meter.Manager
	scanner        *discovery.Scanner
	store          store.Store
	events         *meter.EventBus
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	registry       *prometheus.Registry
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(manager *meter.Manager, scanner *discovery.Scanner, st store.Store, events *meter.EventBus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		manager: manager,
		scanner: scanner,
		store:   st,
		events:  events,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Every bus event goes out to WebSocket clients as-is.
	s.unsubEvents = events.OnAll(func(event meter.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/models", s.handleAPIModels)

	s.mux.HandleFunc("POST /api/discovery", s.handleAPIRunDiscovery)
	s.mux.HandleFunc("GET /api/discovery", s.handleAPILastDiscovery)

	s.mux.HandleFunc("GET /api/meters", s.handleAPIListMeters)
	s.mux.HandleFunc("POST /api/meters", s.handleAPICreateMeter)
	s.mux.HandleFunc("GET /api/meters/{name}", s.handleAPIGetMeter)
	s.mux.HandleFunc("PUT /api/meters/{name}", s.handleAPIUpdateMeter)
	s.mux.HandleFunc("DELETE /api/meters/{name}", s.handleAPIDeleteMeter)
	s.mux.HandleFunc("POST /api/meters/{name}/control", s.handleAPIControlMeter)
	s.mux.HandleFunc("GET /api/meters/{name}/status", s.handleAPIMeterStatus)
	s.mux.HandleFunc("GET /api/meters/{name}/last", s.handleAPIMeterLast)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	if s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only require the API key for /api/ endpoints. The WebSocket upgrade
		// and /metrics cannot carry custom headers in every client.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
