// Package server exposes the broker's HTTP surface: the OpenAI-compatible
// completion endpoint plus quota, outcome, alert, and health management.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/middleware"
	"github.com/stratoroute/model-broker/internal/monitor"
	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/quota"
	"github.com/stratoroute/model-broker/internal/routing"
)

// Config holds HTTP server configuration.
type Config struct {
	Port           string                  `yaml:"port"`
	ReadTimeout    time.Duration           `yaml:"read_timeout"`
	WriteTimeout   time.Duration           `yaml:"write_timeout"`
	MaxHeaderBytes int                     `yaml:"max_header_bytes"`
	Security       *middleware.StackConfig `yaml:"security"`
}

// Server is the broker's HTTP front end.
type Server struct {
	engine     *routing.Engine
	quota      *quota.Manager
	monitor    *monitor.Monitor
	registry   *providers.Registry
	stack      *middleware.Stack
	httpServer *http.Server
	config     *Config
	logger     *logrus.Logger
}

// NewServer creates a server instance.
func NewServer(engine *routing.Engine, quotaMgr *quota.Manager, mon *monitor.Monitor, registry *providers.Registry, config *Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{
		engine:   engine,
		quota:    quotaMgr,
		monitor:  mon,
		registry: registry,
		config:   config,
		logger:   logger,
	}

	if config.Security != nil {
		stack, err := middleware.NewStack(config.Security, logger)
		if err != nil {
			return nil, err
		}
		s.stack = stack
	}

	return s, nil
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting model broker server")
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping model broker server")
	if s.stack != nil {
		s.stack.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.stack != nil {
		r.Use(s.stack.Handler())
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	// OpenAI-compatible surface
	api.HandleFunc("/chat/completions", s.handleChatCompletions).Methods("POST")

	// Broker management
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")
	api.HandleFunc("/outcomes", s.handleRecordOutcome).Methods("POST")
	api.HandleFunc("/quota/{user}", s.handleQuotaStatus).Methods("GET")
	api.HandleFunc("/quota/{user}/tier", s.handleUpdateTier).Methods("PUT")
	api.HandleFunc("/pools", s.handlePools).Methods("GET")
	api.HandleFunc("/accuracy", s.handleAccuracy).Methods("GET")
	api.HandleFunc("/alerts", s.handleAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/providers/{name}", s.handleGetProvider).Methods("GET")

	// Operational endpoints
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.setupSwaggerRoutes(r)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && contentType != "application/json" {
				s.writeError(w, http.StatusUnsupportedMediaType, "api_error", "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
