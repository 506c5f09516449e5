package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/advisor"
	"github.com/leolimacr/advisor-core/internal/metrics"
	"github.com/leolimacr/advisor-core/internal/middleware"
	"github.com/leolimacr/advisor-core/internal/openapi"
	"github.com/leolimacr/advisor-core/internal/security"
	"github.com/leolimacr/advisor-core/internal/types"
)

// Advisor answers advisory prompts
type Advisor interface {
	Advise(ctx context.Context, req types.AdviseRequest) (*types.AdviseResponse, error)
}

// ProviderMonitor reports provider circuit states
type ProviderMonitor interface {
	ProviderStatuses() []types.ProviderStatus
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	advisor            Advisor
	providers          ProviderMonitor
	store              Pinger
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	validation         *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string                               `yaml:"host"`
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	IdleTimeout    time.Duration                        `yaml:"idle_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	MetricsPath    string                               `yaml:"metrics_path"`
	DisableMetrics bool                                 `yaml:"disable_metrics"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
	Validation     *middleware.ValidationConfig         `yaml:"validation"`
}

// NewServer creates a new server instance. store may be nil.
func NewServer(adv Advisor, providers ProviderMonitor, store Pinger, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}

	server := &Server{
		advisor:   adv,
		providers: providers,
		store:     store,
		logger:    logger,
		config:    config,
	}

	if config.Security != nil {
		server.securityMiddleware = middleware.NewSecurityMiddleware(config.Security, logger)
	}

	validation, err := middleware.NewValidationMiddleware(config.Validation, openapi.Document, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize request validation: %w", err)
	}
	server.validation = validation

	return server, nil
}

// Security returns the security middleware, nil when not configured
func (s *Server) Security() *middleware.SecurityMiddleware {
	return s.securityMiddleware
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(s.config.Host, s.config.Port),
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting advisor server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping advisor server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	}
	r.Use(s.validation.Middleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/advise", s.handleAdvise).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/providers/health", s.handleProviderHealth).Methods(http.MethodGet)
	api.HandleFunc("/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	if !s.config.DisableMetrics {
		r.Handle(s.config.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		duration := time.Since(start)
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"request_id":  middleware.RequestIDFrom(r.Context()),
			"remote_addr": security.ClientIP(r),
		}).Info("HTTP request")
	})
}

// Handlers

// handleAdvise answers one prompt for the authenticated user
func (s *Server) handleAdvise(w http.ResponseWriter, r *http.Request) {
	var req types.AdviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if identity, ok := security.IdentityFrom(r.Context()); ok {
		req.UserID = identity.UserID
		if req.UserName == "" {
			req.UserName = identity.Name
		}
	}
	req.RequestID = middleware.RequestIDFrom(r.Context())

	resp, err := s.advisor.Advise(r.Context(), req)
	switch {
	case errors.Is(err, advisor.ErrUnauthenticated):
		s.writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", "Authenticated user required")
		return
	case errors.Is(err, advisor.ErrEmptyPrompt):
		s.writeErrorResponse(w, http.StatusBadRequest, "empty_prompt", "Prompt must not be empty")
		return
	case err != nil:
		s.logger.WithError(err).WithField("request_id", req.RequestID).Error("Advise failed")
		s.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleProviderHealth reports every provider's circuit state
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.providers.ProviderStatuses()

	available := 0
	for _, st := range statuses {
		if st.State == types.ProviderAvailable {
			available++
		}
	}

	status := "healthy"
	switch {
	case available == 0:
		status = "unhealthy"
	case available < len(statuses):
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, types.HealthStatus{
		Status:    status,
		Providers: statuses,
		CheckedAt: time.Now().UTC(),
	})
}

// handleHealthCheck is the liveness check. It fails only when the user-data
// store is unreachable, provider outages are answered by contingency.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	statusCode := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("User data store ping failed")
			response["status"] = "degraded"
			response["store"] = err.Error()
			statusCode = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, statusCode, response)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Document)
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	security.WriteError(w, statusCode, code, message)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
