package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/security"
)

// SecurityMiddlewareConfig holds configuration for security middleware
type SecurityMiddlewareConfig struct {
	Auth           *security.Config           `yaml:"auth"`
	RateLimit      *security.RateLimitConfig  `yaml:"rate_limit"`
	Validation     *security.ValidationConfig `yaml:"validation"`
	AllowedOrigins []string                   `yaml:"allowed_origins"`
}

// SecurityMiddleware combines all security middleware components
type SecurityMiddleware struct {
	auth           *security.Authenticator
	rateLimiter    security.RateLimiter
	validator      *security.RequestValidator
	allowedOrigins []string
	logger         *logrus.Logger
}

// NewSecurityMiddleware creates a new security middleware stack
func NewSecurityMiddleware(config *SecurityMiddlewareConfig, logger *logrus.Logger) *SecurityMiddleware {
	s := &SecurityMiddleware{
		allowedOrigins: config.AllowedOrigins,
		logger:         logger,
	}

	if config.Auth != nil {
		s.auth = security.NewAuthenticator(config.Auth, logger)
	}
	if config.RateLimit != nil && config.RateLimit.Enabled {
		s.rateLimiter = security.NewInMemoryRateLimiter(config.RateLimit, logger)
	}
	if config.Validation != nil {
		s.validator = security.NewRequestValidator(config.Validation, logger)
	}
	return s
}

// Authenticator exposes the configured authenticator, nil when auth is off
func (s *SecurityMiddleware) Authenticator() *security.Authenticator {
	return s.auth
}

// Handler creates the security chain. Outermost first: headers, CORS,
// transport limits, authentication, then per-user rate limiting.
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if s.rateLimiter != nil {
			handler = security.RateLimitMiddleware(s.rateLimiter, security.UserKeyExtractor, s.logger)(handler)
		}
		if s.auth != nil {
			handler = s.auth.Middleware()(handler)
		}
		if s.validator != nil {
			handler = s.validator.ValidationMiddleware()(handler)
		}
		if len(s.allowedOrigins) > 0 {
			handler = s.corsMiddleware()(handler)
		}
		return securityHeaders(handler)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Cache-Control", "no-store")
		h.Set("X-API-Version", "1.0")

		next.ServeHTTP(w, r)
	})
}

func (s *SecurityMiddleware) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range s.allowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, "+security.UserIDHeader+", "+RequestIDHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop gracefully stops all middleware components
func (s *SecurityMiddleware) Stop() {
	if rateLimiter, ok := s.rateLimiter.(*security.InMemoryRateLimiter); ok {
		rateLimiter.Stop()
	}
}
