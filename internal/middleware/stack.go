// Package middleware assembles the HTTP middleware chain: security headers,
// CORS, authentication, rate limiting, and OpenAPI request validation.
package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/security"
)

// StackConfig holds configuration for the full middleware stack.
type StackConfig struct {
	Auth       *security.Config          `yaml:"auth"`
	RateLimit  *security.RateLimitConfig `yaml:"rate_limit"`
	Validation *ValidationConfig         `yaml:"validation"`
}

// Stack composes the broker's middleware components.
type Stack struct {
	authenticator *security.Authenticator
	rateLimiter   *security.RateLimiter
	validator     *ValidationMiddleware
	allowedOrigins []string
	logger        *logrus.Logger
}

// NewStack builds the middleware stack from configuration.
func NewStack(config *StackConfig, logger *logrus.Logger) (*Stack, error) {
	s := &Stack{logger: logger}

	if config.Auth != nil {
		s.authenticator = security.NewAuthenticator(config.Auth, logger)
		s.allowedOrigins = config.Auth.AllowedOrigins
	}
	if config.RateLimit != nil {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit, logger)
	}
	if config.Validation != nil {
		validator, err := NewValidationMiddleware(config.Validation, logger)
		if err != nil {
			return nil, err
		}
		s.validator = validator
	}

	return s, nil
}

// Authenticator exposes the configured authenticator for token issuance.
func (s *Stack) Authenticator() *security.Authenticator {
	return s.authenticator
}

// Handler wraps a handler with the full chain. Order outermost to
// innermost: headers, CORS, auth, rate limit, validation.
func (s *Stack) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next
		if s.validator != nil {
			handler = s.validator.Middleware(handler)
		}
		if s.rateLimiter != nil {
			handler = s.rateLimiter.Middleware()(handler)
		}
		if s.authenticator != nil {
			handler = s.authenticator.Middleware()(handler)
		}
		handler = s.corsMiddleware()(handler)
		handler = s.securityHeadersMiddleware()(handler)
		return handler
	}
}

// Stop shuts down background middleware components.
func (s *Stack) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Stack) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Stack) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
					break
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
