package security

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationConfig holds transport-level request limits
type ValidationConfig struct {
	MaxRequestSize int64    `yaml:"max_request_size"`
	AllowedMethods []string `yaml:"allowed_methods"`
	ContentTypes   []string `yaml:"allowed_content_types"`
}

// RequestValidator rejects requests that violate transport limits before any
// body is decoded. Schema checks happen later against the OpenAPI document.
type RequestValidator struct {
	config *ValidationConfig
	logger *logrus.Logger
}

// NewRequestValidator creates a new request validator
func NewRequestValidator(config *ValidationConfig, logger *logrus.Logger) *RequestValidator {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = 256 << 10
	}
	if config.ContentTypes == nil {
		config.ContentTypes = []string{"application/json"}
	}

	return &RequestValidator{
		config: config,
		logger: logger,
	}
}

// Check returns the first violation found in r, or nil
func (v *RequestValidator) Check(r *http.Request) error {
	if !v.isAllowedMethod(r.Method) {
		return fmt.Errorf("method %s not allowed", r.Method)
	}

	if r.ContentLength > v.config.MaxRequestSize {
		return fmt.Errorf("request size %d exceeds maximum %d", r.ContentLength, v.config.MaxRequestSize)
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		if contentType := r.Header.Get("Content-Type"); !v.isAllowedContentType(contentType) {
			return fmt.Errorf("content type %q not allowed", contentType)
		}
	}
	return nil
}

// ValidationMiddleware creates request validation middleware. Bodies are
// capped so a missing Content-Length cannot bypass the size limit.
func (v *RequestValidator) ValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Check(r); err != nil {
				v.logger.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"method": r.Method,
					"error":  err.Error(),
				}).Debug("Request rejected")

				status := http.StatusBadRequest
				switch {
				case !v.isAllowedMethod(r.Method):
					status = http.StatusMethodNotAllowed
				case r.ContentLength > v.config.MaxRequestSize:
					status = http.StatusRequestEntityTooLarge
				}
				WriteError(w, status, "invalid_request", err.Error())
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, v.config.MaxRequestSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (v *RequestValidator) isAllowedMethod(method string) bool {
	if len(v.config.AllowedMethods) == 0 {
		return true
	}

	for _, allowed := range v.config.AllowedMethods {
		if strings.EqualFold(method, allowed) {
			return true
		}
	}
	return false
}

func (v *RequestValidator) isAllowedContentType(contentType string) bool {
	if len(v.config.ContentTypes) == 0 {
		return true
	}

	mainType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, allowed := range v.config.ContentTypes {
		if strings.EqualFold(mainType, allowed) {
			return true
		}
	}
	return false
}
