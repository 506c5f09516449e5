package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// UserIDHeader carries the end-user id for API-key callers, which are
// trusted backends acting on behalf of a user.
const UserIDHeader = "X-User-ID"

var (
	ErrMissingToken  = errors.New("missing authentication token")
	ErrInvalidToken  = errors.New("invalid authentication token")
	ErrMissingUserID = errors.New("api key requests must carry " + UserIDHeader)
	ErrJWTDisabled   = errors.New("jwt authentication is not configured")
)

// AuthMethod names how an identity was established
type AuthMethod string

const (
	AuthAPIKey AuthMethod = "api_key"
	AuthJWT    AuthMethod = "jwt"
	AuthHeader AuthMethod = "header"
)

// Identity is the authenticated caller attached to the request context
type Identity struct {
	UserID    string     `json:"user_id"`
	Name      string     `json:"name,omitempty"`
	Method    AuthMethod `json:"method"`
	KeyLabel  string     `json:"key_label,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Claims are the bearer token claims. The subject is the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	// APIKeys maps a key to a label used in logs
	APIKeys     map[string]string `yaml:"api_keys"`
	JWTSecret   string            `yaml:"jwt_secret"`
	JWTIssuer   string            `yaml:"jwt_issuer"`
	JWTExpiry   time.Duration     `yaml:"jwt_expiry"`
	RequireAuth bool              `yaml:"require_auth"`
	PublicPaths []string          `yaml:"public_paths"`
}

// Authenticator validates API keys and HS256 bearer tokens
type Authenticator struct {
	config *Config
	logger *logrus.Logger
}

type contextKey string

const identityKey contextKey = "identity"

// NewAuthenticator creates a new authenticator
func NewAuthenticator(config *Config, logger *logrus.Logger) *Authenticator {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.PublicPaths == nil {
		config.PublicPaths = []string{"/health", "/metrics", "/v1/openapi.yaml"}
	}

	return &Authenticator{
		config: config,
		logger: logger,
	}
}

// Authenticate resolves the caller of r. API keys are tried first, then JWT.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := extractToken(r)
	if token == "" {
		return nil, ErrMissingToken
	}

	if label, ok := a.ValidateAPIKey(token); ok {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			return nil, ErrMissingUserID
		}
		return &Identity{UserID: userID, Method: AuthAPIKey, KeyLabel: label}, nil
	}

	claims, err := a.ValidateJWT(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	identity := &Identity{UserID: claims.Subject, Name: claims.Name, Method: AuthJWT}
	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		identity.ExpiresAt = &expires
	}
	return identity, nil
}

// ValidateAPIKey reports whether apiKey is configured and returns its label
func (a *Authenticator) ValidateAPIKey(apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Every key is compared so timing does not depend on the match position.
	matched := ""
	found := false
	for key, label := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			matched, found = label, true
		}
	}
	return matched, found
}

// IssueToken signs a bearer token for userID
func (a *Authenticator) IssueToken(userID, name string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", ErrJWTDisabled
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.JWTIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT parses and verifies a bearer token
func (a *Authenticator) ValidateJWT(tokenString string) (*Claims, error) {
	if a.config.JWTSecret == "" {
		return nil, ErrJWTDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.config.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid JWT token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Middleware attaches the caller identity to the request context. When auth
// is not required the X-User-ID header is trusted as is.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if !a.config.RequireAuth {
				if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
					r = r.WithContext(WithIdentity(r.Context(), &Identity{UserID: userID, Method: AuthHeader}))
				}
				next.ServeHTTP(w, r)
				return
			}

			identity, err := a.Authenticate(r)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"error":      err.Error(),
					"path":       r.URL.Path,
					"method":     r.Method,
					"remote_ip":  ClientIP(r),
					"user_agent": r.UserAgent(),
				}).Warn("Authentication failed")

				message := "Invalid authentication token"
				switch {
				case errors.Is(err, ErrMissingToken):
					message = "Missing authentication token"
				case errors.Is(err, ErrMissingUserID):
					message = "Missing " + UserIDHeader + " header"
				}
				WriteError(w, http.StatusUnauthorized, "unauthorized", message)
				return
			}

			a.logger.WithFields(logrus.Fields{
				"user_id":   identity.UserID,
				"auth_type": identity.Method,
				"path":      r.URL.Path,
			}).Debug("Authentication successful")

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) isPublic(path string) bool {
	for _, p := range a.config.PublicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom extracts the caller identity from ctx
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok && identity != nil
}

func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// ClientIP returns the originating client address of r
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
