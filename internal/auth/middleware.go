package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
)

// Middleware authenticates API callers with HS256 JWTs and applies the route policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *log.Logger
}

// MiddlewareOption configures the JWT middleware.
type MiddlewareOption func(*Middleware)

// WithMiddlewareLogger logs rejected requests.
func WithMiddlewareLogger(logger *log.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{secret: secret, policy: policy}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap applies authentication and role checks to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret)
		if err != nil {
			message := "unauthorized"
			if errors.Is(err, ErrTokenExpired) {
				message = "token expired"
			}
			m.reject(w, r, http.StatusUnauthorized, message, err)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.reject(w, r, http.StatusForbidden, "forbidden", errors.New("role "+string(role)+" below "+string(required)))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, status int, message string, cause error) {
	if m.logger != nil {
		m.logger.Printf("auth: %s %s rejected status=%d err=%v", r.Method, r.URL.Path, status, cause)
	}
	writeAuthError(w, status, message)
}

// bearerToken reads the Authorization header. Browser EventSource clients cannot
// set headers, so the access_token query parameter is accepted too.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
