package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/nerrad567/suntec-core/internal/identity"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
// Query strings are not logged; they may carry a bearer token.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler { //nolint:errorlint // sentinel re-panicked as-is
					panic(err)
				}
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, msgServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing. An empty origin
// list allows every origin.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   orDefault(s.cfg.CORS.AllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		AllowedHeaders:   orDefault(s.cfg.CORS.AllowedHeaders, []string{"Authorization", "Content-Type", "X-Request-ID"}),
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: s.cfg.CORS.AllowCredentials,
		MaxAge:           86400,
	})
	return c.Handler
}

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken adapts the identity provider to the JWT middleware. The
// returned *identity.Claims is stored in the request context.
func (s *Server) validateToken(ctx context.Context, token string) (any, error) {
	claims, err := s.identity.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// authMiddleware guards REST routes: Authorization header only, JSON 401s.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	mw := jwtmiddleware.New(s.validateToken,
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.AuthHeaderTokenExtractor),
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			if errors.Is(err, jwtmiddleware.ErrJWTInvalid) {
				writeUnauthorized(w, msgInvalidToken)
				return
			}
			writeUnauthorized(w, msgNoToken)
		}),
	)
	return mw.CheckJWT
}

// streamAuthMiddleware guards the live channels: ?token= first, then the
// Authorization header, bare 401 on failure.
func (s *Server) streamAuthMiddleware() func(http.Handler) http.Handler {
	mw := jwtmiddleware.New(s.validateToken,
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.MultiTokenExtractor(
			jwtmiddleware.ParameterTokenExtractor("token"),
			jwtmiddleware.AuthHeaderTokenExtractor,
		)),
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)
	return mw.CheckJWT
}

// claimsFrom returns the verified caller placed in the context by the
// auth middleware.
func claimsFrom(r *http.Request) (*identity.Claims, bool) {
	claims, ok := r.Context().Value(jwtmiddleware.ContextKey{}).(*identity.Claims)
	return claims, ok && claims != nil
}

// statusWriter wraps http.ResponseWriter to capture the status code. It
// forwards Flush and Hijack so the live channels work behind it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func orDefault(values, defaultVal []string) []string {
	if len(values) == 0 {
		return defaultVal
	}
	return values
}
