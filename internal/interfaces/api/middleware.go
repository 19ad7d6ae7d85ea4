package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// TokenHeader is the shared-secret header checked by AuthMiddleware
const TokenHeader = "X-Token"

// AuthMiddleware rejects requests whose X-Token header does not equal token.
// Preflight OPTIONS requests pass through. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			logger.Warn("Rejected %s %s from %s: invalid token", r.Method, r.URL.Path, r.RemoteAddr)
			status, env := dispatch.Failure(apperrors.New(apperrors.Unauthorized, "invalid or missing X-Token"))
			writeJSON(w, status, r.Header.Get(RequestIDHeader), env)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware answers preflight requests and sets permissive CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TokenHeader+", "+RequestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("%s %s", r.Method, r.URL.Path)
	})
}
