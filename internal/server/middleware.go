package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/handlers"
)

const (
	requestIDHeader = "X-Request-ID"
	jobRoutePrefix  = "/api/jobs/"
)

// withMiddleware wraps the router with the request chain
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// last applied runs first
	handler = s.recoveryMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// withConditionalMiddleware skips the chain for the descriptor stream
func (s *Server) withConditionalMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			setCORSHeaders(w)
			handler.ServeHTTP(w, r)
			return
		}
		s.withMiddleware(handler).ServeHTTP(w, r)
	})
}

// requestResource returns the resource id a job route acts on, if any
func requestResource(path string) string {
	if !strings.HasPrefix(path, jobRoutePrefix) {
		return ""
	}
	id := handlers.PathID(path, jobRoutePrefix)
	if id == "recover" {
		return ""
	}
	return id
}

// requestLogger correlates job routes by resource id, matching the job
// controller logs, and everything else by request id
func (s *Server) requestLogger(r *http.Request) (arbor.ILogger, string) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if resourceID := requestResource(r.URL.Path); resourceID != "" {
		return s.app.Logger.WithCorrelationId(resourceID), requestID
	}
	return s.app.Logger.WithCorrelationId(requestID), requestID
}

// loggingMiddleware logs each API call with its outcome
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger, requestID := s.requestLogger(r)
		w.Header().Set(requestIDHeader, requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		event := logger.Debug()
		switch {
		case rw.statusCode >= http.StatusInternalServerError:
			event = logger.Error()
		case rw.statusCode == http.StatusUnauthorized, rw.statusCode == http.StatusConflict:
			// signed out or a job already in flight
			event = logger.Info()
		}
		event = event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start))
		if resourceID := requestResource(r.URL.Path); resourceID != "" {
			event = event.Str("resource_id", resourceID)
		}
		event.Msg("API request")
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
	w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
}

// corsMiddleware lets the desktop UI call from its own local origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns a handler panic into a 500
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("request_id", w.Header().Get(requestIDHeader)).
					Str("path", r.URL.Path).
					Msg("Panic in API handler")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code for the request log
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
}
