package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/app"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/storage/badger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = badger.InMemoryPath
	config.Jobs.RecoverOnStart = false

	application, err := app.New(config, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, application.Start())
	t.Cleanup(func() { application.Close() })

	return New(application)
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"status", http.MethodGet, "/api/status", http.StatusOK},
		{"session info", http.MethodGet, "/api/session", http.StatusOK},
		{"session wrong method", http.MethodPatch, "/api/session", http.StatusMethodNotAllowed},
		{"jobs need session", http.MethodGet, "/api/jobs", http.StatusUnauthorized},
		{"job state needs session", http.MethodGet, "/api/jobs/doc-1", http.StatusUnauthorized},
		{"cancel needs session", http.MethodDelete, "/api/jobs/doc-1", http.StatusUnauthorized},
		{"clear needs session", http.MethodPost, "/api/jobs/doc-1/clear", http.StatusUnauthorized},
		{"recover needs session", http.MethodPost, "/api/jobs/recover", http.StatusUnauthorized},
		{"recover wrong method", http.MethodGet, "/api/jobs/recover", http.StatusMethodNotAllowed},
		{"job wrong method", http.MethodPut, "/api/jobs/doc-1", http.StatusMethodNotAllowed},
		{"history needs session", http.MethodGet, "/api/history", http.StatusUnauthorized},
		{"upload wrong method", http.MethodGet, "/api/documents", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(s, tt.method, tt.path).Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodOptions, "/api/jobs/doc-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestAddress(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, "localhost:8085", s.Address())
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodGet, "/health")
	generated := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, generated, serve(s, http.MethodGet, "/health").Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/doc-1", nil)
	req.Header.Set("X-Request-ID", "ui-42")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "ui-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestResource(t *testing.T) {
	assert.Equal(t, "doc-1", requestResource("/api/jobs/doc-1"))
	assert.Equal(t, "doc-1", requestResource("/api/jobs/doc-1/clear"))
	assert.Equal(t, "", requestResource("/api/jobs/recover"))
	assert.Equal(t, "", requestResource("/api/jobs"))
	assert.Equal(t, "", requestResource("/api/session"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t)
	handler := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/doc-1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
