package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - job descriptor stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Status
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - application status

	// API routes - Session
	mux.HandleFunc("/api/session", s.handleSessionRoute) // GET (info), PUT (sign in), DELETE (sign out)

	// API routes - Documents
	mux.HandleFunc("/api/documents", s.app.DocumentHandler.UploadHandler) // POST - inspect, upload, optionally generate

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler) // GET - jobs of the signed-in user
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)                // GET/POST/DELETE /{resourceId}, POST /{resourceId}/clear, POST /recover

	// API routes - History
	mux.HandleFunc("/api/history", s.handleHistoryRoute) // GET (list), DELETE (clear)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

// handleSessionRoute routes /api/session by method
func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.SessionHandler.GetSessionHandler,
		http.MethodPut:    s.app.SessionHandler.SignInHandler,
		http.MethodDelete: s.app.SessionHandler.SignOutHandler,
	})
}

// handleHistoryRoute routes /api/history by method
func (s *Server) handleHistoryRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.HistoryHandler.ListHistoryHandler,
		http.MethodDelete: s.app.HistoryHandler.ClearHistoryHandler,
	})
}

// handleJobRoutes routes /api/jobs/{resourceId} and its sub-routes
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/jobs/"

	if r.URL.Path == prefix+"recover" {
		s.app.JobHandler.RecoverHandler(w, r)
		return
	}

	if RouteByPathSuffix(w, r, prefix, []PathSuffixRouter{
		{Suffix: "/clear", Handler: s.app.JobHandler.ClearJobHandler},
	}) {
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.JobHandler.GetJobHandler,
		http.MethodPost:   s.app.JobHandler.StartJobHandler,
		http.MethodDelete: s.app.JobHandler.CancelJobHandler,
	})
}
