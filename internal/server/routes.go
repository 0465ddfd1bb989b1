package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Accounts.
	mux.HandleFunc("POST /v1/auth/register", s.handleAuthRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleAuthLogin)
	mux.HandleFunc("GET /v1/auth/me", s.handleAuthMe)

	// Files collection.
	mux.HandleFunc("GET /v1/files", s.handleListFiles)
	mux.HandleFunc("POST /v1/files", s.handleUploadFile)
	mux.HandleFunc("GET /v1/files/stats", s.handleFileStats)

	// Single file.
	mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	mux.HandleFunc("GET /v1/files/{id}/download", s.handleDownloadFile)
	mux.HandleFunc("PATCH /v1/files/{id}/name", s.handleRenameFile)
	mux.HandleFunc("PATCH /v1/files/{id}/comment", s.handleCommentFile)
	mux.HandleFunc("DELETE /v1/files/{id}", s.handleDeleteFile)

	// Public sharing.
	mux.HandleFunc("GET /v1/public/{link}", s.handlePublicDownload)

	// Admin.
	mux.HandleFunc("GET /v1/admin/users", s.handleAdminListUsers)
	mux.HandleFunc("PATCH /v1/admin/users/{id}", s.handleAdminUpdateUser)
	mux.HandleFunc("DELETE /v1/admin/users/{id}", s.handleAdminDeleteUser)
	mux.HandleFunc("GET /v1/admin/users/{id}/files", s.handleAdminListUserFiles)
	mux.HandleFunc("POST /v1/admin/maintenance/sweep", s.handleAdminSweep)

	return s.withRequestLogging(s.withMetrics(s.withAuth(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
