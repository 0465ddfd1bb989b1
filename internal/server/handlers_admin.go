package server

import (
	"net/http"
	"strings"

	"mycloud/internal/api"
	"mycloud/internal/files"
	"mycloud/internal/models"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.AccountFilter{Search: strings.TrimSpace(query.Get("search"))}
	if raw := strings.TrimSpace(query.Get("role")); raw != "" {
		role, err := models.ParseRole(raw)
		if err != nil {
			s.writeServiceError(w, r, invalidArgument(err.Error()))
			return
		}
		filter.Role = role
	}
	active, err := queryOptionalBool(r, "active")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter.Active = active

	order, err := models.ParseAccountOrder(query.Get("order"))
	if err != nil {
		s.writeServiceError(w, r, invalidArgument(err.Error()))
		return
	}

	users, err := s.files.ListAccounts(r.Context(), principalFromContext(r.Context()), filter, order)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.UserListResponse{Count: len(users), Users: users})
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req api.AccountUpdateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	change := files.AccountChange{IsActive: req.IsActive}
	if req.Role != nil {
		role, err := models.ParseRole(*req.Role)
		if err != nil {
			s.writeServiceError(w, r, invalidArgument(err.Error()))
			return
		}
		change.Role = &role
	}

	account, fields, err := s.files.UpdateAccount(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), change)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AccountUpdateResponse{
		Status:        "updated",
		UpdatedFields: fields,
		Account:       account,
	})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.files.DeleteAccount(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AccountDeleteResponse{Status: "deleted", DeletedFiles: deleted})
}

func (s *Server) handleAdminListUserFiles(w http.ResponseWriter, r *http.Request) {
	order, err := models.ParseFileOrder(r.URL.Query().Get("order"))
	if err != nil {
		s.writeServiceError(w, r, invalidArgument(err.Error()))
		return
	}
	records, err := s.files.ListFilesForAccount(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), order)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileListResponse{Count: len(records), Files: records})
}

func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	report, err := s.files.Maintenance(r.Context(), principalFromContext(r.Context()), dryRun)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SweepResponse{Pending: report.Pending, Orphans: report.Orphans})
}
