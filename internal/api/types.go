package api

import (
	"time"

	"mycloud/internal/models"
	"mycloud/internal/registry"
)

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusResponse is returned by health checks and simple mutations.
type StatusResponse struct {
	Status string `json:"status"`
}

// RegisterRequest creates a user account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// LoginRequest exchanges credentials for an access token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries an issued bearer token.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   models.Account `json:"account"`
}

// FileListResponse wraps a file listing.
type FileListResponse struct {
	Count int                 `json:"count"`
	Files []models.FileRecord `json:"files"`
}

// RenameRequest changes a file's display name.
type RenameRequest struct {
	NewName string `json:"new_name"`
}

// CommentRequest replaces a file's comment.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// UserListResponse wraps the admin account listing.
type UserListResponse struct {
	Count int                   `json:"count"`
	Users []models.AccountUsage `json:"users"`
}

// AccountUpdateRequest is an administrative account change. Omitted fields are left unchanged.
type AccountUpdateRequest struct {
	Role     *string `json:"role,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// AccountUpdateResponse lists the fields an account update changed.
type AccountUpdateResponse struct {
	Status        string          `json:"status"`
	UpdatedFields []string        `json:"updated_fields"`
	Account       *models.Account `json:"account,omitempty"`
}

// AccountDeleteResponse reports how many files went with a deleted account.
type AccountDeleteResponse struct {
	Status       string `json:"status"`
	DeletedFiles int    `json:"deleted_files"`
}

// SweepResponse reports one maintenance sweep.
type SweepResponse struct {
	Pending registry.PendingSweep `json:"pending" yaml:"pending"`
	Orphans registry.OrphanSweep  `json:"orphans" yaml:"orphans"`
}
