package store

import (
	"context"
	"errors"
	"time"

	"mycloud/internal/models"
)

var (
	// ErrQuotaExceeded is returned when a pending insert would exceed the owner's file limit.
	ErrQuotaExceeded = errors.New("file limit exceeded")
	// ErrKeyIssued is returned when a storage key or public link was issued before.
	ErrKeyIssued = errors.New("storage key or public link already issued")
	// ErrOwnerNotFound is returned when a file references a missing account.
	ErrOwnerNotFound = errors.New("owner account not found")
	// ErrUsernameTaken is returned when creating an account with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

// FileStore persists file metadata.
type FileStore interface {
	InsertPendingFile(ctx context.Context, file *models.FileRecord, maxFiles int) error
	ActivateFile(ctx context.Context, id string, sizeBytes int64) error
	DeletePendingFile(ctx context.Context, id string) (bool, error)
	GetFile(ctx context.Context, id string) (*models.FileRecord, error)
	GetFileByPublicLink(ctx context.Context, link string) (*models.FileRecord, error)
	RenameFile(ctx context.Context, id, name string) (bool, error)
	UpdateFileComment(ctx context.Context, id, comment string) (bool, error)
	TouchFileDownload(ctx context.Context, id string, now time.Time) (bool, error)
	DeleteFile(ctx context.Context, id string) (string, bool, error)
	ListFilesByOwner(ctx context.Context, ownerID string, order models.FileOrder) ([]models.FileRecord, error)
	CountFilesByOwner(ctx context.Context, ownerID string) (int, error)
	OwnerUsage(ctx context.Context, ownerID string) (models.UsageStats, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.FileRecord, error)
	StoredKeyInUse(ctx context.Context, key string) (bool, error)
}

// AccountStore persists accounts and their aggregate usage.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, update AccountUpdate, now time.Time) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) ([]string, bool, error)
	ListAccountUsage(ctx context.Context, filter models.AccountFilter, order models.AccountOrder) ([]models.AccountUsage, error)
	CountAccounts(ctx context.Context) (int, error)
}

// AccountUpdate holds the mutable account fields. Nil fields are left unchanged.
type AccountUpdate struct {
	Role         *models.Role
	IsActive     *bool
	PasswordHash *string
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Role == nil && u.IsActive == nil && u.PasswordHash == nil
}

var (
	_ FileStore    = (*Store)(nil)
	_ AccountStore = (*Store)(nil)
)
