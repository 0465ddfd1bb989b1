// Package registry is the authoritative index of stored files. It keeps file
// metadata in the store and coordinates every create and delete with the
// content store so that a visible record always has its bytes.
package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"mycloud/internal/apperrors"
	"mycloud/internal/contentstore"
	"mycloud/internal/guard"
	"mycloud/internal/models"
	"mycloud/internal/store"
)

const maxKeyAttempts = 3

// Options tunes a Registry. Zero values fall back to the guard defaults.
type Options struct {
	MaxFilesPerUser int
	MaxUploadBytes  int64
	Logger          *slog.Logger
}

// Registry coordinates file metadata with stored content.
type Registry struct {
	files    store.FileStore
	content  contentstore.Store
	maxFiles int
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time

	blobDeleteFailures atomic.Int64
}

// New constructs a Registry.
func New(files store.FileStore, content contentstore.Store, opts Options) *Registry {
	r := &Registry{
		files:    files,
		content:  content,
		maxFiles: opts.MaxFilesPerUser,
		maxBytes: opts.MaxUploadBytes,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if r.maxFiles <= 0 {
		r.maxFiles = guard.DefaultMaxFilesPerUser
	}
	if r.maxBytes <= 0 {
		r.maxBytes = guard.DefaultMaxUploadBytes
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// BlobDeleteFailures counts content deletions that failed after their
// metadata was already removed.
func (r *Registry) BlobDeleteFailures() int64 {
	return r.blobDeleteFailures.Load()
}

// CreateInput describes a new file. Validation happens before this point.
type CreateInput struct {
	OwnerID      string
	OriginalName string
	ContentType  string
	MimeCategory models.MimeCategory
	Comment      string
}

// Create runs a full create: reserve, write, commit. On any failure after the
// reservation the partial state is rolled back.
func (r *Registry) Create(ctx context.Context, in CreateInput, content io.Reader) (*models.FileRecord, error) {
	reservation, err := r.BeginCreate(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := reservation.Write(ctx, content); err != nil {
		r.abortDetached(reservation)
		return nil, err
	}
	record, err := r.Commit(ctx, reservation)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Get returns a visible record.
func (r *Registry) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	if !store.ValidFileID(id) {
		return nil, fileNotFound()
	}
	record, err := r.files.GetFile(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err, "load file")
	}
	if record == nil {
		return nil, fileNotFound()
	}
	return record, nil
}

// GetByPublicLink resolves a sharing token to its visible record.
func (r *Registry) GetByPublicLink(ctx context.Context, token string) (*models.FileRecord, error) {
	if !store.ValidPublicLink(token) {
		return nil, fileNotFound()
	}
	record, err := r.files.GetFileByPublicLink(ctx, token)
	if err != nil {
		return nil, apperrors.Internal(err, "load file by public link")
	}
	if record == nil {
		return nil, fileNotFound()
	}
	return record, nil
}

// Rename changes the display name only. Storage key and public link are untouched.
func (r *Registry) Rename(ctx context.Context, id, newName string) (*models.FileRecord, error) {
	name, err := guard.CheckRenameAllowed(newName)
	if err != nil {
		return nil, err
	}
	if !store.ValidFileID(id) {
		return nil, fileNotFound()
	}
	ok, err := r.files.RenameFile(ctx, id, name)
	if err != nil {
		return nil, apperrors.Internal(err, "rename file")
	}
	if !ok {
		return nil, fileNotFound()
	}
	return r.Get(ctx, id)
}

// UpdateComment replaces the comment of a file. The text must already be validated.
func (r *Registry) UpdateComment(ctx context.Context, id, text string) (*models.FileRecord, error) {
	if !store.ValidFileID(id) {
		return nil, fileNotFound()
	}
	ok, err := r.files.UpdateFileComment(ctx, id, text)
	if err != nil {
		return nil, apperrors.Internal(err, "update comment")
	}
	if !ok {
		return nil, fileNotFound()
	}
	return r.Get(ctx, id)
}

// TouchDownload stamps a download on the record.
func (r *Registry) TouchDownload(ctx context.Context, id string) error {
	ok, err := r.files.TouchFileDownload(ctx, id, r.now())
	if err != nil {
		return apperrors.Internal(err, "record download")
	}
	if !ok {
		return fileNotFound()
	}
	return nil
}

// Delete removes the record, then its content. A content failure is logged
// and counted; the record stays deleted.
func (r *Registry) Delete(ctx context.Context, id string) (*models.FileRecord, error) {
	if !store.ValidFileID(id) {
		return nil, fileNotFound()
	}
	record, err := r.files.GetFile(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err, "load file")
	}
	key, found, err := r.files.DeleteFile(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err, "delete file")
	}
	if !found {
		return nil, fileNotFound()
	}
	r.deleteContent(context.WithoutCancel(ctx), key, "file_id", id)
	if record == nil {
		record = &models.FileRecord{ID: id, StoredKey: key}
	}
	return record, nil
}

// ListByOwner returns a snapshot of the owner's visible files.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string, order models.FileOrder) ([]models.FileRecord, error) {
	files, err := r.files.ListFilesByOwner(ctx, ownerID, order)
	if err != nil {
		return nil, apperrors.Internal(err, "list files")
	}
	return files, nil
}

// OpenContent opens the bytes of a visible record. Missing content for a
// visible record is a storage fault, not a missing file.
func (r *Registry) OpenContent(ctx context.Context, record *models.FileRecord) (io.ReadCloser, error) {
	if record == nil {
		return nil, fileNotFound()
	}
	rc, err := r.content.Open(ctx, record.StoredKey)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			r.log().Error("file content missing", "file_id", record.ID, "stored_key", record.StoredKey)
			return nil, apperrors.IO(err, "file content missing")
		}
		return nil, asIOError(err, "open content")
	}
	return rc, nil
}

// PurgeOwner removes content left behind by an account deletion. Failures are
// logged and counted.
func (r *Registry) PurgeOwner(ctx context.Context, keys []string) int {
	removed := 0
	for _, key := range keys {
		if r.deleteContent(ctx, key, "reason", "account_deleted") {
			removed++
		}
	}
	return removed
}

func (r *Registry) deleteContent(ctx context.Context, key string, attrs ...any) bool {
	if err := r.content.Delete(ctx, key); err != nil {
		r.blobDeleteFailures.Add(1)
		args := append([]any{"stored_key", key, "err", err}, attrs...)
		r.log().Error("content delete failed", args...)
		return false
	}
	return true
}

func fileNotFound() error {
	return apperrors.NotFound(apperrors.CodeFileNotFound, "file not found")
}

func asIOError(err error, message string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.IO(err, message)
}
