// Package files implements the user-facing file and account operations. Each
// operation checks access, then validates, then mutates through the registry.
package files

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"mycloud/internal/apperrors"
	"mycloud/internal/guard"
	"mycloud/internal/models"
	"mycloud/internal/policy"
	"mycloud/internal/registry"
	"mycloud/internal/store"
	"mycloud/internal/usage"
)

const DefaultPendingTTL = time.Hour

// Options tunes a Service.
type Options struct {
	PendingTTL time.Duration
	Logger     *slog.Logger
}

// Service is the operation layer used by the transport and the CLI.
type Service struct {
	registry   *registry.Registry
	guard      *guard.Guard
	usage      *usage.Aggregator
	accounts   store.AccountStore
	pendingTTL time.Duration
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(reg *registry.Registry, g *guard.Guard, agg *usage.Aggregator, accounts store.AccountStore, opts Options) *Service {
	s := &Service{
		registry:   reg,
		guard:      g,
		usage:      agg,
		accounts:   accounts,
		pendingTTL: opts.PendingTTL,
		logger:     opts.Logger,
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = DefaultPendingTTL
	}
	return s
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// UploadInput is one file to store. Size is the declared length, or -1.
type UploadInput struct {
	Name         string
	Size         int64
	DeclaredType string
	SniffedType  string
	Comment      string
	Content      io.Reader
}

// CheckUploadQuota runs the checks that need no request body, so transports
// can reject an upload before reading it.
func (s *Service) CheckUploadQuota(ctx context.Context, principal models.Principal) error {
	if err := requireActive(principal); err != nil {
		return err
	}
	return s.guard.CheckQuota(ctx, principal.ID)
}

// Upload stores a new file owned by the principal.
func (s *Service) Upload(ctx context.Context, principal models.Principal, in UploadInput) (*models.FileRecord, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	if in.Content == nil {
		return nil, apperrors.Validation(apperrors.CodeMissingFile, "no file provided")
	}
	if err := s.guard.CheckUploadAllowed(ctx, guard.UploadRequest{
		OwnerID:     principal.ID,
		Name:        in.Name,
		Size:        in.Size,
		ContentType: in.DeclaredType,
		SniffedType: in.SniffedType,
	}); err != nil {
		return nil, err
	}
	comment, err := s.guard.CheckComment(in.Comment)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	contentType := s.guard.EffectiveContentType(name, in.DeclaredType, in.SniffedType)
	record, err := s.registry.Create(ctx, registry.CreateInput{
		OwnerID:      principal.ID,
		OriginalName: name,
		ContentType:  contentType,
		MimeCategory: guard.MimeCategory(name, contentType),
		Comment:      comment,
	}, in.Content)
	if err != nil {
		return nil, err
	}
	s.usage.Invalidate(ctx, principal.ID)
	s.log().Info("file uploaded", "file_id", record.ID, "owner_id", record.OwnerID, "size_bytes", record.SizeBytes)
	return record, nil
}

// List returns the files of ownerID, or of the principal when ownerID is
// empty. Only administrators may list someone else's files.
func (s *Service) List(ctx context.Context, principal models.Principal, ownerID string, order models.FileOrder) ([]models.FileRecord, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || ownerID == principal.ID {
		return s.registry.ListByOwner(ctx, principal.ID, order)
	}
	if !policy.CanAdminister(principal) {
		return nil, apperrors.Forbidden(apperrors.CodeAccessDenied, "access denied")
	}
	if _, err := s.loadAccount(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.registry.ListByOwner(ctx, ownerID, order)
}

// Get returns one file's metadata.
func (s *Service) Get(ctx context.Context, principal models.Principal, id string) (*models.FileRecord, error) {
	return s.authorize(ctx, principal, id, policy.OpRead)
}

// Download is an opened file. The caller must close Content.
type Download struct {
	Record  *models.FileRecord
	Content io.ReadCloser
}

// Download opens a file for its owner or an administrator and stamps the download.
func (s *Service) Download(ctx context.Context, principal models.Principal, id string) (*Download, error) {
	record, err := s.authorize(ctx, principal, id, policy.OpDownload)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, record)
}

// PublicDownload opens a file by its sharing token. No principal is involved.
func (s *Service) PublicDownload(ctx context.Context, token string) (*Download, error) {
	record, err := s.registry.GetByPublicLink(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	return s.open(ctx, record)
}

func (s *Service) open(ctx context.Context, record *models.FileRecord) (*Download, error) {
	content, err := s.registry.OpenContent(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := s.registry.TouchDownload(ctx, record.ID); err != nil {
		_ = content.Close()
		return nil, err
	}
	return &Download{Record: record, Content: content}, nil
}

// Rename changes a file's display name.
func (s *Service) Rename(ctx context.Context, principal models.Principal, id, name string) (*models.FileRecord, error) {
	if _, err := s.authorize(ctx, principal, id, policy.OpRename); err != nil {
		return nil, err
	}
	return s.registry.Rename(ctx, id, name)
}

// Comment replaces a file's comment.
func (s *Service) Comment(ctx context.Context, principal models.Principal, id, text string) (*models.FileRecord, error) {
	if _, err := s.authorize(ctx, principal, id, policy.OpComment); err != nil {
		return nil, err
	}
	cleaned, err := s.guard.CheckComment(text)
	if err != nil {
		return nil, err
	}
	return s.registry.UpdateComment(ctx, id, cleaned)
}

// Delete removes a file and its content.
func (s *Service) Delete(ctx context.Context, principal models.Principal, id string) (*models.FileRecord, error) {
	if _, err := s.authorize(ctx, principal, id, policy.OpDelete); err != nil {
		return nil, err
	}
	record, err := s.registry.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.usage.Invalidate(ctx, record.OwnerID)
	s.log().Info("file deleted", "file_id", id, "owner_id", record.OwnerID, "actor_id", principal.ID)
	return record, nil
}

// Stats returns usage totals for ownerID, or for the principal when empty.
func (s *Service) Stats(ctx context.Context, principal models.Principal, ownerID string) (models.UsageStats, error) {
	if err := requireActive(principal); err != nil {
		return models.UsageStats{}, err
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		ownerID = principal.ID
	}
	if ownerID != principal.ID && !policy.CanAdminister(principal) {
		return models.UsageStats{}, apperrors.Forbidden(apperrors.CodeAccessDenied, "access denied")
	}
	return s.usage.StatsFor(ctx, ownerID)
}

func (s *Service) authorize(ctx context.Context, principal models.Principal, id string, op policy.Operation) (*models.FileRecord, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	record, err := s.registry.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	allowed, err := policy.CanAccess(principal, *record, op)
	if err != nil {
		return nil, apperrors.Internal(err, "check access")
	}
	if !allowed {
		return nil, apperrors.Forbidden(apperrors.CodeAccessDenied, "access denied")
	}
	return record, nil
}

func (s *Service) loadAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err, "load account")
	}
	if account == nil {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	return account, nil
}

func requireActive(principal models.Principal) error {
	if principal.Anonymous() {
		return apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required")
	}
	if !principal.IsActive {
		return apperrors.Forbidden(apperrors.CodeAccessDenied, "account is disabled")
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
