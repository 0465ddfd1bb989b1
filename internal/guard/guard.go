// Package guard holds the quota and validation checks that run before any
// file mutation.
package guard

import (
	"context"
	"fmt"
	"html"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"mycloud/internal/apperrors"
)

const (
	DefaultMaxUploadBytes  int64 = 100 * 1024 * 1024
	DefaultMaxFilesPerUser       = 1000
	MaxFilenameLength            = 255
	MaxCommentLength             = 500

	octetStream = "application/octet-stream"
)

// DefaultAllowedExtensions is the upload allow-list used when none is configured.
var DefaultAllowedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".ico",
	".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".md",
	".xls", ".xlsx", ".csv", ".ods",
	".ppt", ".pptx", ".odp",
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2",
	".mp3", ".wav", ".ogg", ".mp4", ".avi", ".mkv", ".mov",
	".py", ".js", ".html", ".css", ".json", ".xml", ".sql",
}

// FileCounter reports how many files an owner currently holds.
type FileCounter interface {
	CountFilesByOwner(ctx context.Context, ownerID string) (int, error)
}

// Limits configures a Guard. Zero values fall back to the defaults.
type Limits struct {
	MaxUploadBytes    int64
	MaxFilesPerUser   int
	AllowedExtensions []string
	AllowedMediaTypes []string
}

// UploadRequest describes an upload before any bytes are stored.
// Size is the declared length; a negative size means unknown.
type UploadRequest struct {
	OwnerID     string
	Name        string
	Size        int64
	ContentType string
	SniffedType string
}

// Guard validates uploads, renames, and comments.
type Guard struct {
	counter      FileCounter
	maxBytes     int64
	maxFiles     int
	allowedExts  map[string]struct{}
	allowedTypes map[string]struct{}
	sanitizer    *bluemonday.Policy
}

// New constructs a Guard.
func New(counter FileCounter, limits Limits) *Guard {
	g := &Guard{
		counter:   counter,
		maxBytes:  limits.MaxUploadBytes,
		maxFiles:  limits.MaxFilesPerUser,
		sanitizer: bluemonday.StrictPolicy(),
	}
	if g.maxBytes <= 0 {
		g.maxBytes = DefaultMaxUploadBytes
	}
	if g.maxFiles <= 0 {
		g.maxFiles = DefaultMaxFilesPerUser
	}

	exts := limits.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	g.allowedExts = make(map[string]struct{}, len(exts))
	for _, raw := range exts {
		ext := normalizeExtension(raw)
		if ext != "" {
			g.allowedExts[ext] = struct{}{}
		}
	}
	g.allowedTypes = map[string]struct{}{}
	for _, raw := range limits.AllowedMediaTypes {
		if mediaType := normalizeMediaType(raw); mediaType != "" {
			g.allowedTypes[mediaType] = struct{}{}
		}
	}
	return g
}

// MaxUploadBytes returns the per-file size limit.
func (g *Guard) MaxUploadBytes() int64 { return g.maxBytes }

// MaxFilesPerUser returns the per-owner file limit.
func (g *Guard) MaxFilesPerUser() int { return g.maxFiles }

// CheckUploadAllowed runs the upload checks in order: quota, size, type, name.
// The first failing check determines the error.
func (g *Guard) CheckUploadAllowed(ctx context.Context, req UploadRequest) error {
	if err := g.CheckQuota(ctx, req.OwnerID); err != nil {
		return err
	}

	if req.Size > g.maxBytes {
		return TooLarge(g.maxBytes)
	}

	if !g.typeAllowed(req.Name, g.EffectiveContentType(req.Name, req.ContentType, req.SniffedType)) {
		return apperrors.Validation(apperrors.CodeUnsupportedFileType, "file type is not allowed")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxFilenameLength {
		return apperrors.Validation(apperrors.CodeInvalidFilename, "invalid file name")
	}
	return nil
}

// CheckQuota fails with FILE_LIMIT_EXCEEDED when ownerID already holds the
// maximum number of files.
func (g *Guard) CheckQuota(ctx context.Context, ownerID string) error {
	if g.counter == nil {
		return apperrors.Internal(fmt.Errorf("file counter is not configured"), "guard is not configured")
	}
	count, err := g.counter.CountFilesByOwner(ctx, ownerID)
	if err != nil {
		return apperrors.Internal(err, "count files")
	}
	if count >= g.maxFiles {
		return apperrors.Validation(apperrors.CodeFileLimitExceeded, fmt.Sprintf("file limit of %d reached", g.maxFiles))
	}
	return nil
}

// TooLarge is the error for content exceeding limit bytes.
func TooLarge(limit int64) error {
	return apperrors.Validation(apperrors.CodeFileTooLarge, fmt.Sprintf("file exceeds the %d byte limit", limit))
}

// EffectiveContentType resolves the media type recorded for an upload.
// A declared type wins unless it is empty or generic; then the extension is
// consulted, then the sniffed type.
func (g *Guard) EffectiveContentType(name, declared, sniffed string) string {
	if mediaType := normalizeMediaType(declared); mediaType != "" && mediaType != octetStream {
		return mediaType
	}
	if guessed := typeByExtension(name); guessed != "" {
		return guessed
	}
	if mediaType := normalizeMediaType(sniffed); mediaType != "" {
		return mediaType
	}
	return octetStream
}

func (g *Guard) typeAllowed(name, mediaType string) bool {
	if ext := normalizeExtension(filepath.Ext(strings.TrimSpace(name))); ext != "" {
		if _, ok := g.allowedExts[ext]; ok {
			return true
		}
	}
	if _, ok := g.allowedTypes[mediaType]; ok {
		return true
	}
	return false
}

// CheckComment strips markup from text and enforces the length limit.
// The cleaned comment is returned.
func (g *Guard) CheckComment(text string) (string, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(g.sanitizer.Sanitize(text)))
	if utf8.RuneCountInString(cleaned) > MaxCommentLength {
		return "", apperrors.Validation(apperrors.CodeCommentTooLong, fmt.Sprintf("comment exceeds %d characters", MaxCommentLength))
	}
	return cleaned, nil
}

func normalizeExtension(raw string) string {
	ext := strings.ToLower(strings.TrimSpace(raw))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed)
}

func typeByExtension(name string) string {
	ext := normalizeExtension(filepath.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return ""
	}
	if mediaType, ok := extensionTypes[ext]; ok {
		return mediaType
	}
	return normalizeMediaType(mime.TypeByExtension(ext))
}
