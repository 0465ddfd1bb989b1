package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mycloud/internal/models"
)

const fileColumns = "id, owner_id, original_name, stored_key, size_bytes, content_type, mime_category, comment, public_link, state, uploaded_at, last_download_at, download_count"

// InsertPendingFile records a reservation for a new file. The storage key and
// public link are written to the lifetime ledger in the same transaction, and
// the insert is skipped when the owner already holds maxFiles rows.
// maxFiles <= 0 disables the limit.
func (s *Store) InsertPendingFile(ctx context.Context, file *models.FileRecord, maxFiles int) (err error) {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	if file.ID == "" || file.OwnerID == "" || file.StoredKey == "" || file.PublicLink == "" {
		return fmt.Errorf("file id, owner, stored key, and public link are required")
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	file.State = models.FileStatePending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO file_keys (stored_key, public_link, issued_at)
		VALUES (?, ?, ?)
	`, file.StoredKey, file.PublicLink, dbFormatTime(file.UploadedAt)); err != nil {
		if isUniqueConstraint(err) {
			err = ErrKeyIssued
		}
		return err
	}

	limit := maxFiles
	if limit <= 0 {
		limit = -1
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		SELECT ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, NULL, 0
		WHERE ? < 0 OR (SELECT COUNT(*) FROM files WHERE owner_id = ?) < ?
	`,
		file.ID,
		file.OwnerID,
		file.OriginalName,
		file.StoredKey,
		file.ContentType,
		string(file.MimeCategory),
		file.Comment,
		file.PublicLink,
		string(models.FileStatePending),
		dbFormatTime(file.UploadedAt),
		limit,
		file.OwnerID,
		limit,
	)
	if err != nil {
		switch {
		case isForeignKeyConstraint(err):
			err = ErrOwnerNotFound
		case isUniqueConstraint(err):
			err = ErrKeyIssued
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrQuotaExceeded
		return err
	}

	return tx.Commit()
}

// ActivateFile makes a pending file visible with its final size.
func (s *Store) ActivateFile(ctx context.Context, id string, sizeBytes int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE files SET state = ?, size_bytes = ?
		WHERE id = ? AND state = ?
	`, string(models.FileStateActive), sizeBytes, id, string(models.FileStatePending))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("pending file %s not found", id)
	}
	return nil
}

// DeletePendingFile removes a reservation row. Active rows are never touched.
func (s *Store) DeletePendingFile(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ? AND state = ?`, id, string(models.FileStatePending))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetFile returns one visible file, or nil if absent.
func (s *Store) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ? AND state = ?`, id, string(models.FileStateActive))
	return scanFile(row)
}

// GetFileByPublicLink returns the visible file shared under link, or nil if absent.
func (s *Store) GetFileByPublicLink(ctx context.Context, link string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE public_link = ? AND state = ?`, link, string(models.FileStateActive))
	return scanFile(row)
}

// RenameFile updates original_name only.
func (s *Store) RenameFile(ctx context.Context, id, name string) (bool, error) {
	return s.execActiveUpdate(ctx, `UPDATE files SET original_name = ? WHERE id = ? AND state = ?`, name, id, string(models.FileStateActive))
}

// UpdateFileComment updates comment only.
func (s *Store) UpdateFileComment(ctx context.Context, id, comment string) (bool, error) {
	return s.execActiveUpdate(ctx, `UPDATE files SET comment = ? WHERE id = ? AND state = ?`, comment, id, string(models.FileStateActive))
}

// TouchFileDownload stamps last_download_at and increments download_count.
func (s *Store) TouchFileDownload(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.execActiveUpdate(ctx, `
		UPDATE files SET last_download_at = ?, download_count = download_count + 1
		WHERE id = ? AND state = ?
	`, dbFormatTime(now), id, string(models.FileStateActive))
}

// DeleteFile removes one visible file row and returns its storage key.
// found is false when no visible row matched, including a lost delete race.
func (s *Store) DeleteFile(ctx context.Context, id string) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM files WHERE id = ? AND state = ?
		RETURNING stored_key
	`, id, string(models.FileStateActive)).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// ListFilesByOwner returns the owner's visible files in the requested order.
func (s *Store) ListFilesByOwner(ctx context.Context, ownerID string, order models.FileOrder) ([]models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = ? AND state = ?
		ORDER BY `+fileOrderClause(order),
		ownerID, string(models.FileStateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]models.FileRecord, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		if file != nil {
			files = append(files, *file)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// CountFilesByOwner counts all rows for the owner, reservations included.
func (s *Store) CountFilesByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE owner_id = ?`, ownerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// OwnerUsage sums the visible files of one owner.
func (s *Store) OwnerUsage(ctx context.Context, ownerID string) (models.UsageStats, error) {
	var stats models.UsageStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM files
		WHERE owner_id = ? AND state = ?
	`, ownerID, string(models.FileStateActive)).Scan(&stats.FileCount, &stats.TotalBytes)
	if err != nil {
		return models.UsageStats{}, err
	}
	return stats, nil
}

// ListPendingBefore returns reservations created before cutoff.
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE state = ? AND uploaded_at < ?
		ORDER BY uploaded_at ASC
	`, string(models.FileStatePending), dbFormatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]models.FileRecord, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		if file != nil {
			files = append(files, *file)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// StoredKeyInUse reports whether any file row, pending or active, references key.
func (s *Store) StoredKeyInUse(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM files WHERE stored_key = ? LIMIT 1`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) execActiveUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func fileOrderClause(order models.FileOrder) string {
	column := "uploaded_at"
	switch order.Field {
	case models.FileOrderName:
		column = "original_name COLLATE NOCASE"
	case models.FileOrderSize:
		column = "size_bytes"
	case models.FileOrderDownloadCount:
		column = "download_count"
	case models.FileOrderLastDownload:
		column = "last_download_at"
	}
	direction := "ASC"
	if order.Desc {
		direction = "DESC"
	}
	return column + " " + direction + ", id ASC"
}

func scanFile(scanner interface {
	Scan(dest ...any) error
}) (*models.FileRecord, error) {
	var file models.FileRecord
	var category, state, uploadedAt string
	var lastDownload sql.NullString
	if err := scanner.Scan(
		&file.ID,
		&file.OwnerID,
		&file.OriginalName,
		&file.StoredKey,
		&file.SizeBytes,
		&file.ContentType,
		&category,
		&file.Comment,
		&file.PublicLink,
		&state,
		&uploadedAt,
		&lastDownload,
		&file.DownloadCount,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	file.MimeCategory = models.MimeCategory(category)
	file.State = models.FileState(state)

	parsed, err := dbParseTime(uploadedAt)
	if err != nil {
		return nil, err
	}
	file.UploadedAt = parsed
	file.LastDownloadAt, err = dbParseNullTime(lastDownload)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
