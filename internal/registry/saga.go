package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"mycloud/internal/apperrors"
	"mycloud/internal/contentstore"
	"mycloud/internal/guard"
	"mycloud/internal/models"
	"mycloud/internal/store"
)

const abortTimeout = 30 * time.Second

type reservationState int

const (
	reservationOpen reservationState = iota
	reservationCommitted
	reservationAborted
)

// Reservation is an open create. The pending row holds the quota slot and the
// storage key until Commit or Abort.
type Reservation struct {
	reg *Registry

	mu      sync.Mutex
	record  models.FileRecord
	state   reservationState
	written bool
}

// Record returns a copy of the reserved metadata.
func (res *Reservation) Record() models.FileRecord {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.record
}

// BeginCreate allocates identifiers and inserts a pending row. The insert
// fails when the owner is already at the file limit.
func (r *Registry) BeginCreate(ctx context.Context, in CreateInput) (*Reservation, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "owner is required")
	}
	name := strings.TrimSpace(in.OriginalName)
	if name == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidFilename, "invalid file name")
	}
	category := in.MimeCategory
	if category == "" {
		category = guard.MimeCategory(name, in.ContentType)
	}

	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := contentstore.NewKey(owner, name)
		if err != nil {
			return nil, apperrors.Internal(err, "generate storage key")
		}
		record := models.FileRecord{
			ID:           store.NewFileID(),
			OwnerID:      owner,
			OriginalName: name,
			StoredKey:    key,
			ContentType:  in.ContentType,
			MimeCategory: category,
			Comment:      in.Comment,
			PublicLink:   store.NewPublicLink(),
			UploadedAt:   r.now(),
		}
		err = r.files.InsertPendingFile(ctx, &record, r.maxFiles)
		switch {
		case err == nil:
			return &Reservation{reg: r, record: record}, nil
		case errors.Is(err, store.ErrKeyIssued):
			lastErr = err
			r.log().Warn("storage key collision, retrying", "owner_id", owner, "attempt", attempt+1)
			continue
		case errors.Is(err, store.ErrQuotaExceeded):
			return nil, apperrors.Validation(apperrors.CodeFileLimitExceeded, fmt.Sprintf("file limit of %d reached", r.maxFiles))
		case errors.Is(err, store.ErrOwnerNotFound):
			return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "owner not found")
		default:
			return nil, apperrors.Internal(err, "reserve file")
		}
	}
	return nil, apperrors.Internal(lastErr, "allocate unique storage key")
}

// Write streams the content into the content store. Content larger than the
// upload limit fails with FILE_TOO_LARGE.
func (res *Reservation) Write(ctx context.Context, content io.Reader) error {
	if content == nil {
		return apperrors.Validation(apperrors.CodeMissingFile, "file content is required")
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.state != reservationOpen {
		return apperrors.Internal(fmt.Errorf("reservation %s is closed", res.record.ID), "write content")
	}
	if res.written {
		return apperrors.Internal(fmt.Errorf("reservation %s already has content", res.record.ID), "write content")
	}

	limited := &limitedReader{r: content, limit: res.reg.maxBytes}
	n, err := res.reg.content.Put(ctx, res.record.StoredKey, limited)
	if err != nil {
		if errors.Is(err, contentstore.ErrKeyCollision) {
			return apperrors.Internal(err, "storage key already occupied")
		}
		return asIOError(err, "write content")
	}
	res.written = true
	res.record.SizeBytes = n
	return nil
}

// Commit makes the reserved file visible. If activation fails the
// reservation is rolled back.
func (r *Registry) Commit(ctx context.Context, res *Reservation) (*models.FileRecord, error) {
	if res == nil {
		return nil, apperrors.Internal(fmt.Errorf("nil reservation"), "commit file")
	}
	res.mu.Lock()
	if res.state != reservationOpen || !res.written {
		res.mu.Unlock()
		return nil, apperrors.Internal(fmt.Errorf("reservation %s is not ready to commit", res.record.ID), "commit file")
	}
	record := res.record
	res.mu.Unlock()

	if err := r.files.ActivateFile(ctx, record.ID, record.SizeBytes); err != nil {
		r.abortDetached(res)
		return nil, apperrors.Internal(err, "activate file")
	}

	res.mu.Lock()
	res.state = reservationCommitted
	res.record.State = models.FileStateActive
	record = res.record
	res.mu.Unlock()
	return &record, nil
}

// Abort discards a reservation: content first, then the pending row. If the
// content cannot be removed the row is kept so a later sweep retries.
// Aborting twice is a no-op.
func (r *Registry) Abort(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	switch res.state {
	case reservationAborted:
		return nil
	case reservationCommitted:
		return apperrors.Internal(fmt.Errorf("reservation %s already committed", res.record.ID), "abort file")
	}

	if res.written {
		if err := r.content.Delete(ctx, res.record.StoredKey); err != nil {
			return asIOError(err, "discard content")
		}
		res.written = false
	}
	if _, err := r.files.DeletePendingFile(ctx, res.record.ID); err != nil {
		return apperrors.Internal(err, "discard reservation")
	}
	res.state = reservationAborted
	return nil
}

// abortDetached rolls back with a fresh context so a cancelled request
// cannot leave a half-created file behind.
func (r *Registry) abortDetached(res *Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := r.Abort(ctx, res); err != nil {
		record := res.Record()
		r.log().Error("abort reservation failed", "file_id", record.ID, "stored_key", record.StoredKey, "err", err)
	}
}

type limitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return 0, guard.TooLarge(l.limit)
	}
	return n, err
}
