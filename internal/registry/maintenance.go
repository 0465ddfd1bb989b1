package registry

import (
	"context"
	"time"

	"mycloud/internal/apperrors"
)

// PendingSweep reports one pending-reservation sweep.
type PendingSweep struct {
	Candidates int  `json:"candidates" yaml:"candidates"`
	Removed    int  `json:"removed" yaml:"removed"`
	Failed     int  `json:"failed" yaml:"failed"`
	DryRun     bool `json:"dry_run" yaml:"dry_run"`
}

// OrphanSweep reports one orphaned-content collection.
type OrphanSweep struct {
	Scanned    int  `json:"scanned" yaml:"scanned"`
	Candidates int  `json:"candidates" yaml:"candidates"`
	Removed    int  `json:"removed" yaml:"removed"`
	Failed     int  `json:"failed" yaml:"failed"`
	DryRun     bool `json:"dry_run" yaml:"dry_run"`
}

// SweepPending removes reservations older than olderThan together with any
// content they wrote. These are creates interrupted by a crash.
func (r *Registry) SweepPending(ctx context.Context, olderThan time.Duration, dryRun bool) (PendingSweep, error) {
	result := PendingSweep{DryRun: dryRun}
	pending, err := r.files.ListPendingBefore(ctx, r.now().Add(-olderThan))
	if err != nil {
		return result, apperrors.Internal(err, "list pending files")
	}
	result.Candidates = len(pending)
	if dryRun {
		return result, nil
	}

	for _, record := range pending {
		if err := r.content.Delete(ctx, record.StoredKey); err != nil {
			result.Failed++
			r.log().Error("sweep pending content failed", "file_id", record.ID, "stored_key", record.StoredKey, "err", err)
			continue
		}
		if _, err := r.files.DeletePendingFile(ctx, record.ID); err != nil {
			result.Failed++
			r.log().Error("sweep pending row failed", "file_id", record.ID, "err", err)
			continue
		}
		result.Removed++
	}
	if result.Candidates > 0 {
		r.log().Info("pending files swept", "candidates", result.Candidates, "removed", result.Removed, "failed", result.Failed)
	}
	return result, nil
}

// CollectOrphans removes content that no file row references.
func (r *Registry) CollectOrphans(ctx context.Context, dryRun bool) (OrphanSweep, error) {
	result := OrphanSweep{DryRun: dryRun}
	orphans := make([]string, 0)
	err := r.content.Walk(ctx, func(key string) error {
		result.Scanned++
		inUse, err := r.files.StoredKeyInUse(ctx, key)
		if err != nil {
			return err
		}
		if !inUse {
			orphans = append(orphans, key)
		}
		return nil
	})
	if err != nil {
		return result, asIOError(err, "scan content")
	}
	result.Candidates = len(orphans)
	if dryRun {
		return result, nil
	}

	for _, key := range orphans {
		if r.deleteContent(ctx, key, "reason", "orphan") {
			result.Removed++
		} else {
			result.Failed++
		}
	}
	if result.Candidates > 0 {
		r.log().Info("orphaned content collected", "candidates", result.Candidates, "removed", result.Removed, "failed", result.Failed)
	}
	return result, nil
}
