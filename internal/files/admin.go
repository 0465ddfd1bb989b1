package files

import (
	"context"
	"strings"

	"mycloud/internal/apperrors"
	"mycloud/internal/models"
	"mycloud/internal/policy"
	"mycloud/internal/registry"
	"mycloud/internal/store"
)

// AccountChange is an administrative update. Nil fields are left unchanged.
type AccountChange struct {
	Role     *models.Role
	IsActive *bool
}

// MaintenanceReport summarizes one sweep of interrupted uploads and orphaned content.
type MaintenanceReport struct {
	Pending registry.PendingSweep `json:"pending" yaml:"pending"`
	Orphans registry.OrphanSweep  `json:"orphans" yaml:"orphans"`
}

// ListAccounts returns every account matching filter with its usage totals.
func (s *Service) ListAccounts(ctx context.Context, principal models.Principal, filter models.AccountFilter, order models.AccountOrder) ([]models.AccountUsage, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	return s.usage.AdminList(ctx, filter, order)
}

// ListFilesForAccount returns the files owned by another account.
func (s *Service) ListFilesForAccount(ctx context.Context, principal models.Principal, accountID string, order models.FileOrder) ([]models.FileRecord, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if _, err := s.loadAccount(ctx, strings.TrimSpace(accountID)); err != nil {
		return nil, err
	}
	return s.registry.ListByOwner(ctx, strings.TrimSpace(accountID), order)
}

// UpdateAccount changes another account's role or active flag. The names of
// the changed fields are returned.
func (s *Service) UpdateAccount(ctx context.Context, principal models.Principal, accountID string, change AccountChange) (*models.Account, []string, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, nil, err
	}
	if change.Role == nil && change.IsActive == nil {
		return nil, nil, apperrors.Validation(apperrors.CodeInvalidArgument, "role or is_active is required")
	}
	if change.Role != nil && !change.Role.Valid() {
		return nil, nil, apperrors.Validation(apperrors.CodeInvalidArgument, "invalid role")
	}
	target, err := s.loadAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		return nil, nil, err
	}

	fields := make([]string, 0, 2)
	update := store.AccountUpdate{}
	if change.Role != nil {
		if err := checkAccountAction(principal, target, policy.ActionChangeRole); err != nil {
			return nil, nil, err
		}
		if !policy.CanGrantRole(principal, *change.Role) {
			return nil, nil, apperrors.Forbidden(apperrors.CodeInsufficientPermissions, "cannot grant this role")
		}
		update.Role = change.Role
		fields = append(fields, "role")
	}
	if change.IsActive != nil {
		action := policy.ActionDeactivate
		if *change.IsActive {
			action = policy.ActionActivate
		}
		if err := checkAccountAction(principal, target, action); err != nil {
			return nil, nil, err
		}
		update.IsActive = change.IsActive
		fields = append(fields, "is_active")
	}

	updated, err := s.accounts.UpdateAccount(ctx, target.ID, update, nowUTC())
	if err != nil {
		return nil, nil, apperrors.Internal(err, "update account")
	}
	if updated == nil {
		return nil, nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	s.log().Info("account updated", "account_id", updated.ID, "actor_id", principal.ID, "fields", fields)
	return updated, fields, nil
}

// DeleteAccount removes another account, its files, and their content. The
// number of deleted files is returned.
func (s *Service) DeleteAccount(ctx context.Context, principal models.Principal, accountID string) (int, error) {
	if err := requireAdmin(principal); err != nil {
		return 0, err
	}
	target, err := s.loadAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		return 0, err
	}
	if err := checkAccountAction(principal, target, policy.ActionDelete); err != nil {
		return 0, err
	}

	keys, found, err := s.accounts.DeleteAccount(ctx, target.ID)
	if err != nil {
		return 0, apperrors.Internal(err, "delete account")
	}
	if !found {
		return 0, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	purged := s.registry.PurgeOwner(context.WithoutCancel(ctx), keys)
	s.usage.Invalidate(ctx, target.ID)
	s.log().Info("account deleted", "account_id", target.ID, "actor_id", principal.ID, "files", len(keys), "content_purged", purged)
	return len(keys), nil
}

// Maintenance sweeps interrupted uploads and then orphaned content.
func (s *Service) Maintenance(ctx context.Context, principal models.Principal, dryRun bool) (MaintenanceReport, error) {
	var report MaintenanceReport
	if err := requireAdmin(principal); err != nil {
		return report, err
	}
	pending, err := s.registry.SweepPending(ctx, s.pendingTTL, dryRun)
	if err != nil {
		return report, err
	}
	report.Pending = pending
	orphans, err := s.registry.CollectOrphans(ctx, dryRun)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans
	return report, nil
}

func checkAccountAction(actor models.Principal, target *models.Account, action policy.AccountAction) error {
	denial, err := policy.EvaluateAccountAction(actor, target.Principal(), action)
	if err != nil {
		return apperrors.Internal(err, "check account action")
	}
	switch denial {
	case policy.DenialNone:
		return nil
	case policy.DenialSelf:
		if action == policy.ActionDelete {
			return apperrors.Forbidden(apperrors.CodeSelfDeleteDenied, "cannot delete your own account")
		}
		return apperrors.Forbidden(apperrors.CodeSelfModificationDenied, "cannot modify your own account")
	default:
		return apperrors.Forbidden(apperrors.CodeInsufficientPermissions, "insufficient permissions")
	}
}

func requireAdmin(principal models.Principal) error {
	if err := requireActive(principal); err != nil {
		return err
	}
	if !policy.CanAdminister(principal) {
		return apperrors.Forbidden(apperrors.CodeInsufficientPermissions, "administrator role required")
	}
	return nil
}
