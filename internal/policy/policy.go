// Package policy decides who may act on files and accounts. Every function is
// pure: decisions depend only on the principal and the target passed in.
package policy

import (
	"errors"
	"fmt"

	"mycloud/internal/models"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnknownAction    = errors.New("unknown account action")
)

// Operation is an action on a single file.
type Operation string

const (
	OpRead     Operation = "read"
	OpRename   Operation = "rename"
	OpComment  Operation = "comment"
	OpDelete   Operation = "delete"
	OpDownload Operation = "download"
)

func (op Operation) valid() bool {
	switch op {
	case OpRead, OpRename, OpComment, OpDelete, OpDownload:
		return true
	}
	return false
}

// CanAccess reports whether principal may perform op on file. Owners and
// administrators are allowed; anonymous and inactive principals never are.
func CanAccess(principal models.Principal, file models.FileRecord, op Operation) (bool, error) {
	if !op.valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if principal.Anonymous() || !principal.IsActive {
		return false, nil
	}
	if principal.Role.IsAdmin() {
		return true, nil
	}
	return file.OwnerID != "" && file.OwnerID == principal.ID, nil
}

// CanAdminister reports whether principal may use account administration.
func CanAdminister(principal models.Principal) bool {
	return !principal.Anonymous() && principal.IsActive && principal.Role.IsAdmin()
}

// AccountAction is an administrative change to another account.
type AccountAction string

const (
	ActionChangeRole AccountAction = "changeRole"
	ActionDeactivate AccountAction = "deactivate"
	ActionActivate   AccountAction = "activate"
	ActionDelete     AccountAction = "delete"
)

func (a AccountAction) valid() bool {
	switch a {
	case ActionChangeRole, ActionDeactivate, ActionActivate, ActionDelete:
		return true
	}
	return false
}

// Denial explains why an account action was refused.
type Denial int

const (
	DenialNone Denial = iota
	// DenialSelf: the actor targeted their own account.
	DenialSelf
	// DenialInsufficient: the actor's role is too low for the target.
	DenialInsufficient
)

func (d Denial) String() string {
	switch d {
	case DenialNone:
		return "none"
	case DenialSelf:
		return "self"
	case DenialInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// EvaluateAccountAction decides whether actor may apply action to target.
func EvaluateAccountAction(actor, target models.Principal, action AccountAction) (Denial, error) {
	if !action.valid() {
		return DenialInsufficient, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !CanAdminister(actor) {
		return DenialInsufficient, nil
	}
	if actor.ID == target.ID {
		return DenialSelf, nil
	}
	if target.Role == models.RoleSuperAdmin && actor.Role != models.RoleSuperAdmin {
		return DenialInsufficient, nil
	}
	return DenialNone, nil
}

// CanModifyAccount is EvaluateAccountAction reduced to allow/deny.
func CanModifyAccount(actor, target models.Principal, action AccountAction) (bool, error) {
	denial, err := EvaluateAccountAction(actor, target, action)
	if err != nil {
		return false, err
	}
	return denial == DenialNone, nil
}

// CanGrantRole reports whether actor may assign role to someone else.
// Only a superadmin can create another superadmin.
func CanGrantRole(actor models.Principal, role models.Role) bool {
	if !role.Valid() || !CanAdminister(actor) {
		return false
	}
	return role.Weight() <= actor.Role.Weight()
}
