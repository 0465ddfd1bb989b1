package models

import (
	"fmt"
	"strings"
	"time"
)

// Role defines the privilege tier of an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleWeights = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleWeights[r]
	return ok
}

// Weight orders roles by privilege. Unknown roles weigh zero.
func (r Role) Weight() int {
	return roleWeights[r]
}

// IsAdmin reports whether r carries administrative rights.
func (r Role) IsAdmin() bool {
	return r.Weight() >= roleWeights[RoleAdmin]
}

func ParseRole(raw string) (Role, error) {
	value := Role(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("role is required")
	}
	if !value.Valid() {
		return "", fmt.Errorf("invalid role: %s", value)
	}
	return value, nil
}

// Account is a registered user of the storage service.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal returns the request identity for the account.
func (a *Account) Principal() Principal {
	if a == nil {
		return Principal{}
	}
	return Principal{ID: a.ID, Role: a.Role, IsActive: a.IsActive}
}

// Principal is the authenticated identity making a request.
// The zero value is anonymous.
type Principal struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

func (p Principal) Anonymous() bool {
	return strings.TrimSpace(p.ID) == ""
}

// SystemPrincipal is used by local operator commands that bypass HTTP auth.
var SystemPrincipal = Principal{ID: "system", Role: RoleSuperAdmin, IsActive: true}

// AccountUsage is an account together with its aggregate storage usage.
type AccountUsage struct {
	Account
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// UsageStats summarizes the files owned by one account.
type UsageStats struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// AccountFilter narrows admin account listings.
type AccountFilter struct {
	Search string
	Role   Role
	Active *bool
}

// AccountOrderField is a sortable column of the admin account listing.
type AccountOrderField string

const (
	AccountOrderUsername   AccountOrderField = "username"
	AccountOrderCreatedAt  AccountOrderField = "created_at"
	AccountOrderFileCount  AccountOrderField = "file_count"
	AccountOrderTotalBytes AccountOrderField = "total_bytes"
)

// AccountOrder is a parsed ordering such as "-total_bytes".
type AccountOrder struct {
	Field AccountOrderField
	Desc  bool
}

var DefaultAccountOrder = AccountOrder{Field: AccountOrderUsername}

func ParseAccountOrder(raw string) (AccountOrder, error) {
	field, desc := splitOrder(raw)
	if field == "" {
		return DefaultAccountOrder, nil
	}
	switch AccountOrderField(field) {
	case AccountOrderUsername, AccountOrderCreatedAt, AccountOrderFileCount, AccountOrderTotalBytes:
		return AccountOrder{Field: AccountOrderField(field), Desc: desc}, nil
	default:
		return AccountOrder{}, fmt.Errorf("invalid ordering: %s", raw)
	}
}

func splitOrder(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(value, "-") {
		return strings.TrimSpace(value[1:]), true
	}
	return value, false
}
