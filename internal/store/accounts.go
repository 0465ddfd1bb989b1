package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mycloud/internal/models"
)

const accountColumns = "id, username, email, password_hash, role, is_active, created_at, updated_at"

// CreateAccount inserts one account. ID and timestamps are filled when empty.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if account == nil {
		return fmt.Errorf("account is required")
	}
	account.Username = normalizeUsername(account.Username)
	if account.Username == "" {
		return fmt.Errorf("username is required")
	}
	if strings.TrimSpace(account.PasswordHash) == "" {
		return fmt.Errorf("password hash is required")
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	if !account.Role.Valid() {
		return fmt.Errorf("invalid role: %s", account.Role)
	}
	if account.ID == "" {
		id, err := generateAccountID()
		if err != nil {
			return err
		}
		account.ID = id
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		account.ID,
		account.Username,
		strings.TrimSpace(account.Email),
		account.PasswordHash,
		string(account.Role),
		boolToInt(account.IsActive),
		dbFormatTime(account.CreatedAt),
		dbFormatTime(account.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.username") {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// GetAccount returns one account by id, or nil if absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	return scanAccount(row)
}

// GetAccountByUsername returns one account by normalized username, or nil if absent.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM users WHERE username = ? LIMIT 1`, username)
	return scanAccount(row)
}

// UpdateAccount applies the non-nil fields of update and returns the stored
// account, or nil if the account does not exist.
func (s *Store) UpdateAccount(ctx context.Context, id string, update AccountUpdate, now time.Time) (*models.Account, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if update.Role != nil {
		if !update.Role.Valid() {
			return nil, fmt.Errorf("invalid role: %s", *update.Role)
		}
		sets = append(sets, "role = ?")
		args = append(args, string(*update.Role))
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*update.IsActive))
	}
	if update.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *update.PasswordHash)
	}
	if len(sets) == 0 {
		return s.GetAccount(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, dbFormatTime(now), id)

	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetAccount(ctx, id)
}

// DeleteAccount deletes one account; its files cascade. The storage keys of
// the removed files are returned so their content can be purged.
func (s *Store) DeleteAccount(ctx context.Context, id string) (keys []string, found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT stored_key FROM files WHERE owner_id = ?`, id)
	if err != nil {
		return nil, false, err
	}
	keys = make([]string, 0)
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, false, err
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, false, err
	}
	_ = rows.Close()

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return nil, false, nil
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return keys, true, nil
}

// ListAccountUsage aggregates visible file counts and sizes per account.
func (s *Store) ListAccountUsage(ctx context.Context, filter models.AccountFilter, order models.AccountOrder) ([]models.AccountUsage, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		where = append(where, `(u.username LIKE ? ESCAPE '\' OR LOWER(u.email) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if filter.Role != "" {
		where = append(where, "u.role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Active != nil {
		where = append(where, "u.is_active = ?")
		args = append(args, boolToInt(*filter.Active))
	}

	query := `
		SELECT u.id, u.username, u.email, u.password_hash, u.role, u.is_active, u.created_at, u.updated_at,
		       COUNT(f.id), COALESCE(SUM(f.size_bytes), 0)
		FROM users u
		LEFT JOIN files f ON f.owner_id = u.id AND f.state = 'active'`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tGROUP BY u.id\n\t\tORDER BY " + accountOrderClause(order)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.AccountUsage, 0)
	for rows.Next() {
		var usage models.AccountUsage
		var role, createdAt, updatedAt string
		var active int
		if err := rows.Scan(
			&usage.ID,
			&usage.Username,
			&usage.Email,
			&usage.PasswordHash,
			&role,
			&active,
			&createdAt,
			&updatedAt,
			&usage.FileCount,
			&usage.TotalBytes,
		); err != nil {
			return nil, err
		}
		if err := fillAccount(&usage.Account, role, active, createdAt, updatedAt); err != nil {
			return nil, err
		}
		out = append(out, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountAccounts returns the number of accounts.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func accountOrderClause(order models.AccountOrder) string {
	column := "u.username"
	switch order.Field {
	case models.AccountOrderCreatedAt:
		column = "u.created_at"
	case models.AccountOrderFileCount:
		column = "COUNT(f.id)"
	case models.AccountOrderTotalBytes:
		column = "COALESCE(SUM(f.size_bytes), 0)"
	}
	direction := "ASC"
	if order.Desc {
		direction = "DESC"
	}
	return column + " " + direction + ", u.username ASC"
}

func scanAccount(scanner interface {
	Scan(dest ...any) error
}) (*models.Account, error) {
	var account models.Account
	var role, createdAt, updatedAt string
	var active int
	if err := scanner.Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash, &role, &active, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := fillAccount(&account, role, active, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &account, nil
}

func fillAccount(account *models.Account, role string, active int, createdAt, updatedAt string) error {
	account.Role = models.Role(role)
	account.IsActive = active != 0
	parsedCreated, err := dbParseTime(createdAt)
	if err != nil {
		return err
	}
	parsedUpdated, err := dbParseTime(updatedAt)
	if err != nil {
		return err
	}
	account.CreatedAt = parsedCreated
	account.UpdatedAt = parsedUpdated
	return nil
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
