package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountRepository persists local identity accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByUID(ctx context.Context, uid string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteAccountRepository implements AccountRepository on the accounts table.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const accountColumns = "uid, email, password_hash, role, disabled, created_at, updated_at"

// Create inserts a new account, generating the UID when empty.
// Emails are compared case-insensitively.
func (r *SQLiteAccountRepository) Create(ctx context.Context, account *Account) error {
	if account.UID == "" {
		account.UID = strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
	}
	if account.Role == "" {
		account.Role = RoleUser
	}

	now := time.Now().UTC().Truncate(time.Second)
	account.CreatedAt = now
	account.UpdatedAt = now
	stamp := now.Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.UID, account.Email, account.PasswordHash, string(account.Role),
		boolToInt(account.Disabled), stamp, stamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetByUID retrieves an account by UID.
func (r *SQLiteAccountRepository) GetByUID(ctx context.Context, uid string) (*Account, error) {
	return r.get(ctx, "SELECT "+accountColumns+" FROM accounts WHERE uid = ?", uid)
}

// GetByEmail retrieves an account by email, ignoring case.
func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.get(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
}

// Count returns the number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return n, nil
}

func (r *SQLiteAccountRepository) get(ctx context.Context, query string, args ...any) (*Account, error) {
	var a Account
	var role string
	var disabled int
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&a.UID, &a.Email, &a.PasswordHash, &role, &disabled, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.Role = Role(role)
	a.Disabled = disabled != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
