package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"carte-api/internal/dbx"
	"carte-api/internal/domain"
	"carte-api/internal/repository"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'USER',
	enabled INTEGER NOT NULL DEFAULT 1,
	locked INTEGER NOT NULL DEFAULT 0,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	locked_at DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const selectAccount = `
SELECT id, username, email, password_hash, first_name, last_name, role, enabled, locked, failed_attempts, locked_at, created_at, updated_at
FROM accounts`

type AccountRepository struct {
	db   *sql.DB
	conn dbx.DBTX
}

func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &AccountRepository{db: db, conn: db}
}

func (r *AccountRepository) Init(ctx context.Context) error {
	if _, err := r.conn.ExecContext(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func (r *AccountRepository) Atomically(ctx context.Context, fn func(repo repository.AccountRepository) error) error {
	if r.db == nil {
		// already inside a transaction
		return fn(r)
	}
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&AccountRepository{conn: tx})
	})
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) (int64, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	res, err := r.conn.ExecContext(ctx, `
INSERT INTO accounts (username, email, password_hash, first_name, last_name, role, enabled, locked, failed_attempts, locked_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.Locked,
		account.FailedAttempts,
		nullTime(account.LockedAt),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert account: %w", repository.ErrConflict)
		}
		return 0, fmt.Errorf("insert account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account last insert id: %w", err)
	}
	account.ID = id
	return id, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()

	res, err := r.conn.ExecContext(ctx, `
UPDATE accounts
SET email = ?, password_hash = ?, first_name = ?, last_name = ?, role = ?, enabled = ?,
	locked = ?, failed_attempts = ?, locked_at = ?, updated_at = ?
WHERE id = ?`,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.Locked,
		account.FailedAttempts,
		nullTime(account.LockedAt),
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update account %d: %w", account.ID, repository.ErrConflict)
		}
		return fmt.Errorf("update account %d: %w", account.ID, err)
	}
	return expectOneRow(res, account.ID)
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	row := r.conn.QueryRowContext(ctx, selectAccount+` WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	row := r.conn.QueryRowContext(ctx, selectAccount+` WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.conn.QueryRowContext(ctx, selectAccount+` WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = ?)`, username)
}

func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = ?)`, email)
}

func (r *AccountRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var found bool
	if err := r.conn.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return found, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.conn.QueryContext(ctx, selectAccount+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("account %d rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func scanAccount(row interface {
	Scan(dest ...any) error
}) (*domain.Account, error) {
	var (
		account  domain.Account
		role     string
		lockedAt sql.NullTime
	)
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&role,
		&account.Enabled,
		&account.Locked,
		&account.FailedAttempts,
		&lockedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account.Role = domain.Role(role)
	if lockedAt.Valid {
		t := lockedAt.Time
		account.LockedAt = &t
	}
	return &account, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
