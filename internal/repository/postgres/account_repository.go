package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"carte-api/internal/dbx"
	"carte-api/internal/domain"
	"carte-api/internal/repository"
)

const selectAccount = `
SELECT id, username, email, password_hash, first_name, last_name, role, enabled, locked, failed_attempts, locked_at, created_at, updated_at
FROM accounts`

const uniqueViolation = "23505"

type AccountRepository struct {
	db   *sql.DB
	conn dbx.DBTX
	// lock is appended to single-row reads made inside Atomically.
	lock string
}

func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &AccountRepository{db: db, conn: db}
}

func (r *AccountRepository) Init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("init inside a transaction")
	}
	return Migrate(ctx, r.db)
}

func (r *AccountRepository) Atomically(ctx context.Context, fn func(repo repository.AccountRepository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&AccountRepository{conn: tx, lock: " FOR UPDATE"})
	})
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) (int64, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	err := r.conn.QueryRowContext(ctx, `
INSERT INTO accounts (username, email, password_hash, first_name, last_name, role, enabled, locked, failed_attempts, locked_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.Locked,
		account.FailedAttempts,
		account.LockedAt,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert account: %w", repository.ErrConflict)
		}
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return account.ID, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()

	res, err := r.conn.ExecContext(ctx, `
UPDATE accounts
SET email = $1, password_hash = $2, first_name = $3, last_name = $4, role = $5, enabled = $6,
	locked = $7, failed_attempts = $8, locked_at = $9, updated_at = $10
WHERE id = $11`,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.Locked,
		account.FailedAttempts,
		account.LockedAt,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update account %d: %w", account.ID, repository.ErrConflict)
		}
		return fmt.Errorf("update account %d: %w", account.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("account %d rows affected: %w", account.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", account.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(r.conn.QueryRowContext(ctx, selectAccount+` WHERE id = $1`+r.lock, id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return scanAccount(r.conn.QueryRowContext(ctx, selectAccount+` WHERE username = $1`+r.lock, username))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.conn.QueryRowContext(ctx, selectAccount+` WHERE email = $1`+r.lock, email))
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, username)
}

func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email)
}

func (r *AccountRepository) exists(ctx context.Context, query, arg string) (bool, error) {
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
	res, err := r.conn.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
