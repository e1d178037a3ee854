package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carte-api/internal/domain"
	"carte-api/internal/repository"
)

var accountColumns = []string{
	"id", "username", "email", "password_hash", "first_name", "last_name", "role",
	"enabled", "locked", "failed_attempts", "locked_at", "created_at", "updated_at",
}

func newRepoWithMock(t *testing.T) (repository.AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAccountRepository(db), mock
}

func TestCreate_ReturnsID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT INTO accounts .* RETURNING id`).
		WithArgs("ada", "ada@example.com", "hash", "Ada", "Lovelace", "USER", true, false, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	acc := &domain.Account{
		Username: "ada", Email: "ada@example.com", PasswordHash: "hash",
		FirstName: "Ada", LastName: "Lovelace", Role: domain.RoleUser, Enabled: true,
	}
	id, err := repo.Create(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(7), acc.ID)
	assert.False(t, acc.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT INTO accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	_, err := repo.Create(context.Background(), &domain.Account{Username: "ada"})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestGetByUsername_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts WHERE username = \$1$`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(int64(1), "ada", "ada@example.com", "hash", "Ada", "Lovelace", "ADMIN",
				true, true, 3, now, now, now))

	acc, err := repo.GetByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, acc.Role)
	assert.True(t, acc.Locked)
	assert.Equal(t, 3, acc.FailedAttempts)
	require.NotNil(t, acc.LockedAt)
	assert.True(t, acc.LockedAt.Equal(now))
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAtomically_LocksRowsAndCommits(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .* FROM accounts WHERE username = \$1 FOR UPDATE`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(int64(1), "ada", "ada@example.com", "hash", "", "", "USER",
				true, false, 1, nil, now, now))
	mock.ExpectExec(`(?s)UPDATE accounts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Atomically(context.Background(), func(tx repository.AccountRepository) error {
		acc, err := tx.GetByUsername(context.Background(), "ada")
		if err != nil {
			return err
		}
		acc.RecordFailure(now, 3)
		return tx.Save(context.Background(), acc)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomically_RollsBackOnStoreFault(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .* FOR UPDATE`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Atomically(context.Background(), func(tx repository.AccountRepository) error {
		_, err := tx.GetByUsername(context.Background(), "ada")
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)UPDATE accounts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), &domain.Account{ID: 5})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM accounts WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM accounts WHERE email = \$1\)`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.ExistsByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMigrate_UsesEmbeddedMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("bad migration")
	}
	err = Migrate(context.Background(), db)
	assert.ErrorContains(t, err, "bad migration")
}
