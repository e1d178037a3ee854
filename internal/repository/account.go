package repository

import (
	"context"
	"errors"

	"carte-api/internal/domain"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrConflict is returned when a write would break username or email uniqueness.
	ErrConflict = errors.New("account already exists")
)

// AccountRepository defines persistence operations for Account entities.
type AccountRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, account *domain.Account) (int64, error)
	// Save writes every mutable column of an existing account and refreshes UpdatedAt.
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context) ([]domain.Account, error)
	Delete(ctx context.Context, id int64) error
	// Atomically runs fn inside a single transaction. Accounts read through the
	// repository handed to fn stay locked against concurrent writers until fn returns.
	// The transaction commits when fn returns nil and rolls back otherwise.
	Atomically(ctx context.Context, fn func(repo AccountRepository) error) error
}
