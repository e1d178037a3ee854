package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"carte-api/internal/domain"
	"carte-api/internal/repository"
)

// memoryRepo is a map-backed AccountRepository. Atomically serializes callers
// with a mutex, standing in for row locks.
type memoryRepo struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]domain.Account
	saves    int
	failSave error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[int64]domain.Account)}
}

func (r *memoryRepo) Init(context.Context) error { return nil }

func (r *memoryRepo) Atomically(ctx context.Context, fn func(repo repository.AccountRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[int64]domain.Account, len(r.accounts))
	for id, acc := range r.accounts {
		snapshot[id] = acc
	}
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.accounts = snapshot
		r.nextID = nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) Create(_ context.Context, acc *domain.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Username == acc.Username || existing.Email == acc.Email {
			return 0, repository.ErrConflict
		}
	}
	r.nextID++
	now := time.Now().UTC()
	acc.ID = r.nextID
	acc.CreatedAt = now
	acc.UpdatedAt = now
	r.accounts[acc.ID] = clone(*acc)
	return acc.ID, nil
}

func (r *memoryRepo) Save(_ context.Context, acc *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	if _, ok := r.accounts[acc.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.accounts {
		if id != acc.ID && existing.Email == acc.Email {
			return repository.ErrConflict
		}
	}
	acc.UpdatedAt = time.Now().UTC()
	r.accounts[acc.ID] = clone(*acc)
	r.saves++
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := clone(acc)
	return &c, nil
}

func (r *memoryRepo) find(match func(domain.Account) bool) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if match(acc) {
			c := clone(acc)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryRepo) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.Username == username })
}

func (r *memoryRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.Email == email })
}

func (r *memoryRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

func (r *memoryRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

func (r *memoryRepo) List(context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, clone(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *memoryRepo) stored(username string) domain.Account {
	acc, err := r.GetByUsername(context.Background(), username)
	if err != nil {
		panic(err)
	}
	return *acc
}

func clone(acc domain.Account) domain.Account {
	if acc.LockedAt != nil {
		t := *acc.LockedAt
		acc.LockedAt = &t
	}
	return acc
}

// plainVerifier keeps tests fast; bcrypt is covered in the auth package.
type plainVerifier struct{}

func (plainVerifier) Hash(plain string) (string, error) { return "hashed:" + plain, nil }

func (plainVerifier) Verify(plain, stored string) bool { return stored == "hashed:"+plain }

type stubIssuer struct {
	mu     sync.Mutex
	issued []string
	err    error
}

func (s *stubIssuer) Issue(username string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, username)
	return "token-for-" + username, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) RecordAuthEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var errStoreDown = errors.New("store unreachable")

func strPtr(s string) *string { return &s }
