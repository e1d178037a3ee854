package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carte-api/internal/repository/sqlite"
)

func TestAuthenticate_SQLiteStoreSerializesConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "carte.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewAccountRepository(db)
	require.NoError(t, repo.Init(ctx))

	clock := newFakeClock()
	svc := NewUserService(repo, plainVerifier{}, &stubIssuer{},
		NewAuthGuard(LockoutPolicy{MaxAttempts: 3, LockDuration: 15 * time.Minute}, clock.Now),
		WithLogger(quietLogger()),
	)
	_, err = svc.Register(ctx, RegisterInput{Username: "jdupont", Email: "jean@example.com", Password: "right"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		locked  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Authenticate(ctx, "jdupont", "wrong")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				invalid++
			case errors.Is(err, ErrAccountLocked):
				locked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, invalid)
	assert.Equal(t, 5, locked)

	acc, err := repo.GetByUsername(ctx, "jdupont")
	require.NoError(t, err)
	assert.True(t, acc.Locked)
	assert.Equal(t, 3, acc.FailedAttempts)
	require.NotNil(t, acc.LockedAt)

	clock.Advance(15*time.Minute + time.Second)
	res, err := svc.Authenticate(ctx, "jdupont", "right")
	require.NoError(t, err)
	assert.False(t, res.Account.Locked)

	acc, err = repo.GetByUsername(ctx, "jdupont")
	require.NoError(t, err)
	assert.False(t, acc.Locked)
	assert.Zero(t, acc.FailedAttempts)
	assert.Nil(t, acc.LockedAt)
}
