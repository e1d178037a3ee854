package service

import (
	"time"

	"carte-api/internal/domain"
)

const (
	DefaultMaxAttempts  = 3
	DefaultLockDuration = 15 * time.Minute
)

// LockoutPolicy configures progressive lockout. It is fixed at process start.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		LockDuration: DefaultLockDuration,
	}
}

// AuthGuard decides, for one authentication attempt, how an account's lock
// state moves. It only mutates the account in memory; callers persist it.
type AuthGuard struct {
	policy LockoutPolicy
	now    func() time.Time
}

// NewAuthGuard builds a guard. A nil clock means time.Now; a MaxAttempts below
// one is raised to one and a negative LockDuration is treated as zero.
func NewAuthGuard(policy LockoutPolicy, now func() time.Time) *AuthGuard {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.LockDuration < 0 {
		policy.LockDuration = 0
	}
	if now == nil {
		now = time.Now
	}
	return &AuthGuard{policy: policy, now: now}
}

func (g *AuthGuard) Policy() LockoutPolicy {
	return g.policy
}

// Admit runs before the password is checked. A locked account whose window
// has passed is unlocked and reported with unlocked=true so the caller can
// persist it and go on to verify the password. A locked account still inside
// its window yields ErrAccountLocked and is left untouched.
func (g *AuthGuard) Admit(acc *domain.Account) (unlocked bool, err error) {
	if !acc.Locked {
		return false, nil
	}
	if !acc.LockExpired(g.now(), g.policy.LockDuration) {
		return false, ErrAccountLocked
	}
	acc.Unlock()
	return true, nil
}

// Reject records a password mismatch and reports whether it locked the account.
func (g *AuthGuard) Reject(acc *domain.Account) (locked bool) {
	return acc.RecordFailure(g.now(), g.policy.MaxAttempts)
}

// Accept records a password match and reports whether the account changed.
func (g *AuthGuard) Accept(acc *domain.Account) (changed bool) {
	return acc.ResetFailures()
}
