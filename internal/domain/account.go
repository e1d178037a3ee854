package domain

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account represents a registered citizen or manager able to sign in.
type Account struct {
	ID             int64
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           Role
	Enabled        bool
	Locked         bool
	FailedAttempts int
	LockedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockExpired reports whether a locked account's lock window has passed at now.
// The bound is exclusive: an access at exactly LockedAt+lockDuration is still locked.
func (a *Account) LockExpired(now time.Time, lockDuration time.Duration) bool {
	if !a.Locked {
		return false
	}
	if a.LockedAt == nil {
		// without a timestamp the window never starts; only Unlock clears it
		return false
	}
	return now.After(a.LockedAt.Add(lockDuration))
}

// Unlock returns the account to the active state.
func (a *Account) Unlock() {
	a.Locked = false
	a.FailedAttempts = 0
	a.LockedAt = nil
}

// RecordFailure counts a failed password check and locks the account once
// maxAttempts is reached. It reports whether this call locked the account.
func (a *Account) RecordFailure(now time.Time, maxAttempts int) bool {
	a.FailedAttempts++
	if a.FailedAttempts < maxAttempts {
		return false
	}
	lockedAt := now
	a.Locked = true
	a.LockedAt = &lockedAt
	return true
}

// ResetFailures clears the failure counter after a successful sign-in and
// reports whether anything changed.
func (a *Account) ResetFailures() bool {
	if a.FailedAttempts == 0 {
		return false
	}
	a.FailedAttempts = 0
	a.LockedAt = nil
	return true
}
