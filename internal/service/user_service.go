package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"carte-api/internal/auth"
	"carte-api/internal/domain"
	"carte-api/internal/repository"
)

// Authentication events reported to the EventRecorder.
const (
	EventSuccess            = "success"
	EventInvalidCredentials = "invalid_credentials"
	EventAccountLocked      = "account_locked"
	EventUnknownUser        = "unknown_user"
	EventLockout            = "lockout"
	EventAutoUnlock         = "auto_unlock"
	EventManualUnlock       = "manual_unlock"
	EventRegistered         = "registered"
)

// EventRecorder receives authentication events, typically for metrics.
type EventRecorder interface {
	RecordAuthEvent(event string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthEvent(string) {}

// RegisterInput carries the fields of a self-service registration.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UpdateInput is a partial profile update; nil or empty fields are left as they are.
type UpdateInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Password  *string
}

// AdminSeed describes an administrator created at start-up when absent.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

// AuthResult is returned by a successful registration or sign-in.
type AuthResult struct {
	Token   string
	Account *domain.Account
}

// UserService describes account lifecycle operations.
type UserService interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Authenticate(ctx context.Context, username, password string) (*AuthResult, error)
	Unlock(ctx context.Context, username string) error
	UpdateProfile(ctx context.Context, id int64, input UpdateInput) (*domain.Account, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Delete(ctx context.Context, id int64) error
	EnsureAdmin(ctx context.Context, seed AdminSeed) error
}

type Option func(*userService)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *userService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithEventRecorder(recorder EventRecorder) Option {
	return func(s *userService) {
		if recorder != nil {
			s.events = recorder
		}
	}
}

type userService struct {
	accounts repository.AccountRepository
	verifier auth.CredentialVerifier
	tokens   auth.TokenIssuer
	guard    *AuthGuard
	logger   *logrus.Logger
	events   EventRecorder
}

func NewUserService(accounts repository.AccountRepository, verifier auth.CredentialVerifier, tokens auth.TokenIssuer, guard *AuthGuard, opts ...Option) UserService {
	s := &userService{
		accounts: accounts,
		verifier: verifier,
		tokens:   tokens,
		guard:    guard,
		logger:   logrus.New(),
		events:   noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *userService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	if err := validateRegistration(input); err != nil {
		return nil, err
	}

	account, err := s.create(ctx, input, domain.RoleUser)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(account.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.events.RecordAuthEvent(EventRegistered)
	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
	}).Info("account registered")

	return &AuthResult{Token: token, Account: sanitizeAccount(account)}, nil
}

func (s *userService) create(ctx context.Context, input RegisterInput, role domain.Role) (*domain.Account, error) {
	hash, err := s.verifier.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         role,
		Enabled:      true,
	}

	err = s.accounts.Atomically(ctx, func(repo repository.AccountRepository) error {
		taken, err := repo.ExistsByUsername(ctx, account.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateUsername
		}
		taken, err = repo.ExistsByEmail(ctx, account.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateEmail
		}

		if _, err := repo.Create(ctx, account); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// lost a race against a concurrent registration
				return ErrDuplicateUsername
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}

	logger := s.logger.WithField("username", username)

	var (
		account      *domain.Account
		outcome      error
		autoUnlocked bool
		lockedNow    bool
		failures     int
	)
	err := s.accounts.Atomically(ctx, func(repo repository.AccountRepository) error {
		found, err := repo.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				outcome = ErrNotFound
				return nil
			}
			return err
		}

		unlocked, err := s.guard.Admit(found)
		if err != nil {
			outcome = err
			return nil
		}
		if unlocked {
			if err := repo.Save(ctx, found); err != nil {
				return err
			}
			autoUnlocked = true
		}

		if !s.verifier.Verify(password, found.PasswordHash) {
			lockedNow = s.guard.Reject(found)
			failures = found.FailedAttempts
			if err := repo.Save(ctx, found); err != nil {
				return err
			}
			outcome = ErrInvalidCredentials
			return nil
		}

		if s.guard.Accept(found) {
			if err := repo.Save(ctx, found); err != nil {
				return err
			}
		}
		account = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", username, err)
	}

	if autoUnlocked {
		s.events.RecordAuthEvent(EventAutoUnlock)
		logger.Info("lock window expired, account unlocked")
	}
	if lockedNow {
		s.events.RecordAuthEvent(EventLockout)
		logger.WithField("failed_attempts", failures).Warn("account locked after repeated failures")
	}

	switch {
	case errors.Is(outcome, ErrNotFound):
		s.events.RecordAuthEvent(EventUnknownUser)
		logger.Debug("authentication for unknown user")
		return nil, outcome
	case errors.Is(outcome, ErrAccountLocked):
		s.events.RecordAuthEvent(EventAccountLocked)
		logger.Info("authentication refused, account locked")
		return nil, outcome
	case outcome != nil:
		s.events.RecordAuthEvent(EventInvalidCredentials)
		logger.WithField("failed_attempts", failures).Info("authentication failed")
		return nil, outcome
	}

	token, err := s.tokens.Issue(account.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.events.RecordAuthEvent(EventSuccess)
	logger.WithField("account_id", account.ID).Debug("authentication succeeded")
	return &AuthResult{Token: token, Account: sanitizeAccount(account)}, nil
}

func (s *userService) Unlock(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	err := s.accounts.Atomically(ctx, func(repo repository.AccountRepository) error {
		account, err := repo.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		account.Unlock()
		return repo.Save(ctx, account)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("unlock %s: %w", username, err)
	}

	s.events.RecordAuthEvent(EventManualUnlock)
	s.logger.WithField("username", username).Info("account unlocked")
	return nil
}

func (s *userService) UpdateProfile(ctx context.Context, id int64, input UpdateInput) (*domain.Account, error) {
	var newHash string
	if password := valueOf(input.Password); password != "" {
		hash, err := s.verifier.Hash(password)
		if err != nil {
			return nil, err
		}
		newHash = hash
	}

	var account *domain.Account
	err := s.accounts.Atomically(ctx, func(repo repository.AccountRepository) error {
		found, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if email := strings.TrimSpace(valueOf(input.Email)); email != "" && email != found.Email {
			taken, err := repo.ExistsByEmail(ctx, email)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicateEmail
			}
			found.Email = email
		}
		if firstName := strings.TrimSpace(valueOf(input.FirstName)); firstName != "" {
			found.FirstName = firstName
		}
		if lastName := strings.TrimSpace(valueOf(input.LastName)); lastName != "" {
			found.LastName = lastName
		}
		if newHash != "" {
			found.PasswordHash = newHash
		}

		if err := repo.Save(ctx, found); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrDuplicateEmail
			}
			return err
		}
		account = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.logger.WithField("account_id", id).Info("profile updated")
	return sanitizeAccount(account), nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return sanitizeAccount(account), nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	account, err := s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, translateNotFound(err)
	}
	return sanitizeAccount(account), nil
}

func (s *userService) List(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Account, len(accounts))
	for i := range accounts {
		resp[i] = *sanitizeAccount(&accounts[i])
	}
	return resp, nil
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	if err := s.accounts.Delete(ctx, id); err != nil {
		return translateNotFound(err)
	}
	s.logger.WithField("account_id", id).Info("account deleted")
	return nil
}

func (s *userService) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	seed.Username = strings.TrimSpace(seed.Username)
	if seed.Username == "" {
		return nil
	}

	exists, err := s.accounts.ExistsByUsername(ctx, seed.Username)
	if err != nil {
		return err
	}
	if exists {
		s.logger.WithField("username", seed.Username).Debug("admin account already present")
		return nil
	}

	input := RegisterInput{
		Username: seed.Username,
		Email:    strings.TrimSpace(seed.Email),
		Password: seed.Password,
	}
	if err := validateRegistration(input); err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}

	account, err := s.create(ctx, input, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
	}).Info("admin account created")
	return nil
}

func validateRegistration(input RegisterInput) error {
	switch {
	case input.Username == "":
		return fmt.Errorf("%w: username is required", ErrValidation)
	case input.Email == "":
		return fmt.Errorf("%w: email is required", ErrValidation)
	case !strings.Contains(input.Email, "@"):
		return fmt.Errorf("%w: email is invalid", ErrValidation)
	case input.Password == "":
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	return nil
}

func translateNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sanitizeAccount(account *domain.Account) *domain.Account {
	if account == nil {
		return nil
	}
	clean := *account
	clean.PasswordHash = ""
	if account.LockedAt != nil {
		lockedAt := *account.LockedAt
		clean.LockedAt = &lockedAt
	}
	return &clean
}
