package service

import "errors"

var (
	// ErrNotFound indicates that no account matches the given id or username.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUsername is returned when registering a username that is taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrDuplicateEmail is returned when an email already belongs to another account.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrAccountLocked is returned while an account's lock window is running.
	ErrAccountLocked = errors.New("account is locked, try again later")
	// ErrInvalidCredentials indicates that the supplied password is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("validation error")
)
