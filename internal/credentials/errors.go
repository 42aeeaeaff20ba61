package credentials

import "errors"

var (
	ErrDuplicateCredential = errors.New("email or username already registered")
	// ErrInvalidCredentials covers both unknown credential and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	// Collection-level errors.
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing record")
)

// ErrInvalidIdentity rejects an empty email or a username that could be
// mistaken for an email.
var ErrInvalidIdentity = errors.New("invalid email or username")
