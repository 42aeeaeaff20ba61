// Package credentials owns user records: registration, login, and the binding
// between a user and their current refresh token.
package credentials

import "time"

// User is a stored identity. PasswordHash never leaves this package's callers
// in the HTTP layer; use Profile for responses.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	// RefreshToken is the single refresh token currently bound to the user.
	// Empty means none.
	RefreshToken string
	CreatedAt    time.Time
}

// Profile is the public view of a User.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

func (u *User) clone() *User {
	c := *u
	return &c
}
