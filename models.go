package main

import (
	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/resolver"
	"github.com/example/cookieauth/internal/validation"
)

type registerRequest = validation.Registration

type loginRequest = validation.Login

type resetRequest = validation.ResetRequest

type newPasswordRequest = validation.NewPassword

type introspectRequest struct {
	Token string `json:"token"`
}

// UserResponse is returned by register and login. It never includes the
// password hash.
type UserResponse struct {
	User credentials.Profile `json:"user"`
}

// SessionResponse describes the caller's session on the home routes.
type SessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	Source        resolver.Source   `json:"source"`
	User          *resolver.Session `json:"user,omitempty"`
}

// TokenInfo is the introspection view of a token. Inactive tokens carry
// nothing but Active=false.
type TokenInfo struct {
	Active    bool   `json:"active"`
	Kind      string `json:"kind,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"user_name,omitempty"`
	IssuedAt  *int64 `json:"iat,omitempty"`
	ExpiresAt *int64 `json:"exp,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}
