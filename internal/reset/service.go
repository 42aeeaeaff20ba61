// Package reset implements the password reset flow: issuing a reset link for
// an email address and completing the reset with a single-use token.
package reset

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/token"
	"github.com/samber/oops"
)

var ErrResetTokenUsed = errors.New("reset token already used")

// Tokens issues and verifies reset tokens.
type Tokens interface {
	IssueReset(email string) (string, error)
	VerifyReset(raw string) (*token.Claims, error)
}

// Users is the part of the credential store the reset flow needs.
type Users interface {
	FindByCredential(ctx context.Context, credential string) (*credentials.User, error)
	UpdatePassword(ctx context.Context, email, plain string) (*credentials.User, error)
}

type Service struct {
	tokens  Tokens
	users   Users
	ledger  Ledger
	mailer  Mailer
	baseURL string
	log     *slog.Logger
}

// NewService wires the reset flow. Links sent by mail point at
// baseURL + "/home/newPassword/<token>".
func NewService(tokens Tokens, users Users, ledger Ledger, mailer Mailer, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		tokens:  tokens,
		users:   users,
		ledger:  ledger,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logging.OrDiscard(logger),
	}
}

// Request sends a reset link to email if it belongs to a user. Unknown
// addresses succeed silently so callers cannot probe for accounts.
func (s *Service) Request(ctx context.Context, email string) error {
	email = credentials.NormalizeEmail(email)
	u, err := s.users.FindByCredential(ctx, email)
	if errors.Is(err, credentials.ErrUserNotFound) || (err == nil && u.Email != email) {
		s.log.DebugContext(ctx, "reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := s.tokens.IssueReset(u.Email)
	if err != nil {
		return err
	}
	msg := Message{
		To:    u.Email,
		Token: raw,
		Link:  s.baseURL + "/home/newPassword/" + raw,
	}
	if err := s.mailer.SendReset(ctx, msg); err != nil {
		return oops.Code("RESET_MAIL").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

// Complete sets a new password for the email in the reset token. Each token
// works once; replays fail with ErrResetTokenUsed. A failed password update
// releases the token again. The user's refresh token is revoked.
func (s *Service) Complete(ctx context.Context, raw, newPassword string) (*credentials.User, error) {
	claims, err := s.tokens.VerifyReset(raw)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil, token.ErrInvalidResetToken
	}

	if err := s.ledger.Consume(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	u, err := s.users.UpdatePassword(ctx, claims.Email, newPassword)
	if err != nil {
		// The password did not change; let the link be used again.
		if rerr := s.ledger.Release(ctx, claims.ID); rerr != nil {
			logging.LogError(s.log, "release reset token", rerr)
		}
		return nil, err
	}
	s.log.InfoContext(ctx, "password reset completed", "user_id", u.ID)
	return u, nil
}
