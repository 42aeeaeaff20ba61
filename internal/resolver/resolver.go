// Package resolver decides, once per request, who the caller is from the
// tokens they present.
//
// Resolution tries, in order, the access token, the refresh token (minting a
// fresh access token when it succeeds) and a password reset token. The first
// step that succeeds wins. Failures are expected and only move resolution to
// the next step; when every step fails the session is anonymous. Resolve
// never returns an error.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/token"
)

// Tokens verifies presented tokens and mints replacement access tokens.
type Tokens interface {
	VerifyAccess(raw string) (*token.Claims, error)
	VerifyRefresh(raw string) (*token.Claims, error)
	VerifyReset(raw string) (*token.Claims, error)
	IssueAccess(sub token.Subject) (string, error)
	AccessTTL() time.Duration
}

// Users looks up the user a refresh token is bound to.
type Users interface {
	FindByRefreshToken(ctx context.Context, token string) (*credentials.User, error)
}

// Observer is told the outcome of every resolution.
type Observer interface {
	ObserveResolution(source Source)
}

// Request holds the tokens presented with one request. Empty means absent.
type Request struct {
	AccessToken  string
	RefreshToken string
	ResetToken   string
}

// Decision is the result of resolution: the session plus any cookies the
// response must carry.
type Decision struct {
	Session Session
	Cookies []Cookie
}

type Resolver struct {
	tokens   Tokens
	users    Users
	cookies  CookiePolicy
	observer Observer
	log      *slog.Logger
}

type Option func(*Resolver)

func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func New(tokens Tokens, users Users, cookies CookiePolicy, opts ...Option) *Resolver {
	r := &Resolver{
		tokens:  tokens,
		users:   users,
		cookies: cookies,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log)
	return r
}

// Resolve runs the resolution steps against req.
func (r *Resolver) Resolve(ctx context.Context, req Request) Decision {
	d := r.resolve(ctx, req)
	if r.observer != nil {
		r.observer.ObserveResolution(d.Session.Source)
	}
	return d
}

func (r *Resolver) resolve(ctx context.Context, req Request) Decision {
	if req.AccessToken != "" {
		if d, ok := r.fromAccess(req.AccessToken); ok {
			return d
		}
	}
	if req.RefreshToken != "" {
		if d, ok := r.fromRefresh(ctx, req.RefreshToken); ok {
			return d
		}
	}
	if req.ResetToken != "" {
		if d, ok := r.fromReset(req.ResetToken); ok {
			return d
		}
	}
	return Decision{Session: Session{Source: SourceAnonymous}}
}

func (r *Resolver) fromAccess(raw string) (Decision, bool) {
	claims, err := r.tokens.VerifyAccess(raw)
	if err != nil {
		r.log.Debug("access token rejected", "error", err)
		return Decision{}, false
	}
	return Decision{Session: Session{
		ID:       claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
		Source:   SourceAccess,
	}}, true
}

func (r *Resolver) fromRefresh(ctx context.Context, raw string) (Decision, bool) {
	claims, err := r.tokens.VerifyRefresh(raw)
	if err != nil {
		r.log.Debug("refresh token rejected", "error", err)
		return Decision{}, false
	}

	u, err := r.users.FindByRefreshToken(ctx, raw)
	if err != nil {
		r.log.Debug("refresh token not bound", "user_id", claims.UserID, "error", err)
		return Decision{}, false
	}
	if u.ID != claims.UserID {
		r.log.Warn("refresh token bound to a different user", "claim_user_id", claims.UserID, "user_id", u.ID)
		return Decision{}, false
	}

	access, err := r.tokens.IssueAccess(token.Subject{ID: u.ID, Email: u.Email, Username: u.Username})
	if err != nil {
		logging.LogError(r.log, "mint access token", err)
		return Decision{}, false
	}

	return Decision{
		Session: Session{
			ID:       u.ID,
			Email:    u.Email,
			Username: u.Username,
			Source:   SourceRefresh,
		},
		Cookies: []Cookie{r.cookies.Access(access, r.tokens.AccessTTL())},
	}, true
}

func (r *Resolver) fromReset(raw string) (Decision, bool) {
	claims, err := r.tokens.VerifyReset(raw)
	if err != nil {
		r.log.Debug("reset token rejected", "error", err)
		return Decision{}, false
	}
	return Decision{Session: Session{Email: claims.Email, Source: SourceReset}}, true
}
