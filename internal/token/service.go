// Package token issues and verifies the signed, time-bounded tokens used for
// sessions: access, refresh and password reset.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

var (
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidResetToken   = errors.New("invalid reset token")
)

// Kind separates tokens that share a signing secret.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

// Default lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultResetTTL   = 10 * time.Minute
)

// Claims is the payload of every token. Which subject fields are set depends
// on the kind: access carries all three, refresh only the id, reset only the
// email.
type Claims struct {
	UserID   string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"user_name,omitempty"`
	Kind     Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Subject identifies the user an access token is minted for.
type Subject struct {
	ID       string
	Email    string
	Username string
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	Issuer        string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service signs and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	issuer        string
	now           func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}

	s := &Service{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     orDefault(cfg.AccessTTL, DefaultAccessTTL),
		refreshTTL:    orDefault(cfg.RefreshTTL, DefaultRefreshTTL),
		resetTTL:      orDefault(cfg.ResetTTL, DefaultResetTTL),
		issuer:        cfg.Issuer,
		now:           cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (s *Service) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }
func (s *Service) ResetTTL() time.Duration   { return s.resetTTL }

// IssueAccess signs {id, email, user_name} with the access secret.
func (s *Service) IssueAccess(sub Subject) (string, error) {
	c := Claims{
		UserID:           sub.ID,
		Email:            sub.Email,
		Username:         sub.Username,
		Kind:             KindAccess,
		RegisteredClaims: s.registered(sub.ID, s.accessTTL),
	}
	return s.sign(c, s.accessSecret)
}

// IssueRefresh signs {id} with the refresh secret. The jti keeps two tokens
// issued within the same second distinct, so a revoked binding is never
// revived by a later login.
func (s *Service) IssueRefresh(userID string) (string, error) {
	rc := s.registered(userID, s.refreshTTL)
	rc.ID = uuid.NewString()
	c := Claims{
		UserID:           userID,
		Kind:             KindRefresh,
		RegisteredClaims: rc,
	}
	return s.sign(c, s.refreshSecret)
}

// IssueReset signs {email} with the access secret. Each reset token gets a
// unique jti so it can be consumed once.
func (s *Service) IssueReset(email string) (string, error) {
	rc := s.registered("", s.resetTTL)
	rc.ID = uuid.NewString()
	c := Claims{
		Email:            email,
		Kind:             KindReset,
		RegisteredClaims: rc,
	}
	return s.sign(c, s.accessSecret)
}

func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.verify(raw, s.accessSecret, KindAccess, ErrInvalidAccessToken)
}

func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.verify(raw, s.refreshSecret, KindRefresh, ErrInvalidRefreshToken)
}

func (s *Service) VerifyReset(raw string) (*Claims, error) {
	return s.verify(raw, s.accessSecret, KindReset, ErrInvalidResetToken)
}

func (s *Service) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Service) sign(c Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN").With("kind", c.Kind).Wrap(err)
	}
	return signed, nil
}

func (s *Service) verify(raw string, secret []byte, kind Kind, sentinel error) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", sentinel)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel, err)
	}
	if !tok.Valid {
		return nil, sentinel
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: unexpected kind %q", sentinel, claims.Kind)
	}
	return claims, nil
}
