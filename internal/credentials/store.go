package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/password"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Registration is the input to Store.Register.
type Registration struct {
	Email    string
	Username string
	Password string
}

// Store is the credential store. Construct one per process and share it.
//
// Mutations are serialized by mu so that the uniqueness check and the insert
// in Register happen as one unit; the collection's own conflict detection
// backs this up across processes.
type Store struct {
	users  Collection
	hasher password.Hasher
	log    *slog.Logger
	now    func() time.Time

	mu sync.RWMutex

	dummyMu   sync.Mutex
	dummyHash string
}

func NewStore(users Collection, hasher password.Hasher, logger *slog.Logger) *Store {
	return &Store{
		users:  users,
		hasher: hasher,
		log:    logging.OrDiscard(logger),
		now:    time.Now,
	}
}

// NormalizeEmail trims and lowercases an email address. Usernames are
// compared exactly.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user. It fails with ErrDuplicateCredential when the email
// or the username is already taken; nothing is written in that case.
func (s *Store) Register(ctx context.Context, r Registration) (*User, error) {
	email := NormalizeEmail(r.Email)
	username := strings.TrimSpace(r.Username)
	if email == "" || strings.Contains(username, "@") {
		return nil, ErrInvalidIdentity
	}

	// Cheap rejection before paying for the hash.
	s.mu.RLock()
	err := s.ensureAvailable(ctx, email, username)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, oops.Code("CREDENTIALS_HASH").With("operation", "register").Wrap(err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureAvailable(ctx, email, username); err != nil {
		return nil, err
	}
	if err := s.users.Insert(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicateCredential
		}
		return nil, err
	}

	s.log.Info("user registered", "user_id", u.ID)
	return u.clone(), nil
}

// ensureAvailable returns ErrDuplicateCredential when email or a non-empty
// username is in use. Callers hold mu.
func (s *Store) ensureAvailable(ctx context.Context, email, username string) error {
	terms := []Term{{Field: FieldEmail, Value: email}}
	if username != "" {
		terms = append(terms, Term{Field: FieldUsername, Value: username})
	}
	_, err := s.users.FindOne(ctx, AnyOf(terms...))
	switch {
	case err == nil:
		return ErrDuplicateCredential
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

// FindByCredential resolves a login identifier that may be an email or a
// username. It returns ErrUserNotFound when neither matches.
func (s *Store) FindByCredential(ctx context.Context, credential string) (*User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUserNotFound
	}
	p := AnyOf(
		Term{Field: FieldEmail, Value: NormalizeEmail(credential)},
		Term{Field: FieldUsername, Value: credential},
	)
	return s.findOne(ctx, p)
}

func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, Where(FieldID, id))
}

// FindByRefreshToken returns the user the token is currently bound to.
func (s *Store) FindByRefreshToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, Where(FieldRefreshToken, token))
}

func (s *Store) findOne(ctx context.Context, p Predicate) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.users.FindOne(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks a credential and password. Unknown credentials and wrong
// passwords both yield ErrInvalidCredentials, and both pay for one hash
// comparison.
func (s *Store) Authenticate(ctx context.Context, credential, plain string) (*User, error) {
	u, err := s.FindByCredential(ctx, credential)
	if errors.Is(err, ErrUserNotFound) {
		s.hasher.Verify(plain, s.dummy())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(plain, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// fallbackDummyHash is a well-formed cost-10 bcrypt hash, used while the
// hasher cannot produce a dummy at its own cost.
const fallbackDummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// dummy returns the hash compared against when no user matches. A failed
// hash is retried on the next call.
func (s *Store) dummy() string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash
	}
	h, err := s.hasher.Hash("not-a-real-password-0")
	if err != nil {
		logging.LogError(s.log, "dummy hash failed", err)
		return fallbackDummyHash
	}
	s.dummyHash = h
	return h
}

// BindRefreshToken makes token the user's only valid refresh token. An empty
// token revokes the current binding. Binding is idempotent.
func (s *Store) BindRefreshToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.users.FindOne(ctx, Where(FieldID, userID))
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.RefreshToken == token {
		return nil
	}
	u.RefreshToken = token
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.log.Debug("refresh token binding updated", "user_id", userID, "revoked", token == "")
	return nil
}

// UpdatePassword replaces the password of the user with email and revokes
// their refresh token.
func (s *Store) UpdatePassword(ctx context.Context, email, plain string) (*User, error) {
	email = NormalizeEmail(email)
	if _, err := s.findOne(ctx, Where(FieldEmail, email)); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, oops.Code("CREDENTIALS_HASH").With("operation", "update_password").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.users.FindOne(ctx, Where(FieldEmail, email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.RefreshToken = ""
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.log.Info("password updated", "user_id", u.ID)
	return u, nil
}

// Users lists every user's public profile, oldest first.
func (s *Store) Users(ctx context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, err := s.users.Find(ctx, Predicate{})
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out, nil
}

// ClearAll removes every user.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.users.RemoveAll(ctx, Predicate{})
	if err != nil {
		return 0, err
	}
	s.log.Warn("all users removed", "count", n)
	return n, nil
}

// Ping checks the backing collection.
func (s *Store) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}
