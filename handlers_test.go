package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cfg "github.com/example/cookieauth/internal/config"
	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/reset"
	"github.com/example/cookieauth/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []reset.Message
}

func (m *captureMailer) SendReset(_ context.Context, msg reset.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T) reset.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no reset message sent")
	return m.sent[len(m.sent)-1]
}

type testServer struct {
	app     *App
	handler http.Handler
	mailer  *captureMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c, err := cfg.Load(map[string]string{"SALT_ROUNDS": "4"})
	require.NoError(t, err)

	logger := logging.Discard()
	app, err := newApp(c, credentials.NewMemCollection(), reset.NewMemoryLedger(), logger)
	require.NoError(t, err)

	mailer := &captureMailer{}
	app.Resets = reset.NewService(app.Tokens, app.Store, reset.NewMemoryLedger(), mailer, c.PublicBaseURL, logger)

	return &testServer{app: app, handler: newRouter(app), mailer: mailer}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, email, username, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/users/register", map[string]string{
		"email": email, "user_name": username, "password": pw,
	})
}

func (s *testServer) login(t *testing.T, credential, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/users/login", map[string]string{
		"credential": credential, "password": pw,
	})
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.register(t, "ann@example.com", "ann", "secret123")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[UserResponse](t, rec)
	assert.Equal(t, "ann@example.com", resp.User.Email)
	assert.Equal(t, "ann", resp.User.Username)
	assert.NotEmpty(t, resp.User.ID)
	assert.NotContains(t, rec.Body.String(), "$2a$", "hash never leaves the server")

	access := cookieNamed(rec, resolver.AccessCookie)
	refresh := cookieNamed(rec, resolver.RefreshCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.False(t, access.Secure, "not production")
	assert.Equal(t, 15*60, access.MaxAge)
	assert.Equal(t, 7*24*60*60, refresh.MaxAge)

	bound, err := s.app.Store.FindByRefreshToken(context.Background(), refresh.Value)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, bound.ID)
}

func TestRegister_Failures(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.register(t, "ann@example.com", "ann", "secret123").Code)

	t.Run("duplicate email", func(t *testing.T) {
		rec := s.register(t, "ANN@example.com", "other", "secret123")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "USER_EXISTS", decodeBody[APIError](t, rec).Code)
	})

	t.Run("duplicate username", func(t *testing.T) {
		rec := s.register(t, "bob@example.com", "ann", "secret123")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := s.register(t, "not-an-email", "", "short")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[APIError](t, rec)
		assert.Equal(t, "fail", body.Status)
		assert.Equal(t, "Invalid email address.", body.Message)
		assert.Len(t, body.Fields, 2)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.register(t, "ann@example.com", "ann", "secret123").Code)

	for _, credential := range []string{"ann@example.com", "ann"} {
		rec := s.login(t, credential, "secret123")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, cookieNamed(rec, resolver.AccessCookie))
		assert.NotNil(t, cookieNamed(rec, resolver.RefreshCookie))
	}
}

func TestLogin_FailuresLookIdentical(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.register(t, "ann@example.com", "ann", "secret123").Code)

	wrongPassword := s.login(t, "ann", "secret124")
	unknownUser := s.login(t, "nobody", "secret123")
	malformed := s.login(t, "", "x")

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownUser, malformed} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, cookieNamed(rec, resolver.AccessCookie))
	}
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, wrongPassword.Body.String(), malformed.Body.String())
	assert.Equal(t, msgInvalidCredentials, decodeBody[APIError](t, wrongPassword).Message)
}

func TestProtected(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ann@example.com", "ann", "secret123")
	access := cookieNamed(reg, resolver.AccessCookie)
	refresh := cookieNamed(reg, resolver.RefreshCookie)

	t.Run("anonymous is denied", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/home/protected", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("access cookie", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/home/protected", nil, access)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[SessionResponse](t, rec)
		assert.True(t, body.Authenticated)
		assert.Equal(t, resolver.SourceAccess, body.Source)
		assert.Nil(t, cookieNamed(rec, resolver.AccessCookie), "no new cookie needed")
	})

	t.Run("refresh cookie mints access cookie", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/home/protected", nil, refresh)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, resolver.SourceRefresh, decodeBody[SessionResponse](t, rec).Source)

		minted := cookieNamed(rec, resolver.AccessCookie)
		require.NotNil(t, minted)
		rec = s.do(t, http.MethodGet, "/home/protected", nil, minted)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("tampered access cookie", func(t *testing.T) {
		bad := &http.Cookie{Name: resolver.AccessCookie, Value: access.Value + "x"}
		rec := s.do(t, http.MethodGet, "/home/protected", nil, bad)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHome(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/home", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[SessionResponse](t, rec)
	assert.False(t, body.Authenticated)
	assert.Equal(t, resolver.SourceAnonymous, body.Source)
	assert.Nil(t, body.User)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ann@example.com", "ann", "secret123")
	access := cookieNamed(reg, resolver.AccessCookie)
	refresh := cookieNamed(reg, resolver.RefreshCookie)

	rec := s.do(t, http.MethodPost, "/users/logout", nil, access, refresh)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, name := range []string{resolver.AccessCookie, resolver.RefreshCookie} {
		c := cookieNamed(rec, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}

	// The old refresh token no longer resolves.
	rec = s.do(t, http.MethodGet, "/home/protected", nil, refresh)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogout_RefreshOnly(t *testing.T) {
	s := newTestServer(t)
	refresh := cookieNamed(s.register(t, "ann@example.com", "", "secret123"), resolver.RefreshCookie)

	// Resolution through the refresh cookie identifies the user to unbind.
	rec := s.do(t, http.MethodPost, "/users/logout", nil, refresh)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := s.app.Store.FindByRefreshToken(context.Background(), refresh.Value)
	require.ErrorIs(t, err, credentials.ErrUserNotFound)
}

func TestIntrospect(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ann@example.com", "ann", "secret123")
	access := cookieNamed(reg, resolver.AccessCookie)
	refresh := cookieNamed(reg, resolver.RefreshCookie)

	rec := s.do(t, http.MethodPost, "/users/introspect", map[string]string{"token": access.Value})
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[TokenInfo](t, rec)
	assert.True(t, info.Active)
	assert.Equal(t, "access", info.Kind)
	assert.Equal(t, "ann", info.Username)
	require.NotNil(t, info.ExpiresAt)

	rec = s.do(t, http.MethodPost, "/users/introspect", map[string]string{"token": refresh.Value})
	info = decodeBody[TokenInfo](t, rec)
	assert.True(t, info.Active)
	assert.Equal(t, "refresh", info.Kind)

	rec = s.do(t, http.MethodPost, "/users/introspect", map[string]string{"token": "garbage"})
	assert.Equal(t, TokenInfo{Active: false}, decodeBody[TokenInfo](t, rec))

	rec = s.do(t, http.MethodPost, "/users/introspect", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ann@example.com", "ann", "secret123")
	oldRefresh := cookieNamed(reg, resolver.RefreshCookie)

	rec := s.do(t, http.MethodPost, "/users/reset", map[string]string{"email": "ann@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	msg := s.mailer.last(t)
	assert.Contains(t, msg.Link, "/home/newPassword/"+msg.Token)

	t.Run("unknown email looks the same", func(t *testing.T) {
		other := s.do(t, http.MethodPost, "/users/reset", map[string]string{"email": "nobody@example.com"})
		assert.Equal(t, rec.Code, other.Code)
		assert.Equal(t, rec.Body.String(), other.Body.String())
	})

	t.Run("new password page needs a reset token", func(t *testing.T) {
		page := s.do(t, http.MethodGet, "/home/newPassword/"+msg.Token, nil)
		require.Equal(t, http.StatusOK, page.Code)
		assert.Equal(t, "ann@example.com", decodeBody[map[string]string](t, page)["email"])

		page = s.do(t, http.MethodGet, "/home/newPassword/garbage", nil)
		assert.Equal(t, http.StatusForbidden, page.Code)

		page = s.do(t, http.MethodGet, "/home/newPassword/x", nil, cookieNamed(reg, resolver.AccessCookie))
		assert.Equal(t, http.StatusForbidden, page.Code, "a login session is not a reset session")
	})

	t.Run("complete once", func(t *testing.T) {
		done := s.do(t, http.MethodPost, "/users/reset/"+msg.Token, map[string]string{"password": "newsecret9"})
		require.Equal(t, http.StatusOK, done.Code, done.Body.String())

		replay := s.do(t, http.MethodPost, "/users/reset/"+msg.Token, map[string]string{"password": "another99"})
		assert.Equal(t, http.StatusForbidden, replay.Code)
		assert.Equal(t, "TOKEN_USED", decodeBody[APIError](t, replay).Code)

		assert.Equal(t, http.StatusOK, s.login(t, "ann", "newsecret9").Code)
		assert.Equal(t, http.StatusUnauthorized, s.login(t, "ann", "secret123").Code)

		protected := s.do(t, http.MethodGet, "/home/protected", nil, oldRefresh)
		assert.Equal(t, http.StatusForbidden, protected.Code, "reset revokes the old refresh token")
	})

	t.Run("weak new password", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/users/reset/"+msg.Token, map[string]string{"password": "weak"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/users/reset/garbage", map[string]string{"password": "newsecret9"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "INVALID_TOKEN", decodeBody[APIError](t, rec).Code)
	})
}

func TestUsersAndClear(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.register(t, "ann@example.com", "ann", "secret123").Code)
	require.Equal(t, http.StatusCreated, s.register(t, "bob@example.com", "", "secret123").Code)

	rec := s.do(t, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decodeBody[[]credentials.Profile](t, rec)
	require.Len(t, profiles, 2)
	assert.Equal(t, "ann@example.com", profiles[0].Email)

	rec = s.do(t, http.MethodDelete, "/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[map[string]int](t, rec)["removed"])

	assert.Equal(t, http.StatusUnauthorized, s.login(t, "ann", "secret123").Code)
}

func TestHealthReadyMetrics(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "nobody", "secret123")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	rec := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cookieauth_logins_total{result="failure"} 1`)
	assert.Contains(t, rec.Body.String(), "cookieauth_http_request_duration_seconds")
}

func TestValidateAndRevoke(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ann@example.com", "ann", "secret123")
	access := cookieNamed(reg, resolver.AccessCookie)
	refresh := cookieNamed(reg, resolver.RefreshCookie)

	t.Run("validate bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/validate", nil)
		req.Header.Set("Authorization", "Bearer "+access.Value)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ann@example.com", decodeBody[TokenInfo](t, rec).Email)
	})

	t.Run("validate rejects refresh token", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/users/validate?token="+refresh.Value, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("validate needs a token", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/users/validate", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("revoke once", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/users/revoke", map[string]string{"token": refresh.Value})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(t, http.MethodPost, "/users/revoke", map[string]string{"token": refresh.Value})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodGet, "/home/protected", nil, refresh)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

// unreachableCollection fails every lookup as if the database were down.
type unreachableCollection struct {
	*credentials.MemCollection
}

func (unreachableCollection) FindOne(context.Context, credentials.Predicate) (*credentials.User, error) {
	return nil, errors.New("connection refused")
}

func TestLogin_StorageFailureCountsAsError(t *testing.T) {
	c, err := cfg.Load(map[string]string{"SALT_ROUNDS": "4"})
	require.NoError(t, err)
	users := unreachableCollection{MemCollection: credentials.NewMemCollection()}
	app, err := newApp(c, users, reset.NewMemoryLedger(), logging.Discard())
	require.NoError(t, err)
	s := &testServer{app: app, handler: newRouter(app), mailer: &captureMailer{}}

	rec := s.login(t, "ann", "secret123")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decodeBody[APIError](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cookieauth_logins_total{result="error"} 1`)
	assert.NotContains(t, rec.Body.String(), `cookieauth_logins_total{result="failure"}`)
}
