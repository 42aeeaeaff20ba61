package resolver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/password"
	"github.com/example/cookieauth/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingObserver struct {
	sources []Source
}

func (o *recordingObserver) ObserveResolution(s Source) { o.sources = append(o.sources, s) }

type fixture struct {
	ctx      context.Context
	clock    *clock
	tokens   *token.Service
	store    *credentials.Store
	resolver *Resolver
	observer *recordingObserver
	user     *credentials.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		Issuer:        "cookieauth",
		Now:           c.Now,
	})
	require.NoError(t, err)

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	store := credentials.NewStore(credentials.NewMemCollection(), hasher, nil)

	u, err := store.Register(ctx, credentials.Registration{Email: "ann@example.com", Username: "ann", Password: "secret123"})
	require.NoError(t, err)

	obs := &recordingObserver{}
	return &fixture{
		ctx:      ctx,
		clock:    c,
		tokens:   tokens,
		store:    store,
		resolver: New(tokens, store, CookiePolicy{Secure: true}, WithObserver(obs)),
		observer: obs,
		user:     u,
	}
}

func (f *fixture) access(t *testing.T) string {
	t.Helper()
	raw, err := f.tokens.IssueAccess(token.Subject{ID: f.user.ID, Email: f.user.Email, Username: f.user.Username})
	require.NoError(t, err)
	return raw
}

func (f *fixture) boundRefresh(t *testing.T) string {
	t.Helper()
	raw, err := f.tokens.IssueRefresh(f.user.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.BindRefreshToken(f.ctx, f.user.ID, raw))
	return raw
}

func TestResolve_ValidAccessToken(t *testing.T) {
	f := newFixture(t)

	d := f.resolver.Resolve(f.ctx, Request{AccessToken: f.access(t)})

	assert.Equal(t, Session{ID: f.user.ID, Email: "ann@example.com", Username: "ann", Source: SourceAccess}, d.Session)
	assert.Empty(t, d.Cookies)
	assert.Equal(t, []Source{SourceAccess}, f.observer.sources)
}

func TestResolve_AccessTokenWinsOverRefresh(t *testing.T) {
	f := newFixture(t)

	d := f.resolver.Resolve(f.ctx, Request{AccessToken: f.access(t), RefreshToken: f.boundRefresh(t)})

	assert.Equal(t, SourceAccess, d.Session.Source)
	assert.Empty(t, d.Cookies)
}

func TestResolve_ExpiredAccessWithBoundRefresh(t *testing.T) {
	f := newFixture(t)
	access := f.access(t)
	refresh := f.boundRefresh(t)

	f.clock.Advance(token.DefaultAccessTTL + time.Minute)

	d := f.resolver.Resolve(f.ctx, Request{AccessToken: access, RefreshToken: refresh})

	assert.Equal(t, SourceRefresh, d.Session.Source)
	assert.Equal(t, f.user.ID, d.Session.ID)
	assert.Equal(t, "ann", d.Session.Username)

	require.Len(t, d.Cookies, 1)
	c := d.Cookies[0]
	assert.Equal(t, AccessCookie, c.Name)
	assert.True(t, c.HTTPOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, int(token.DefaultAccessTTL/time.Second), c.MaxAge)

	claims, err := f.tokens.VerifyAccess(c.Value)
	require.NoError(t, err, "minted cookie is a valid access token")
	assert.Equal(t, f.user.ID, claims.UserID)

	// Refresh token is not rotated.
	bound, err := f.store.FindByRefreshToken(f.ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, bound.ID)
}

func TestResolve_Anonymous(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  func(t *testing.T) Request
	}{
		{
			name: "no tokens",
			req:  func(*testing.T) Request { return Request{} },
		},
		{
			name: "tampered access token",
			req: func(t *testing.T) Request {
				raw := f.access(t)
				return Request{AccessToken: raw[:len(raw)-6] + "AAAAAA"}
			},
		},
		{
			name: "refresh token not bound",
			req: func(t *testing.T) Request {
				raw, err := f.tokens.IssueRefresh(f.user.ID)
				require.NoError(t, err)
				return Request{RefreshToken: raw}
			},
		},
		{
			name: "access token presented as refresh",
			req: func(t *testing.T) Request {
				return Request{RefreshToken: f.access(t)}
			},
		},
		{
			name: "access token presented as reset",
			req: func(t *testing.T) Request {
				return Request{ResetToken: f.access(t)}
			},
		},
		{
			name: "garbage everywhere",
			req: func(*testing.T) Request {
				return Request{AccessToken: "x", RefreshToken: "y", ResetToken: "z"}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.resolver.Resolve(f.ctx, tt.req(t))
			assert.True(t, d.Session.Anonymous())
			assert.Equal(t, SourceAnonymous, d.Session.Source)
			assert.Empty(t, d.Session.ID)
			assert.Empty(t, d.Cookies)
		})
	}
}

func TestResolve_RevokedRefreshToken(t *testing.T) {
	f := newFixture(t)
	refresh := f.boundRefresh(t)
	require.NoError(t, f.store.BindRefreshToken(f.ctx, f.user.ID, ""))

	d := f.resolver.Resolve(f.ctx, Request{RefreshToken: refresh})
	assert.True(t, d.Session.Anonymous())
}

func TestResolve_RefreshBoundToAnotherUser(t *testing.T) {
	f := newFixture(t)
	bob, err := f.store.Register(f.ctx, credentials.Registration{Email: "bob@example.com", Password: "secret123"})
	require.NoError(t, err)

	// Ann's token, but bound to Bob.
	raw, err := f.tokens.IssueRefresh(f.user.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.BindRefreshToken(f.ctx, bob.ID, raw))

	d := f.resolver.Resolve(f.ctx, Request{RefreshToken: raw})
	assert.True(t, d.Session.Anonymous())
}

func TestResolve_ExpiredRefreshToken(t *testing.T) {
	f := newFixture(t)
	refresh := f.boundRefresh(t)

	f.clock.Advance(token.DefaultRefreshTTL)

	d := f.resolver.Resolve(f.ctx, Request{RefreshToken: refresh})
	assert.True(t, d.Session.Anonymous())
}

func TestResolve_ResetToken(t *testing.T) {
	f := newFixture(t)
	reset, err := f.tokens.IssueReset("ann@example.com")
	require.NoError(t, err)

	d := f.resolver.Resolve(f.ctx, Request{AccessToken: "stale", ResetToken: reset})

	assert.Equal(t, Session{Email: "ann@example.com", Source: SourceReset}, d.Session)
	assert.False(t, d.Session.Anonymous())
	assert.False(t, d.Session.Authenticated())
	assert.Empty(t, d.Cookies)

	f.clock.Advance(token.DefaultResetTTL)
	d = f.resolver.Resolve(f.ctx, Request{ResetToken: reset})
	assert.True(t, d.Session.Anonymous())
}

func TestSessionContext(t *testing.T) {
	assert.True(t, FromContext(context.Background()).Anonymous())

	s := Session{ID: "u-1", Email: "ann@example.com", Source: SourceAccess}
	ctx := WithSession(context.Background(), s)
	assert.Equal(t, s, FromContext(ctx))
	assert.True(t, FromContext(ctx).Authenticated())
}

func TestCookiePolicy(t *testing.T) {
	p := CookiePolicy{}

	refresh := p.Refresh("rt", 7*24*time.Hour)
	assert.Equal(t, RefreshCookie, refresh.Name)
	assert.Equal(t, "/", refresh.Path)
	assert.Equal(t, 604800, refresh.MaxAge)
	assert.False(t, refresh.Secure)

	cleared := p.Clear()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
		hc := c.HTTP()
		assert.True(t, hc.HttpOnly)
		assert.True(t, strings.HasSuffix(hc.Name, "_cookie"))
	}
}
