package resolver

import (
	"net/http"
	"time"
)

const (
	AccessCookie  = "access_cookie"
	RefreshCookie = "refresh_cookie"
)

// Cookie is an instruction to set (or, with MaxAge < 0, delete) a cookie on
// the response.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// HTTP converts c for http.SetCookie.
func (c Cookie) HTTP() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		MaxAge:   c.MaxAge,
	}
}

// CookiePolicy shapes the session cookies. Secure is set in production.
type CookiePolicy struct {
	Secure bool
	Path   string
}

func (p CookiePolicy) Access(value string, ttl time.Duration) Cookie {
	return p.cookie(AccessCookie, value, ttl)
}

func (p CookiePolicy) Refresh(value string, ttl time.Duration) Cookie {
	return p.cookie(RefreshCookie, value, ttl)
}

// Clear returns instructions deleting both session cookies.
func (p CookiePolicy) Clear() []Cookie {
	access := p.cookie(AccessCookie, "", 0)
	access.MaxAge = -1
	refresh := p.cookie(RefreshCookie, "", 0)
	refresh.MaxAge = -1
	return []Cookie{access, refresh}
}

func (p CookiePolicy) cookie(name, value string, ttl time.Duration) Cookie {
	path := p.Path
	if path == "" {
		path = "/"
	}
	return Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HTTPOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl / time.Second),
	}
}
