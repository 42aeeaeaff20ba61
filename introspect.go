package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/token"
)

// HandleTokenIntrospect reports whether a token is currently usable and what
// it carries. Refresh tokens are active only while bound to their user.
// POST /users/introspect
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	writeJSON(w, http.StatusOK, a.introspect(r, req.Token))
}

func (a *App) introspect(r *http.Request, raw string) TokenInfo {
	if claims, err := a.Tokens.VerifyAccess(raw); err == nil {
		return tokenInfo(claims)
	}
	if claims, err := a.Tokens.VerifyRefresh(raw); err == nil {
		u, err := a.Store.FindByRefreshToken(r.Context(), raw)
		if err == nil && u.ID == claims.UserID {
			return tokenInfo(claims)
		}
		return TokenInfo{Active: false}
	}
	if claims, err := a.Tokens.VerifyReset(raw); err == nil {
		return tokenInfo(claims)
	}
	return TokenInfo{Active: false}
}

func tokenInfo(c *token.Claims) TokenInfo {
	info := TokenInfo{
		Active:   true,
		Kind:     string(c.Kind),
		UserID:   c.UserID,
		Email:    c.Email,
		Username: c.Username,
	}
	if c.IssuedAt != nil {
		iat := c.IssuedAt.Unix()
		info.IssuedAt = &iat
	}
	if c.ExpiresAt != nil {
		exp := c.ExpiresAt.Unix()
		info.ExpiresAt = &exp
	}
	return info
}

// HandleTokenValidate checks an access token passed as a Bearer header or the
// "token" query parameter.
// GET /users/validate
func (a *App) HandleTokenValidate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	claims, err := a.Tokens.VerifyAccess(raw)
	if err != nil {
		writeDomainError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenInfo(claims))
}

// HandleRevokeToken unbinds a refresh token from its user.
// POST /users/revoke
func (a *App) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	u, err := a.Store.FindByRefreshToken(r.Context(), req.Token)
	if errors.Is(err, credentials.ErrUserNotFound) {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Token not found or already revoked")
		return
	}
	if err == nil {
		err = a.Store.BindRefreshToken(r.Context(), u.ID, "")
	}
	if err != nil {
		writeDomainError(w, a.Log, err)
		return
	}

	a.Log.Info("refresh token revoked", "user_id", u.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
