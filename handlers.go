package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/metrics"
	"github.com/example/cookieauth/internal/reset"
	"github.com/example/cookieauth/internal/resolver"
	"github.com/example/cookieauth/internal/token"
	"github.com/example/cookieauth/internal/validation"
	"github.com/gorilla/mux"
)

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// HandleRegister creates a user and starts a session for it.
// POST /users/register
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if !decode(r, &in) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	res := validation.Register(in)
	valid, ok := res.Value()
	if !ok {
		a.recordRegistration(metrics.ResultInvalid)
		writeDomainError(w, a.Log, res.Err())
		return
	}

	user, err := a.Store.Register(r.Context(), credentials.Registration{
		Email:    valid.Email,
		Username: valid.Username,
		Password: valid.Password,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrDuplicateCredential) {
			a.recordRegistration(metrics.ResultDuplicate)
		} else {
			a.recordRegistration(metrics.ResultError)
		}
		writeDomainError(w, a.Log, err)
		return
	}

	if err := a.startSession(r.Context(), w, user); err != nil {
		a.recordRegistration(metrics.ResultError)
		writeDomainError(w, a.Log, err)
		return
	}
	a.recordRegistration(metrics.ResultSuccess)
	writeJSON(w, http.StatusCreated, UserResponse{User: user.Profile()})
}

// HandleLogin authenticates by email or username and starts a session.
// POST /users/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !decode(r, &in) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	// Malformed input gets the same answer as a wrong password.
	valid, ok := validation.LoginInput(in).Value()
	if !ok {
		a.recordLogin(metrics.ResultFailure)
		writeDomainError(w, a.Log, credentials.ErrInvalidCredentials)
		return
	}

	user, err := a.Store.Authenticate(r.Context(), valid.Credential, valid.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			a.recordLogin(metrics.ResultFailure)
		} else {
			a.recordLogin(metrics.ResultError)
		}
		writeDomainError(w, a.Log, err)
		return
	}

	if err := a.startSession(r.Context(), w, user); err != nil {
		a.recordLogin(metrics.ResultError)
		writeDomainError(w, a.Log, err)
		return
	}
	a.recordLogin(metrics.ResultSuccess)
	a.Log.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, UserResponse{User: user.Profile()})
}

// startSession sets the access cookie and, when the refresh token can be
// bound, the refresh cookie. A failed bind is logged; the user still gets an
// access-only session.
func (a *App) startSession(ctx context.Context, w http.ResponseWriter, u *credentials.User) error {
	access, err := a.Tokens.IssueAccess(token.Subject{ID: u.ID, Email: u.Email, Username: u.Username})
	if err != nil {
		return err
	}
	http.SetCookie(w, a.Cookies.Access(access, a.Tokens.AccessTTL()).HTTP())

	refresh, err := a.Tokens.IssueRefresh(u.ID)
	if err != nil {
		logging.LogError(a.Log, "issue refresh token", err)
		return nil
	}
	if err := a.Store.BindRefreshToken(ctx, u.ID, refresh); err != nil {
		logging.LogError(a.Log, "bind refresh token", err)
		return nil
	}
	http.SetCookie(w, a.Cookies.Refresh(refresh, a.Tokens.RefreshTTL()).HTTP())
	return nil
}

// HandleLogout clears the session cookies and revokes the refresh token.
// POST /users/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := resolver.FromContext(ctx).ID
	if userID == "" {
		if u, err := a.Store.FindByRefreshToken(ctx, cookieValue(r, resolver.RefreshCookie)); err == nil {
			userID = u.ID
		}
	}
	if userID != "" {
		if err := a.Store.BindRefreshToken(ctx, userID, ""); err != nil && !errors.Is(err, credentials.ErrUserNotFound) {
			logging.LogError(a.Log, "revoke refresh token", err)
		}
	}

	for _, c := range a.Cookies.Clear() {
		http.SetCookie(w, c.HTTP())
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout Successful"})
}

// HandleUsers lists every user's public profile.
// GET /users
func (a *App) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Store.Users(r.Context())
	if err != nil {
		writeDomainError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleClear removes every user.
// DELETE /users
func (a *App) HandleClear(w http.ResponseWriter, r *http.Request) {
	n, err := a.Store.ClearAll(r.Context())
	if err != nil {
		writeDomainError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// HandleResetRequest mails a reset link. The response is the same whether or
// not the email is registered.
// POST /users/reset
func (a *App) HandleResetRequest(w http.ResponseWriter, r *http.Request) {
	var in resetRequest
	if !decode(r, &in) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	res := validation.Reset(in)
	valid, ok := res.Value()
	if !ok {
		writeDomainError(w, a.Log, res.Err())
		return
	}

	if err := a.Resets.Request(r.Context(), valid.Email); err != nil {
		a.recordReset(metrics.StageRequest, metrics.ResultError)
		writeDomainError(w, a.Log, err)
		return
	}
	a.recordReset(metrics.StageRequest, metrics.ResultSuccess)
	writeJSON(w, http.StatusOK, messageResponse{Message: "If the email is registered, a reset link has been sent."})
}

// HandleResetComplete sets a new password using a reset token. The old
// session is ended.
// POST /users/reset/{token}
func (a *App) HandleResetComplete(w http.ResponseWriter, r *http.Request) {
	var in newPasswordRequest
	if !decode(r, &in) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	res := validation.Password(in)
	valid, ok := res.Value()
	if !ok {
		writeDomainError(w, a.Log, res.Err())
		return
	}

	if _, err := a.Resets.Complete(r.Context(), mux.Vars(r)["token"], valid.Password); err != nil {
		switch {
		case errors.Is(err, reset.ErrResetTokenUsed):
			a.recordReset(metrics.StageComplete, metrics.ResultReplay)
		case errors.Is(err, token.ErrInvalidResetToken):
			a.recordReset(metrics.StageComplete, metrics.ResultInvalid)
		default:
			a.recordReset(metrics.StageComplete, metrics.ResultError)
		}
		writeDomainError(w, a.Log, err)
		return
	}

	a.recordReset(metrics.StageComplete, metrics.ResultSuccess)
	for _, c := range a.Cookies.Clear() {
		http.SetCookie(w, c.HTTP())
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated"})
}

// HandleHome reports the caller's session, authenticated or not.
// GET /home
func (a *App) HandleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse(resolver.FromContext(r.Context())))
}

// HandleProtected requires an access or refresh session.
// GET /home/protected
func (a *App) HandleProtected(w http.ResponseWriter, r *http.Request) {
	s := resolver.FromContext(r.Context())
	if !s.Authenticated() {
		a.Log.Info("anonymous user denied protected page")
		writeError(w, http.StatusForbidden, "FORBIDDEN", msgAccessDenied)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s))
}

// HandleNewPasswordPage is reachable only with a valid reset token.
// GET /home/newPassword/{token}
func (a *App) HandleNewPasswordPage(w http.ResponseWriter, r *http.Request) {
	s := resolver.FromContext(r.Context())
	if s.Source != resolver.SourceReset {
		a.Log.Info("new password page denied", "source", s.Source)
		writeError(w, http.StatusForbidden, "FORBIDDEN", msgAccessDenied)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": s.Email})
}

func sessionResponse(s resolver.Session) SessionResponse {
	resp := SessionResponse{Authenticated: s.Authenticated(), Source: s.Source}
	if !s.Anonymous() {
		resp.User = &s
	}
	return resp
}

func (a *App) recordLogin(result string) {
	if a.Metrics != nil {
		a.Metrics.RecordLogin(result)
	}
}

func (a *App) recordRegistration(result string) {
	if a.Metrics != nil {
		a.Metrics.RecordRegistration(result)
	}
}

func (a *App) recordReset(stage, result string) {
	if a.Metrics != nil {
		a.Metrics.RecordReset(stage, result)
	}
}
