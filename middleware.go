package main

import (
	"net/http"
	"time"

	"github.com/example/cookieauth/internal/resolver"
	"github.com/gorilla/mux"
)

// Authenticate resolves the caller's session from the session cookies and an
// optional reset token (path variable or query parameter "token"), writes any
// cookies the resolution produced, and stores the session in the request
// context. It never rejects a request.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := resolver.Request{
			AccessToken:  cookieValue(r, resolver.AccessCookie),
			RefreshToken: cookieValue(r, resolver.RefreshCookie),
			ResetToken:   mux.Vars(r)["token"],
		}
		if req.ResetToken == "" {
			req.ResetToken = r.URL.Query().Get("token")
		}

		d := a.Resolver.Resolve(r.Context(), req)
		for _, c := range d.Cookies {
			http.SetCookie(w, c.HTTP())
		}

		ctx := resolver.WithSession(r.Context(), d.Session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		a.Log.Info("request",
			"method", r.Method,
			"route", route,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", duration,
		)
		if a.Metrics != nil {
			a.Metrics.RecordHTTP(r.Method, route, wrapped.statusCode, duration)
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
