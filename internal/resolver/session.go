package resolver

import "context"

// Source records which step of resolution produced a session.
type Source string

const (
	SourceAnonymous Source = "anonymous"
	SourceAccess    Source = "access"
	SourceRefresh   Source = "refresh"
	SourceReset     Source = "reset"
)

// Session is the identity attached to one request. A reset session carries
// only the email; an anonymous session carries nothing.
type Session struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Source   Source `json:"-"`
}

// Anonymous reports whether no identity was resolved.
func (s Session) Anonymous() bool {
	return s.Source == "" || s.Source == SourceAnonymous
}

// Authenticated reports whether the session identifies a user through an
// access or refresh token. Reset sessions only prove control of an email.
func (s Session) Authenticated() bool {
	return s.Source == SourceAccess || s.Source == SourceRefresh
}

type sessionContextKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session attached to ctx, or an anonymous session.
func FromContext(ctx context.Context) Session {
	if ctx == nil {
		return Session{Source: SourceAnonymous}
	}
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok {
		return Session{Source: SourceAnonymous}
	}
	return s
}
