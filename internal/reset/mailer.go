package reset

import (
	"context"
	"log/slog"

	"github.com/example/cookieauth/internal/logging"
)

// Message is a password reset notification.
type Message struct {
	To    string
	Token string
	Link  string
}

// Mailer delivers reset messages.
type Mailer interface {
	SendReset(ctx context.Context, msg Message) error
}

// LogMailer writes reset links to the log instead of sending mail. It is
// meant for development.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{log: logging.OrDiscard(logger)}
}

func (m *LogMailer) SendReset(ctx context.Context, msg Message) error {
	m.log.InfoContext(ctx, "password reset link issued", "to", msg.To, "link", msg.Link)
	return nil
}
