package authgate

import (
	"context"
	"fmt"

	"github.com/authgate/go-authgate/session"
)

// Logger is the minimal logging surface every component accepts.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionStore is the server-side session contract the engine consumes.
// Implementations key records by an opaque, unguessable id and maintain a
// secondary index by user id for bulk invalidation.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Record, error)
	Set(ctx context.Context, rec *session.Record) error
	Destroy(ctx context.Context, id string) error
	DestroyAllForUser(ctx context.Context, userID string, except ...string) error
}

// Email is one outbound notification.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Notifier is the fire-and-forget side channel for verification, reset,
// and change-email mail. Implementations never surface failures to the
// triggering state transition.
type Notifier interface {
	Notify(ctx context.Context, msg Email)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Email) {}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
