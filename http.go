package authgate

import (
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	"github.com/authgate/go-authgate/session"
)

// Context locals set by the session middleware.
const (
	ClaimsContextKey  = "auth_claims"
	SessionContextKey = "auth_session"
)

// SessionAuthenticator is the HTTP-facing session layer: it resolves the
// session cookie against the store, asks the engine to authenticate the
// session, and exposes the result through context locals.
type SessionAuthenticator struct {
	engine   *Engine
	sessions SessionStore
	cfg      Config
	Logger   Logger
}

// NewSessionAuthenticator wires the middleware layer.
func NewSessionAuthenticator(engine *Engine, sessions SessionStore, cfg Config) *SessionAuthenticator {
	return &SessionAuthenticator{
		engine:   engine,
		sessions: sessions,
		cfg:      cfg,
		Logger:   defLogger{},
	}
}

// RequireAuth admits only callers with a live authenticated session. On
// success the token claims and session record are stored in locals; on
// failure the cookie is cleared and the mapped error returned.
func (a *SessionAuthenticator) RequireAuth() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			sess, err := a.loadSession(c)
			if err != nil {
				a.clearSessionCookie(c)
				return RenderError(c, ErrSessionUnauthenticated)
			}

			claims, err := a.engine.Authenticate(c.Context(), sess)
			if err != nil {
				a.clearSessionCookie(c)
				return RenderError(c, err)
			}

			// The access token may have been rotated during Authenticate;
			// refresh the cookie so its lifetime tracks the session's.
			a.setSessionCookie(c, sess.ID)

			c.Locals(ClaimsContextKey, claims)
			c.Locals(SessionContextKey, sess)

			return hf(c)
		}
	}
}

// FreshLogin forces login handlers to start from a clean session: an
// authenticated caller gets its session destroyed and a new identifier
// minted, so credentials are never bound to a pre-login session id.
func (a *SessionAuthenticator) FreshLogin() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			sess, err := a.loadSession(c)
			if err != nil {
				sess = &session.Record{}
			}

			fresh, err := a.engine.RegenerateSession(c.Context(), sess)
			if err != nil {
				return RenderError(c, err)
			}

			c.Locals(SessionContextKey, fresh)

			return hf(c)
		}
	}
}

// GuestOnly rejects callers that already hold an authenticated session.
// The password-reset entry points sit behind this guard.
func (a *SessionAuthenticator) GuestOnly() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			sess, err := a.loadSession(c)
			if err != nil {
				return hf(c)
			}

			if err := a.engine.CanResetPassword(c.Context(), sess); err != nil {
				return RenderError(c, err)
			}

			return hf(c)
		}
	}
}

func (a *SessionAuthenticator) loadSession(c router.Context) (*session.Record, error) {
	id := c.Cookies(a.cfg.SessionCookieName)
	if id == "" {
		return nil, session.ErrNotFound
	}

	return a.sessions.Get(c.Context(), id)
}

func (a *SessionAuthenticator) setSessionCookie(c router.Context, id string) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.SessionCookieName,
		Value:    id,
		Expires:  time.Now().Add(a.cfg.SessionTTL),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *SessionAuthenticator) clearSessionCookie(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.SessionCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// RenderError maps an error onto the wire shape used by every endpoint.
func RenderError(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	return c.JSON(HTTPStatus(richErr), map[string]any{
		"error": map[string]any{
			"message":   richErr.Message,
			"text_code": richErr.TextCode,
		},
	})
}
