package authgate

import (
	"context"

	"github.com/authgate/go-authgate/session"
)

// Engine implements the account and session flows over the repositories,
// the token codec, and the session store.
type Engine struct {
	repo     RepositoryManager
	sessions SessionStore
	codec    *Codec
	hasher   PasswordAuthenticator
	mail     Notifier
	clock    Clock
	logger   Logger
	cfg      Config
}

// NewEngine wires an Engine with default collaborators. Use the With*
// chainers to replace them.
func NewEngine(cfg Config, repo RepositoryManager, sessions SessionStore) *Engine {
	return &Engine{
		repo:     repo,
		sessions: sessions,
		codec:    NewCodec(cfg),
		hasher:   NewBcryptHasher(cfg.BcryptCost),
		mail:     &noopNotifier{},
		clock:    SystemClock,
		logger:   &defLogger{},
		cfg:      cfg,
	}
}

func (e *Engine) WithCodec(c *Codec) *Engine {
	if c != nil {
		e.codec = c
	}
	return e
}

func (e *Engine) WithHasher(h PasswordAuthenticator) *Engine {
	if h != nil {
		e.hasher = h
	}
	return e
}

func (e *Engine) WithNotifier(n Notifier) *Engine {
	if n != nil {
		e.mail = n
	}
	return e
}

func (e *Engine) WithClock(c Clock) *Engine {
	if c != nil {
		e.clock = c
	}
	return e
}

func (e *Engine) WithLogger(l Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// Authenticate resolves the session's access token to claims, silently
// rotating the access token off the refresh token when it has expired.
// Rejections destroy the backing session so the client starts clean.
func (e *Engine) Authenticate(ctx context.Context, sess *session.Record) (*TokenClaims, error) {
	if sess == nil || !sess.Authenticated() {
		return nil, ErrSessionUnauthenticated
	}

	claims, err := e.codec.VerifyAccess(sess.AccessToken)
	if err == nil {
		return claims, nil
	}

	if !IsTokenExpiredError(err) {
		e.destroySession(ctx, sess.ID)
		return nil, err
	}

	refreshed, err := e.codec.VerifyRefresh(sess.RefreshToken)
	if err != nil {
		e.destroySession(ctx, sess.ID)
		if IsTokenExpiredError(err) || IsMalformedError(err) {
			return nil, ErrRefreshRejected
		}
		return nil, err
	}

	access, err := e.codec.SignAccess(refreshed.UserID, refreshed.Email)
	if err != nil {
		return nil, err
	}

	// Rotate the access token in place; the refresh token and the session
	// identifier are untouched.
	sess.AccessToken = access
	if err := e.sessions.Set(ctx, sess); err != nil {
		return nil, err
	}

	e.logger.Debug("rotated access token for user %s on session %s", refreshed.UserID, sess.ID)

	return e.codec.VerifyAccess(access)
}

// Logout destroys the caller's session. A session that never completed a
// login has nothing to log out of.
func (e *Engine) Logout(ctx context.Context, sess *session.Record) error {
	if sess == nil || !sess.Authenticated() {
		return ErrNoActiveSession
	}
	return e.sessions.Destroy(ctx, sess.ID)
}

// RegenerateSession discards a stale session identifier and returns a
// fresh empty record. Login on an already-authenticated session goes
// through here so the old identifier cannot be replayed.
func (e *Engine) RegenerateSession(ctx context.Context, sess *session.Record) (*session.Record, error) {
	if sess != nil && sess.ID != "" {
		if err := e.sessions.Destroy(ctx, sess.ID); err != nil {
			return nil, err
		}
	}

	id, err := session.NewID()
	if err != nil {
		return nil, err
	}

	return &session.Record{ID: id}, nil
}

// CanResetPassword rejects password-reset entry points for callers that
// already hold an authenticated session. They change passwords through
// the account surface instead.
func (e *Engine) CanResetPassword(ctx context.Context, sess *session.Record) error {
	if sess == nil || !sess.Authenticated() {
		return nil
	}

	if _, err := e.Authenticate(ctx, sess); err != nil {
		// The session could not prove itself, treat the caller as a guest.
		return nil
	}

	return ErrResetNotAllowed
}

func (e *Engine) destroySession(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := e.sessions.Destroy(ctx, id); err != nil {
		e.logger.Warn("failed to destroy session %s: %v", id, err)
	}
}

// notify dispatches mail without surfacing delivery errors to the flow.
func (e *Engine) notify(ctx context.Context, msg Email) {
	e.mail.Notify(ctx, msg)
}
