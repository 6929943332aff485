package authgate

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-bun"

	"github.com/authgate/go-authgate/session"
)

// LoginInput carries the credentials presented at login.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult is the outcome of a successful login: the sanitized account
// and the token pair now bound to the caller's session.
type LoginResult struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// Login authenticates the credentials and binds a fresh token pair to the
// provided session record. Unknown accounts and wrong passwords produce
// the same error so callers cannot probe which emails exist.
func (e *Engine) Login(ctx context.Context, input LoginInput, sess *session.Record) (*LoginResult, error) {
	user, err := e.repo.Users().FindByEmail(ctx, input.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := e.hasher.ComparePasswordAndHash(input.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.Verified {
		if err := e.reissueVerificationIfNone(ctx, user); err != nil {
			e.logger.Warn("could not re-issue verification for %s: %v", user.Email, err)
		}
		return nil, ErrAccountNotVerified
	}

	if user.Disabled {
		return nil, ErrAccountDisabled
	}

	access, err := e.codec.SignAccess(user.ID.String(), user.Email)
	if err != nil {
		return nil, err
	}

	refresh, err := e.codec.SignRefresh(user.ID.String(), user.Email)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		e.logger.Warn("could not track login for %s: %v", user.Email, err)
	}

	if sess.ID == "" {
		id, err := session.NewID()
		if err != nil {
			return nil, err
		}
		sess.ID = id
	}

	sess.UserID = user.ID.String()
	sess.AccessToken = access
	sess.RefreshToken = refresh

	if err := e.sessions.Set(ctx, sess); err != nil {
		return nil, err
	}

	e.logger.Info("user %s logged in on session %s", user.ID, sess.ID)

	return &LoginResult{
		User:         user.Sanitize(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// reissueVerificationIfNone mails a new verification link when the prior
// token has expired. A live token is left alone so retries before expiry
// do not invalidate the link already in the user's inbox.
func (e *Engine) reissueVerificationIfNone(ctx context.Context, user *User) error {
	_, err := e.repo.PurposeTokens().Find(ctx, user.ID, PurposeVerifyUser)
	if err == nil {
		return nil
	}
	if !repository.IsRecordNotFound(err) {
		return err
	}

	secret, err := RandomSecret()
	if err != nil {
		return err
	}

	secretHash, err := e.hasher.HashPassword(secret)
	if err != nil {
		return err
	}

	if _, err := e.repo.PurposeTokens().Issue(ctx, &PurposeToken{
		UserID:     user.ID,
		Purpose:    PurposeVerifyUser,
		SecretHash: secretHash,
		ExpiresAt:  e.clock.Now().Add(e.cfg.VerifyTokenTTL),
	}); err != nil {
		return err
	}

	link := e.verificationLink(user.ID, secret)

	e.notify(ctx, Email{
		To:      user.Email,
		Subject: "Verify your account",
		Body: fmt.Sprintf(
			"<p>Your previous verification link expired.</p><p>Confirm your email address by following <a href=%q>this link</a>. The link expires in %s.</p>",
			link, e.cfg.VerifyTokenTTL,
		),
	})

	return nil
}
