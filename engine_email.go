package authgate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EmailChangeRequest is the outcome of starting an email change. The
// confirmation link lands in the NEW mailbox so the change proves control
// of the address being claimed.
type EmailChangeRequest struct {
	ConfirmLink string
}

// RequestEmailChange signs a short-lived token binding the current and
// requested addresses, stores its digest, and mails a confirmation link
// to the new address.
func (e *Engine) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) (*EmailChangeRequest, error) {
	user, err := e.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	newEmail = NormalizeIdentifier(newEmail)

	if existing, err := e.repo.Users().FindByEmail(ctx, newEmail); err == nil && existing != nil {
		return nil, ErrIdentityTaken.Clone().WithMetadata(map[string]any{
			"email": newEmail,
		})
	} else if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}

	token, err := e.codec.SignChangeEmail(user.ID.String(), user.Email, newEmail)
	if err != nil {
		return nil, err
	}

	// JWTs outgrow bcrypt's input limit, so the stored proof is a digest.
	if _, err := e.repo.PurposeTokens().Issue(ctx, &PurposeToken{
		UserID:     user.ID,
		Purpose:    PurposeResetEmail,
		SecretHash: DigestToken(token),
		ExpiresAt:  e.clock.Now().Add(e.cfg.ChangeEmailTokenTTL),
	}); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/auth/confirm-email-change?token=%s", e.cfg.ClientURL, token)

	e.notify(ctx, Email{
		To:      newEmail,
		Subject: "Confirm your new email address",
		Body: fmt.Sprintf(
			"<p>Confirm this address for your account by following <a href=%q>this link</a>. The link expires in %s.</p><p>If you did not ask for this, ignore this email.</p>",
			link, e.cfg.ChangeEmailTokenTTL,
		),
	})

	return &EmailChangeRequest{ConfirmLink: link}, nil
}

// ConfirmEmailChange validates the signed token against the stored digest
// and swaps the address. Every session for the account is destroyed,
// including the caller's, so the next login uses the new email.
func (e *Engine) ConfirmEmailChange(ctx context.Context, userID uuid.UUID, rawToken string) error {
	token, err := e.repo.PurposeTokens().Find(ctx, userID, PurposeResetEmail)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrChangeEmailTokenNotFound
		}
		return err
	}

	if DigestToken(rawToken) != token.SecretHash {
		return ErrChangeEmailTokenNotFound
	}

	claims, err := e.codec.VerifyChangeEmail(rawToken)
	if err != nil {
		return ErrChangeEmailTokenNotFound
	}

	if claims.Subject != userID.String() {
		return ErrChangeEmailTokenNotFound
	}

	err = e.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := e.repo.Users().UpdateEmailTx(ctx, tx, userID, claims.ToEmail); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		return e.repo.PurposeTokens().ConsumeTx(ctx, tx, token.ID)
	})
	if err != nil {
		return err
	}

	if err := e.sessions.DestroyAllForUser(ctx, userID.String()); err != nil {
		e.logger.Warn("could not invalidate sessions for %s after email change: %v", userID, err)
	}

	e.logger.Info("user %s changed email address", userID)

	return nil
}
