package authgate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResetRequest is the outcome of a forgot-password call. For an
// unknown email it is returned empty, indistinguishable from success to
// the HTTP surface.
type PasswordResetRequest struct {
	UserID    uuid.UUID
	ResetLink string
	ExpiresAt time.Time
}

// RequestPasswordReset issues a reset token made of a link secret plus a
// 6-digit OTP, both mailed to the account. Unknown emails are silently
// accepted so the endpoint cannot be used to enumerate accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*PasswordResetRequest, error) {
	user, err := e.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			e.logger.Debug("password reset requested for unknown email")
			return &PasswordResetRequest{}, nil
		}
		return nil, err
	}

	secret, err := RandomSecret()
	if err != nil {
		return nil, err
	}

	otp, err := GenerateOTP()
	if err != nil {
		return nil, err
	}

	secretHash, err := e.hasher.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	otpHash, err := e.hasher.HashPassword(otp)
	if err != nil {
		return nil, err
	}

	expiresAt := e.clock.Now().Add(e.cfg.ResetTokenTTL)

	if _, err := e.repo.PurposeTokens().Issue(ctx, &PurposeToken{
		UserID:     user.ID,
		Purpose:    PurposeResetPassword,
		SecretHash: secretHash,
		OTPHash:    otpHash,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/auth/reset-password?token=%s&userId=%s", e.cfg.ClientURL, secret, user.ID)

	e.notify(ctx, Email{
		To:      user.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"<p>Follow <a href=%q>this link</a> and enter the code <strong>%s</strong> to choose a new password.</p><p>The link and code expire in %s. If you did not ask for this, ignore this email.</p>",
			link, otp, e.cfg.ResetTokenTTL,
		),
	})

	return &PasswordResetRequest{
		UserID:    user.ID,
		ResetLink: link,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateResetToken checks the link secret without consuming anything,
// so UIs can reject a dead link before asking for the new password.
func (e *Engine) ValidateResetToken(ctx context.Context, userID uuid.UUID, secret string) error {
	token, err := e.repo.PurposeTokens().Find(ctx, userID, PurposeResetPassword)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrResetTokenNotFound
		}
		return err
	}

	if err := e.hasher.ComparePasswordAndHash(secret, token.SecretHash); err != nil {
		return ErrResetTokenNotFound
	}

	return nil
}

// ResetPassword finalizes the reset: both the link secret and the OTP
// must match, then the password is replaced and the token consumed so it
// cannot be replayed.
func (e *Engine) ResetPassword(ctx context.Context, userID uuid.UUID, secret, otp, newPassword string) error {
	token, err := e.repo.PurposeTokens().Find(ctx, userID, PurposeResetPassword)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrResetTokenNotFound
		}
		return err
	}

	if err := e.hasher.ComparePasswordAndHash(secret, token.SecretHash); err != nil {
		return ErrResetProofMismatch
	}

	if err := e.hasher.ComparePasswordAndHash(otp, token.OTPHash); err != nil {
		return ErrResetProofMismatch
	}

	hash, err := e.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = e.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := e.repo.Users().UpdatePasswordTx(ctx, tx, userID, hash, e.clock.Now()); err != nil {
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

	// Every session minted against the old password is now stale.
	if err := e.sessions.DestroyAllForUser(ctx, userID.String()); err != nil {
		e.logger.Warn("could not invalidate sessions for %s after reset: %v", userID, err)
	}

	return nil
}

// ChangePassword replaces the password for an authenticated caller and
// logs out every other device. The caller's own session stays alive.
func (e *Engine) ChangePassword(ctx context.Context, userID uuid.UUID, current, next, currentSessionID string) error {
	user, err := e.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}

	if err := e.hasher.ComparePasswordAndHash(current, user.PasswordHash); err != nil {
		return ErrPasswordIncorrect
	}

	if err := e.hasher.ComparePasswordAndHash(next, user.PasswordHash); err == nil {
		return ErrPasswordUnchanged
	}

	hash, err := e.hasher.HashPassword(next)
	if err != nil {
		return err
	}

	if err := e.repo.Users().UpdatePassword(ctx, userID, hash, e.clock.Now()); err != nil {
		return err
	}

	if err := e.sessions.DestroyAllForUser(ctx, userID.String(), currentSessionID); err != nil {
		e.logger.Warn("could not invalidate sessions for %s after password change: %v", userID, err)
	}

	return nil
}
