package authgate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegisterInput carries the fields gathered at signup.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Phone    string
	Gender   string
}

// RegisterResult is what the signup flow hands back: the stored account
// with credentials stripped, plus the verification link also delivered
// over email.
type RegisterResult struct {
	User             *User
	VerificationLink string
}

// Register creates an unverified account and issues its verification
// token, atomically. The caller gets the link back so UIs can surface it;
// the same link goes out by email.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	email := NormalizeIdentifier(input.Email)
	username := NormalizeIdentifier(input.Username)

	hash, err := e.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	secret, err := RandomSecret()
	if err != nil {
		return nil, err
	}

	secretHash, err := e.hasher.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	var user *User
	err = e.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, err := e.repo.Users().FindByEmailOrUsernameTx(ctx, tx, email, username)
		if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}
		if existing != nil {
			return ErrIdentityTaken.Clone().WithMetadata(map[string]any{
				"email":    email,
				"username": username,
			})
		}

		user, err = e.repo.Users().RegisterTx(ctx, tx, &User{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Phone:        input.Phone,
			Gender:       input.Gender,
		})
		if err != nil {
			return err
		}

		_, err = e.repo.PurposeTokens().IssueTx(ctx, tx, &PurposeToken{
			UserID:     user.ID,
			Purpose:    PurposeVerifyUser,
			SecretHash: secretHash,
			ExpiresAt:  e.clock.Now().Add(e.cfg.VerifyTokenTTL),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	link := e.verificationLink(user.ID, secret)

	e.notify(ctx, Email{
		To:      user.Email,
		Subject: "Verify your account",
		Body: fmt.Sprintf(
			"<p>Welcome, %s.</p><p>Confirm your email address by following <a href=%q>this link</a>. The link expires in %s.</p>",
			user.Username, link, e.cfg.VerifyTokenTTL,
		),
	})

	return &RegisterResult{
		User:             user.Sanitize(),
		VerificationLink: link,
	}, nil
}

// Verify consumes a verification token and marks the account verified.
// Success is terminal: the token is gone and a replay reports not found.
func (e *Engine) Verify(ctx context.Context, userID uuid.UUID, secret string) error {
	token, err := e.repo.PurposeTokens().Find(ctx, userID, PurposeVerifyUser)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrVerifyTokenNotFound
		}
		return err
	}

	if err := e.hasher.ComparePasswordAndHash(secret, token.SecretHash); err != nil {
		return ErrVerifyTokenMismatch
	}

	return e.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Partial updates need the PK populated or WherePK matches nothing.
		_, err := e.repo.Users().UpdateTx(ctx, tx, &User{ID: userID, Verified: true}, repository.UpdateByID(userID.String()))
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		return e.repo.PurposeTokens().ConsumeTx(ctx, tx, token.ID)
	})
}

// VerificationStatus reports whether the account has confirmed its email.
func (e *Engine) VerificationStatus(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := e.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	return user.Verified, nil
}

func (e *Engine) verificationLink(userID uuid.UUID, secret string) string {
	return fmt.Sprintf("%s/auth/verify-user?token=%s&userId=%s", e.cfg.ClientURL, secret, userID)
}
