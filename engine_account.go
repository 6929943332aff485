package authgate

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// ProfileUpdate carries the mutable profile fields. Nil means leave the
// field alone.
type ProfileUpdate struct {
	Username *string
	Avatar   *string
	Gender   *string
	Phone    *string
	DOB      *time.Time
}

// UpdateProfile applies a partial profile update. A username move checks
// availability first; credentials and email are out of scope here, they
// have their own flows.
func (e *Engine) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*User, error) {
	user, err := e.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if update.Username != nil {
		username := NormalizeIdentifier(*update.Username)
		if username != user.Username {
			taken, err := e.repo.Users().FindByUsernameExcluding(ctx, username, userID)
			if err != nil && !repository.IsRecordNotFound(err) {
				return nil, err
			}
			if taken != nil {
				return nil, ErrIdentityTaken.Clone().WithMetadata(map[string]any{
					"username": username,
				})
			}
		}
		user.Username = username
	}

	if update.Phone != nil && *update.Phone != "" {
		normalized, err := normalizePhone(*update.Phone)
		if err != nil {
			return nil, err
		}
		user.Phone = normalized
	}

	if update.Avatar != nil {
		user.Avatar = *update.Avatar
	}

	if update.Gender != nil {
		user.Gender = *update.Gender
	}

	if update.DOB != nil {
		user.DOB = update.DOB
	}

	updated, err := e.repo.Users().Update(ctx, user, repository.UpdateByID(userID.String()))
	if err != nil {
		return nil, err
	}

	return updated.Sanitize(), nil
}

// DeleteAccount removes the account after re-proving the password, then
// destroys every session it holds. The email becomes free immediately.
func (e *Engine) DeleteAccount(ctx context.Context, email, password string) error {
	user, err := e.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}

	if err := e.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return ErrPasswordIncorrect
	}

	err = e.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := e.repo.Users().DeleteByIDTx(ctx, tx, user.ID); err != nil {
			return err
		}
		return e.repo.PurposeTokens().DeleteForUser(ctx, tx, user.ID)
	})
	if err != nil {
		return err
	}

	if err := e.sessions.DestroyAllForUser(ctx, user.ID.String()); err != nil {
		e.logger.Warn("could not invalidate sessions for deleted user %s: %v", user.ID, err)
	}

	e.logger.Info("user %s deleted their account", user.ID)

	return nil
}

// GetProfile returns the sanitized account for an authenticated caller.
func (e *Engine) GetProfile(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := e.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user.Sanitize(), nil
}

func normalizePhone(raw string) (string, error) {
	parsed, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryValidation, "invalid phone number").
			WithCode(errors.CodeBadRequest)
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", errors.New("invalid phone number", errors.CategoryValidation).
			WithCode(errors.CodeBadRequest)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
