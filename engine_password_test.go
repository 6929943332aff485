package authgate_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	authgate "github.com/authgate/go-authgate"
)

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	f := newEngineFixture(t)

	f.repo.users.On("FindByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.NewRecordNotFound()).Once()

	result, err := f.engine.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, result.ResetLink)
	assert.Equal(t, uuid.Nil, result.UserID)

	// No token, no mail: nothing distinguishes this from success upstream.
	f.repo.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.mail.count())
}

func TestRequestPasswordResetIssuesLinkAndOTP(t *testing.T) {
	f := newEngineFixture(t)

	user := verifiedUser(t, "jane@example.com", "secret-password")

	f.repo.users.On("FindByEmail", mock.Anything, "jane@example.com").
		Return(user, nil).Once()

	var issued *authgate.PurposeToken
	f.repo.tokens.On("Issue", mock.Anything, mock.MatchedBy(func(tok *authgate.PurposeToken) bool {
		issued = tok
		return tok.UserID == user.ID &&
			tok.Purpose == authgate.PurposeResetPassword &&
			tok.SecretHash != "" &&
			tok.OTPHash != "" &&
			tok.ExpiresAt.Equal(f.clock.Now().Add(30*time.Minute))
	})).Return(&authgate.PurposeToken{}, nil).Once()

	result, err := f.engine.RequestPasswordReset(context.Background(), "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, user.ID, result.UserID)
	assert.Contains(t, result.ResetLink, "https://app.example.com/auth/reset-password?token=")
	assert.Contains(t, result.ResetLink, "userId="+user.ID.String())

	require.Equal(t, 1, f.mail.count())
	msg := f.mail.last()
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Contains(t, msg.Body, result.ResetLink)

	// Secret and OTP are stored hashed, never verbatim.
	assert.NotContains(t, result.ResetLink, issued.SecretHash)
	assert.NotContains(t, msg.Body, issued.OTPHash)

	f.repo.AssertExpectations(t)
}

func TestValidateResetToken(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	hasher := authgate.NewBcryptHasher(4)

	secret, err := authgate.RandomSecret()
	require.NoError(t, err)
	secretHash, err := hasher.HashPassword(secret)
	require.NoError(t, err)

	token := &authgate.PurposeToken{ID: uuid.New(), UserID: userID, SecretHash: secretHash}

	f.repo.tokens.On("Find", mock.Anything, userID, authgate.PurposeResetPassword).
		Return(token, nil).Twice()

	assert.NoError(t, f.engine.ValidateResetToken(ctx, userID, secret))

	// Wrong secret reads as a dead link, not a distinct failure.
	err = f.engine.ValidateResetToken(ctx, userID, "wrong-secret")
	assert.ErrorIs(t, err, authgate.ErrResetTokenNotFound)

	f.repo.tokens.On("Find", mock.Anything, userID, authgate.PurposeResetPassword).
		Return(nil, repository.NewRecordNotFound()).Once()

	err = f.engine.ValidateResetToken(ctx, userID, secret)
	assert.ErrorIs(t, err, authgate.ErrResetTokenNotFound)
}

func TestResetPasswordHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	tokenID := uuid.New()
	hasher := authgate.NewBcryptHasher(4)

	secret, err := authgate.RandomSecret()
	require.NoError(t, err)
	secretHash, err := hasher.HashPassword(secret)
	require.NoError(t, err)

	otp := "123456"
	otpHash, err := hasher.HashPassword(otp)
	require.NoError(t, err)

	f.repo.tokens.On("Find", mock.Anything, userID, authgate.PurposeResetPassword).
		Return(&authgate.PurposeToken{
			ID:         tokenID,
			UserID:     userID,
			SecretHash: secretHash,
			OTPHash:    otpHash,
		}, nil).Once()

	f.repo.users.On("UpdatePasswordTx", mock.Anything, mock.Anything, userID,
		mock.MatchedBy(func(hash string) bool { return hash != "" && hash != "new-password" }),
		mock.Anything).Return(nil).Once()

	f.repo.tokens.On("ConsumeTx", mock.Anything, mock.Anything, tokenID).
		Return(nil).Once()

	require.NoError(t, f.engine.ResetPassword(ctx, userID, secret, otp, "new-password"))
	f.repo.AssertExpectations(t)
}

func TestResetPasswordRejectsWrongOTP(t *testing.T) {
	f := newEngineFixture(t)

	userID := uuid.New()
	hasher := authgate.NewBcryptHasher(4)

	secret, err := authgate.RandomSecret()
	require.NoError(t, err)
	secretHash, err := hasher.HashPassword(secret)
	require.NoError(t, err)
	otpHash, err := hasher.HashPassword("123456")
	require.NoError(t, err)

	f.repo.tokens.On("Find", mock.Anything, userID, authgate.PurposeResetPassword).
		Return(&authgate.PurposeToken{
			ID:         uuid.New(),
			UserID:     userID,
			SecretHash: secretHash,
			OTPHash:    otpHash,
		}, nil).Once()

	err = f.engine.ResetPassword(context.Background(), userID, secret, "654321", "new-password")
	assert.ErrorIs(t, err, authgate.ErrResetProofMismatch)

	f.repo.users.AssertNotCalled(t, "UpdatePasswordTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.repo.tokens.AssertNotCalled(t, "ConsumeTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetPasswordInvalidatesAllSessions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	tokenID := uuid.New()
	hasher := authgate.NewBcryptHasher(4)

	secret, err := authgate.RandomSecret()
	require.NoError(t, err)
	secretHash, err := hasher.HashPassword(secret)
	require.NoError(t, err)
	otpHash, err := hasher.HashPassword("123456")
	require.NoError(t, err)

	f.authenticatedSessionForUser(t, userID.String())
	f.authenticatedSessionForUser(t, userID.String())
	require.Equal(t, 2, f.sessions.count())

	f.repo.tokens.On("Find", mock.Anything, userID, authgate.PurposeResetPassword).
		Return(&authgate.PurposeToken{
			ID:         tokenID,
			UserID:     userID,
			SecretHash: secretHash,
			OTPHash:    otpHash,
		}, nil).Once()
	f.repo.users.On("UpdatePasswordTx", mock.Anything, mock.Anything, userID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.repo.tokens.On("ConsumeTx", mock.Anything, mock.Anything, tokenID).
		Return(nil).Once()

	require.NoError(t, f.engine.ResetPassword(ctx, userID, secret, "123456", "new-password"))
	assert.Equal(t, 0, f.sessions.count())
}

func TestChangePassword(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	user := verifiedUser(t, "jane@example.com", "current-password")

	current := f.authenticatedSessionForUser(t, user.ID.String())
	other := f.authenticatedSessionForUser(t, user.ID.String())

	f.repo.users.On("GetByID", mock.Anything, user.ID.String()).
		Return(user, nil).Once()
	f.repo.users.On("UpdatePassword", mock.Anything, user.ID, mock.Anything, mock.Anything).
		Return(nil).Once()

	err := f.engine.ChangePassword(ctx, user.ID, "current-password", "brand-new-password", current.ID)
	require.NoError(t, err)

	// Current device stays, the other one is logged out.
	_, err = f.sessions.Get(ctx, current.ID)
	assert.NoError(t, err)
	_, err = f.sessions.Get(ctx, other.ID)
	assert.Error(t, err)

	f.repo.AssertExpectations(t)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newEngineFixture(t)

	user := verifiedUser(t, "jane@example.com", "current-password")

	f.repo.users.On("GetByID", mock.Anything, user.ID.String()).
		Return(user, nil).Once()

	err := f.engine.ChangePassword(context.Background(), user.ID, "not-current", "brand-new-password", "s1")
	assert.ErrorIs(t, err, authgate.ErrPasswordIncorrect)

	f.repo.users.AssertNotCalled(t, "UpdatePassword",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePasswordRejectsUnchanged(t *testing.T) {
	f := newEngineFixture(t)

	user := verifiedUser(t, "jane@example.com", "current-password")

	f.repo.users.On("GetByID", mock.Anything, user.ID.String()).
		Return(user, nil).Once()

	err := f.engine.ChangePassword(context.Background(), user.ID, "current-password", "current-password", "s1")
	assert.ErrorIs(t, err, authgate.ErrPasswordUnchanged)
}
