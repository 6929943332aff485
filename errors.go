package authgate

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

// Text codes surfaced to API clients alongside the HTTP status.
const (
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeRefreshRejected    = "REFRESH_REJECTED"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeNotVerified        = "ACCOUNT_NOT_VERIFIED"
	TextCodeDisabled           = "ACCOUNT_DISABLED"
	TextCodeIdentityTaken      = "IDENTITY_TAKEN"
	TextCodeNotAllowed         = "NOT_ALLOWED"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeHashMismatch       = "HASH_MISMATCH"
)

// ErrInvalidCredentials covers both "no such user" and "wrong password".
// The two cases must stay indistinguishable to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryNotFound).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeNotFound)

// ErrAccountNotVerified rejects logins before email verification.
var ErrAccountNotVerified = errors.New("please verify first to login, a verification link has been sent to your email", errors.CategoryAuthz).
	WithTextCode(TextCodeNotVerified).
	WithCode(errors.CodeForbidden)

// ErrAccountDisabled rejects logins for administratively disabled accounts.
var ErrAccountDisabled = errors.New("account disabled, please contact admin", errors.CategoryAuthz).
	WithTextCode(TextCodeDisabled).
	WithCode(errors.CodeForbidden)

// ErrIdentityTaken reports a duplicate email or username.
var ErrIdentityTaken = errors.New("email or username already registered", errors.CategoryConflict).
	WithTextCode(TextCodeIdentityTaken).
	WithCode(errors.CodeConflict)

// ErrTokenExpired is returned when a signed token's expiry has lapsed.
var ErrTokenExpired = errors.New("token has expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed covers every signature or format mismatch that is not
// a plain expiry.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrRefreshRejected means the refresh token could not repair an expired
// access token; the session is gone by the time the caller sees this.
var ErrRefreshRejected = errors.New("invalid or expired refresh token", errors.CategoryAuth).
	WithTextCode(TextCodeRefreshRejected).
	WithCode(errors.CodeUnauthorized)

// ErrSessionUnauthenticated is returned when a request arrives without a
// complete access/refresh pair in its session.
var ErrSessionUnauthenticated = errors.New("unauthorized access", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrNoActiveSession rejects logout without a live session.
var ErrNoActiveSession = errors.New("login first to logout", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrVerifyTokenNotFound is returned when no live verification token exists.
var ErrVerifyTokenNotFound = errors.New("verify token expired, please login again to get a verification link", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrVerifyTokenMismatch is returned when the presented secret does not
// match the stored hash.
var ErrVerifyTokenMismatch = errors.New("invalid verification token", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrResetTokenNotFound covers a missing or expired password reset token.
var ErrResetTokenNotFound = errors.New("invalid or expired password reset token", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrResetProofMismatch is returned when the reset secret or the OTP does
// not match. Deliberately the same status class as a missing token.
var ErrResetProofMismatch = errors.New("invalid otp or token does not match", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrChangeEmailTokenNotFound covers a missing, expired, or mismatched
// change-email token.
var ErrChangeEmailTokenNotFound = errors.New("change email token expired or invalid", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrPasswordIncorrect rejects an authenticated operation whose password
// proof failed.
var ErrPasswordIncorrect = errors.New("password is incorrect", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrPasswordUnchanged rejects a password change where old and new match.
var ErrPasswordUnchanged = errors.New("new password must differ from the current password", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrUserNotFound is the generic missing-user failure for flows that are
// allowed to reveal existence (verification status, profile operations).
var ErrUserNotFound = errors.New("no user found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrResetNotAllowed blocks password reset flows for logged-in callers.
var ErrResetNotAllowed = errors.New("logged in user is not allowed to do this operation", errors.CategoryAuthz).
	WithTextCode(TextCodeNotAllowed)

// ErrNoEmptyString rejects empty secrets before they reach bcrypt.
var ErrNoEmptyString = errors.New("value must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the hasher's constant failure for any
// plaintext that does not match the stored hash.
var ErrMismatchedHashAndPassword = errors.New("hashed value does not match", errors.CategoryValidation).
	WithTextCode(TextCodeHashMismatch).
	WithCode(errors.CodeBadRequest)

// HTTPStatus maps a failure to a response status using a fixed table over
// category and text code. The boundary never inspects message text.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var rich *errors.Error
	if !errors.As(err, &rich) {
		return http.StatusInternalServerError
	}

	if rich.TextCode == TextCodeNotAllowed {
		return http.StatusMethodNotAllowed
	}

	if rich.Code != 0 {
		return rich.Code
	}

	switch rich.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var rich *errors.Error
	return errors.As(err, &rich) && rich.TextCode == TextCodeTokenExpired
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	var rich *errors.Error
	return errors.As(err, &rich) && rich.TextCode == TextCodeTokenMalformed
}
