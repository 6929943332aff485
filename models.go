package authgate

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

// RoleUser is the only role the system assigns today.
const RoleUser UserRole = "USER"

// User is the user model
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username          string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email             string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash      string     `bun:"password_hash,notnull" json:"-"`
	Role              UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Verified          bool       `bun:"is_verified" json:"is_verified"`
	Disabled          bool       `bun:"is_disabled" json:"is_disabled,omitempty"`
	Avatar            string     `bun:"avatar" json:"avatar,omitempty"`
	Gender            string     `bun:"gender" json:"gender,omitempty"`
	Phone             string     `bun:"phone_number" json:"phone_number,omitempty"`
	DOB               *time.Time `bun:"dob,nullzero" json:"dob,omitempty"`
	LastLoggedInAt    *time.Time `bun:"last_loggedin_at,nullzero" json:"last_loggedin_at,omitempty"`
	PasswordUpdatedAt *time.Time `bun:"password_updated_at,nullzero" json:"password_updated_at,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Sanitize returns a copy of the record with credentials stripped, safe to
// hand to callers and serializers.
func (u *User) Sanitize() *User {
	if u == nil {
		return nil
	}
	copied := *u
	copied.PasswordHash = ""
	return &copied
}

// TokenPurpose scopes a persisted secret to exactly one flow.
type TokenPurpose = string

const (
	// PurposeVerifyUser gates account verification after registration.
	PurposeVerifyUser TokenPurpose = "VERIFY_USER"
	// PurposeResetPassword gates the OTP-based password reset.
	PurposeResetPassword TokenPurpose = "RESET_PASSWORD"
	// PurposeResetEmail gates the signed change-email confirmation.
	PurposeResetEmail TokenPurpose = "RESET_EMAIL"
)

// PurposeToken is a persisted, single-use, auto-expiring secret. At most one
// live token exists per (user, purpose) pair; issuing a new one replaces the
// prior one.
type PurposeToken struct {
	bun.BaseModel `bun:"table:purpose_tokens,alias:ptk"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID    `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	SecretHash    string       `bun:"secret_hash,notnull" json:"-"`
	OTPHash       string       `bun:"otp_hash" json:"-"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token is past its expiry at the given instant.
// Callers must treat an expired-but-not-yet-swept record as absent.
func (t *PurposeToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// NormalizeIdentifier lowercases and trims an email or username the way the
// store expects them.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
