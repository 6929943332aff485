package authgate

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenClaims is the payload carried by access and refresh tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

// ChangeEmailClaims is the payload carried by the change-email token.
type ChangeEmailClaims struct {
	jwt.RegisteredClaims
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// Codec signs and verifies the three token classes. Each class has its own
// secret and expiry so a leaked secret only compromises one class, and an
// expired access token with a live refresh token stays the designed common
// case rather than an ambiguity.
type Codec struct {
	accessSecret      []byte
	refreshSecret     []byte
	changeEmailSecret []byte

	accessTTL      time.Duration
	refreshTTL     time.Duration
	changeEmailTTL time.Duration

	issuer string
	clock  Clock
	logger Logger
}

// NewCodec creates a Codec from configuration.
func NewCodec(cfg Config) *Codec {
	return &Codec{
		accessSecret:      []byte(cfg.AccessSecret),
		refreshSecret:     []byte(cfg.RefreshSecret),
		changeEmailSecret: []byte(cfg.ChangeEmailSecret),
		accessTTL:         cfg.AccessTokenTTL,
		refreshTTL:        cfg.RefreshTokenTTL,
		changeEmailTTL:    cfg.ChangeEmailTokenTTL,
		issuer:            cfg.Issuer,
		clock:             SystemClock,
		logger:            defLogger{},
	}
}

// WithClock overrides the clock used for issuance and expiry checks.
func (c *Codec) WithClock(clock Clock) *Codec {
	if clock != nil {
		c.clock = clock
	}
	return c
}

func (c *Codec) WithLogger(logger Logger) *Codec {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// SignAccess mints a short-lived access token for the user.
func (c *Codec) SignAccess(userID, email string) (string, error) {
	return c.sign(c.tokenClaims(userID, email, c.accessTTL), c.accessSecret)
}

// SignRefresh mints the longer-lived refresh token for the user.
func (c *Codec) SignRefresh(userID, email string) (string, error) {
	return c.sign(c.tokenClaims(userID, email, c.refreshTTL), c.refreshSecret)
}

// SignChangeEmail mints the token that authorizes moving an account from
// one address to another.
func (c *Codec) SignChangeEmail(userID, fromEmail, toEmail string) (string, error) {
	now := c.clock.Now()
	claims := &ChangeEmailClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.changeEmailTTL)),
		},
		FromEmail: fromEmail,
		ToEmail:   toEmail,
	}
	return c.sign(claims, c.changeEmailSecret)
}

// VerifyAccess parses and validates an access token.
func (c *Codec) VerifyAccess(token string) (*TokenClaims, error) {
	return c.verifyTokenClaims(token, c.accessSecret)
}

// VerifyRefresh parses and validates a refresh token.
func (c *Codec) VerifyRefresh(token string) (*TokenClaims, error) {
	return c.verifyTokenClaims(token, c.refreshSecret)
}

// VerifyChangeEmail parses and validates a change-email token.
func (c *Codec) VerifyChangeEmail(token string) (*ChangeEmailClaims, error) {
	claims := &ChangeEmailClaims{}
	if err := c.verify(token, c.changeEmailSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) tokenClaims(userID, email string, ttl time.Duration) *TokenClaims {
	now := c.clock.Now()
	return &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Email:  email,
	}
}

func (c *Codec) sign(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

func (c *Codec) verifyTokenClaims(token string, secret []byte) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if err := c.verify(token, secret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) verify(raw string, secret []byte, claims jwt.Claims) error {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(c.clock.Now),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if !token.Valid {
		return ErrTokenMalformed
	}

	return nil
}
