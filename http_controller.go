package authgate

import (
	stderrors "errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/authgate/go-authgate/session"
)

// RegisterAuthRoutes mounts the full account surface on the given router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {
	c := NewAuthController(opts...)

	requireAuth := c.Auther.RequireAuth()
	freshLogin := c.Auther.FreshLogin()
	guestOnly := c.Auther.GuestOnly()

	app.Post(c.Routes.Register, c.Register).SetName("auth.register")
	app.Get(c.Routes.VerifyUser, c.VerifyUser).SetName("auth.verify-user")
	app.Get(c.Routes.VerifyStatus, c.VerificationStatus).SetName("auth.verify-status")

	app.Post(c.Routes.Login, c.Login, freshLogin).SetName("auth.login")
	app.Post(c.Routes.Logout, c.Logout).SetName("auth.logout")

	app.Post(c.Routes.ForgotPassword, c.ForgotPassword, guestOnly).SetName("auth.forgot-password")
	app.Get(c.Routes.ResetPassword, c.ValidateResetToken, guestOnly).SetName("auth.reset-password.get")
	app.Post(c.Routes.ResetPassword, c.ResetPassword, guestOnly).SetName("auth.reset-password.post")

	app.Get(c.Routes.Profile, c.Profile, requireAuth).SetName("account.profile.get")
	app.Patch(c.Routes.Profile, c.UpdateProfile, requireAuth).SetName("account.profile.patch")
	app.Post(c.Routes.ChangePassword, c.ChangePassword, requireAuth).SetName("account.change-password")
	app.Post(c.Routes.ChangeEmail, c.RequestEmailChange, requireAuth).SetName("account.change-email")
	app.Post(c.Routes.ConfirmEmail, c.ConfirmEmailChange, requireAuth).SetName("account.confirm-email")
	app.Delete(c.Routes.Account, c.DeleteAccount, requireAuth).SetName("account.delete")
}

type AuthControllerRoutes struct {
	Register       string
	VerifyUser     string
	VerifyStatus   string
	Login          string
	Logout         string
	ForgotPassword string
	ResetPassword  string
	Profile        string
	ChangePassword string
	ChangeEmail    string
	ConfirmEmail   string
	Account        string
}

type AuthController struct {
	Debug  bool
	Logger Logger
	Engine *Engine
	Auther *SessionAuthenticator
	Cfg    Config
	Routes *AuthControllerRoutes
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Register:       "/auth/register",
			VerifyUser:     "/auth/verify-user",
			VerifyStatus:   "/auth/verify-status",
			Login:          "/auth/login",
			Logout:         "/auth/logout",
			ForgotPassword: "/auth/forgot-password",
			ResetPassword:  "/auth/reset-password",
			Profile:        "/account/profile",
			ChangePassword: "/account/change-password",
			ChangeEmail:    "/account/change-email",
			ConfirmEmail:   "/account/confirm-email",
			Account:        "/account",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Engine == nil {
		panic("Missing Engine in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing SessionAuthenticator in auth controller...")
	}

	return c
}

func WithControllerEngine(engine *Engine) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Engine = engine
		return c
	}
}

func WithControllerAuthenticator(auther *SessionAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Cfg = cfg
		c.Debug = cfg.Debug
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// RegisterRequest payload
type RegisterRequest struct {
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone" json:"phone"`
	Gender          string `form:"gender" json:"gender"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 60)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)

	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	result, err := a.Engine.Register(ctx.Context(), RegisterInput{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		Phone:    payload.Phone,
		Gender:   payload.Gender,
	})
	if err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, map[string]any{
		"message":           "Registered. Check your email to verify the account.",
		"user":              result.User,
		"verification_link": result.VerificationLink,
	})
}

func (a *AuthController) VerifyUser(ctx router.Context) error {
	userID, err := uuid.Parse(ctx.Query("userId", ""))
	if err != nil {
		return RenderError(ctx, ErrVerifyTokenNotFound)
	}

	secret := ctx.Query("token", "")
	if secret == "" {
		return RenderError(ctx, ErrVerifyTokenNotFound)
	}

	if err := a.Engine.Verify(ctx.Context(), userID, secret); err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Account verified. You can log in now.",
	})
}

func (a *AuthController) VerificationStatus(ctx router.Context) error {
	userID, err := uuid.Parse(ctx.Query("userId", ""))
	if err != nil {
		return RenderError(ctx, ErrUserNotFound)
	}

	verified, err := a.Engine.VerificationStatus(ctx.Context(), userID)
	if err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"verified": verified,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	sess := sessionFromContext(ctx)
	if sess == nil {
		sess = &session.Record{}
	}

	result, err := a.Engine.Login(ctx.Context(), LoginInput{
		Email:    payload.Email,
		Password: payload.Password,
	}, sess)
	if err != nil {
		return RenderError(ctx, err)
	}

	a.Auther.setSessionCookie(ctx, sess.ID)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message":       "Logged in",
		"user":          result.User,
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

// Logout is not gated by RequireAuth: a caller without a live session gets
// the engine's no-active-session error, not an authentication failure.
func (a *AuthController) Logout(ctx router.Context) error {
	sess, err := a.Auther.loadSession(ctx)
	if err != nil {
		sess = nil
	}

	if err := a.Engine.Logout(ctx.Context(), sess); err != nil {
		return RenderError(ctx, err)
	}

	a.Auther.clearSessionCookie(ctx)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Logged out",
	})
}

// ForgotPasswordRequest payload
type ForgotPasswordRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)

	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	result, err := a.Engine.RequestPasswordReset(ctx.Context(), payload.Email)
	if err != nil {
		return RenderError(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= PASSWORD RESET ======")
		fmt.Println(print.MaybePrettyJSON(result))
		fmt.Println("=============================")
	}

	// Same body whether or not the email exists.
	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "If that email exists, a reset link is on its way.",
	})
}

func (a *AuthController) ValidateResetToken(ctx router.Context) error {
	userID, err := uuid.Parse(ctx.Query("userId", ""))
	if err != nil {
		return RenderError(ctx, ErrResetTokenNotFound)
	}

	secret := ctx.Query("token", "")
	if secret == "" {
		return RenderError(ctx, ErrResetTokenNotFound)
	}

	if err := a.Engine.ValidateResetToken(ctx.Context(), userID, secret); err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Reset token is valid.",
	})
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	UserID   string `form:"user_id" json:"user_id"`
	Token    string `form:"token" json:"token"`
	OTP      string `form:"otp" json:"otp"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.OTP, validation.Required, validation.Length(6, 6), is.Digit),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)

	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return RenderError(ctx, ErrResetTokenNotFound)
	}

	if err := a.Engine.ResetPassword(ctx.Context(), userID, payload.Token, payload.OTP, payload.Password); err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Password updated. Log in with the new password.",
	})
}

func (a *AuthController) Profile(ctx router.Context) error {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	user, err := a.Engine.GetProfile(ctx.Context(), userID)
	if err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"user": user,
	})
}

// UpdateProfileRequest payload. Absent fields keep their current value.
type UpdateProfileRequest struct {
	Username *string `form:"username" json:"username"`
	Avatar   *string `form:"avatar" json:"avatar"`
	Gender   *string `form:"gender" json:"gender"`
	Phone    *string `form:"phone" json:"phone"`
	DOB      *string `form:"dob" json:"dob"`
}

// Validate will run validation rules
func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Length(3, 60)),
		validation.Field(&r.Phone, validation.By(func(value any) error {
			s, ok := value.(*string)
			if !ok || s == nil {
				return nil
			}
			return ValidatePhoneNumber(*s)
		})),
		validation.Field(&r.DOB, validation.By(func(value any) error {
			s, ok := value.(*string)
			if !ok || s == nil {
				return nil
			}
			if _, err := time.Parse("2006-01-02", *s); err != nil {
				return stderrors.New("must be a date in YYYY-MM-DD format")
			}
			return nil
		})),
	)
}

func (a *AuthController) UpdateProfile(ctx router.Context) error {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	payload := new(UpdateProfileRequest)
	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	update := ProfileUpdate{
		Username: payload.Username,
		Avatar:   payload.Avatar,
		Gender:   payload.Gender,
		Phone:    payload.Phone,
	}

	if payload.DOB != nil {
		dob, err := time.Parse("2006-01-02", *payload.DOB)
		if err != nil {
			return RenderError(ctx, validationError(err))
		}
		update.DOB = &dob
	}

	user, err := a.Engine.UpdateProfile(ctx.Context(), userID, update)
	if err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Profile updated",
		"user":    user,
	})
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 72)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *AuthController) ChangePassword(ctx router.Context) error {
	claims := claimsFromContext(ctx)
	sess := sessionFromContext(ctx)
	if claims == nil || sess == nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	if err := a.Engine.ChangePassword(ctx.Context(), userID, payload.CurrentPassword, payload.NewPassword, sess.ID); err != nil {
		return RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Password changed. Other devices were logged out.",
	})
}

// ChangeEmailRequest payload
type ChangeEmailRequest struct {
	NewEmail string `form:"new_email" json:"new_email"`
}

// Validate will run validation rules
func (r ChangeEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewEmail, validation.Required, validation.Length(6, 100), is.Email),
	)
}

func (a *AuthController) RequestEmailChange(ctx router.Context) error {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	payload := new(ChangeEmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	result, err := a.Engine.RequestEmailChange(ctx.Context(), userID, payload.NewEmail)
	if err != nil {
		return RenderError(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= EMAIL CHANGE ======")
		fmt.Println(print.MaybePrettyJSON(result))
		fmt.Println("===========================")
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Confirmation sent to the new address.",
	})
}

// ConfirmEmailChangeRequest payload
type ConfirmEmailChangeRequest struct {
	Token string `form:"token" json:"token"`
}

// Validate will run validation rules
func (r ConfirmEmailChangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (a *AuthController) ConfirmEmailChange(ctx router.Context) error {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return RenderError(ctx, ErrSessionUnauthenticated)
	}

	payload := new(ConfirmEmailChangeRequest)
	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	if err := a.Engine.ConfirmEmailChange(ctx.Context(), userID, payload.Token); err != nil {
		return RenderError(ctx, err)
	}

	// The caller's session is gone along with every other one.
	a.Auther.clearSessionCookie(ctx)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Email updated. Log in again with the new address.",
	})
}

// DeleteAccountRequest payload
type DeleteAccountRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r DeleteAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) DeleteAccount(ctx router.Context) error {
	payload := new(DeleteAccountRequest)

	if err := ctx.Bind(payload); err != nil {
		return RenderError(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return RenderError(ctx, validationError(err))
	}

	if err := a.Engine.DeleteAccount(ctx.Context(), payload.Email, payload.Password); err != nil {
		return RenderError(ctx, err)
	}

	a.Auther.clearSessionCookie(ctx)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Account deleted",
	})
}

func claimsFromContext(c router.Context) *TokenClaims {
	claims, _ := c.Locals(ClaimsContextKey).(*TokenClaims)
	return claims
}

func sessionFromContext(c router.Context) *session.Record {
	sess, _ := c.Locals(SessionContextKey).(*session.Record)
	return sess
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return stderrors.New("values must match")
		}
		return nil
	}
}

// ValidatePhoneNumber accepts empty values; anything else must parse as a
// valid international number.
func ValidatePhoneNumber(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	parsed, err := phonenumbers.Parse(s, "")
	if err != nil {
		return stderrors.New("must be a phone number in international format")
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return stderrors.New("must be a valid phone number")
	}
	return nil
}

func bindError(err error) error {
	return errors.Wrap(err, errors.CategoryBadInput, "Failed to parse request body").
		WithCode(errors.CodeBadRequest)
}

func validationError(err error) error {
	var verrs validation.Errors
	if stderrors.As(err, &verrs) {
		fields := map[string]any{}
		for name, ferr := range verrs {
			fields[name] = ferr.Error()
		}
		return errors.New("Validation failed", errors.CategoryValidation).
			WithCode(errors.CodeBadRequest).
			WithMetadata(fields)
	}

	return errors.Wrap(err, errors.CategoryValidation, "Validation failed").
		WithCode(errors.CodeBadRequest)
}
