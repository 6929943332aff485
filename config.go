package authgate

import (
	"os"
	"strconv"
	"time"
)

// Config carries every knob the auth components need. It is built once at
// process start and handed to constructors by value; nothing reads the
// environment after LoadConfig returns.
type Config struct {
	HTTPAddr  string
	ClientURL string
	Debug     bool

	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Issuer            string
	AccessSecret      string
	RefreshSecret     string
	ChangeEmailSecret string

	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	ChangeEmailTokenTTL time.Duration

	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	SweepInterval  time.Duration

	SessionTTL        time.Duration
	SessionCookieName string

	BcryptCost int

	SMTPAddr      string
	SMTPHost      string
	SMTPFrom      string
	SMTPUsername  string
	SMTPPassword  string
	MailQueueSize int
}

// LoadConfig reads the environment, falling back to development defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  getenv("HTTP_ADDR", ":3000"),
		ClientURL: getenv("CLIENT_URL", "http://localhost:3000"),
		Debug:     getenvBool("DEBUG", false),

		SQLiteDSN:     getenv("SQLITE_DSN", "file:authgate.db?cache=shared"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Issuer:            getenv("JWT_ISSUER", "authgate"),
		AccessSecret:      getenv("JWT_ACCESS_SECRET", ""),
		RefreshSecret:     getenv("JWT_REFRESH_SECRET", ""),
		ChangeEmailSecret: getenv("JWT_CHANGE_EMAIL_SECRET", ""),

		AccessTokenTTL:      getenvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL:     getenvDuration("JWT_REFRESH_TTL", 24*time.Hour),
		ChangeEmailTokenTTL: getenvDuration("JWT_CHANGE_EMAIL_TTL", 15*time.Minute),

		VerifyTokenTTL: getenvDuration("VERIFY_TOKEN_TTL", 24*time.Hour),
		ResetTokenTTL:  getenvDuration("RESET_TOKEN_TTL", 30*time.Minute),
		SweepInterval:  getenvDuration("TOKEN_SWEEP_INTERVAL", 5*time.Minute),

		SessionTTL:        getenvDuration("SESSION_TTL", 15*time.Minute),
		SessionCookieName: getenv("SESSION_COOKIE", "sid"),

		BcryptCost: getenvInt("BCRYPT_COST", 12),

		SMTPAddr:      getenv("SMTP_ADDR", "127.0.0.1:1025"),
		SMTPHost:      getenv("SMTP_HOST", "127.0.0.1"),
		SMTPFrom:      getenv("SMTP_FROM", "no-reply@authgate.local"),
		SMTPUsername:  getenv("SMTP_USERNAME", ""),
		SMTPPassword:  getenv("SMTP_PASSWORD", ""),
		MailQueueSize: getenvInt("MAIL_QUEUE_SIZE", 128),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
