package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port int

	DBURL string

	// signing secret must come from the environment, never from source
	JWTSecret         string
	SessionTTLHours   int
	ResetTokenTTLMins int

	// first-admin bootstrap
	AdminEmail    string
	AdminPassword string
	AdminName     string
	AdminRole     string

	// outbound mail
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	MailFrom      string
	ResetLinkBase string

	// redis (rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthRateLimit  int
	AuthRateWindow time.Duration

	UploadDir     string
	PublicBaseURL string

	CORSOrigins []string

	OTLPEndpoint string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)

	return Config{
		Env:   env,
		Port:  port,
		DBURL: buildDBURL(),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		SessionTTLHours:   getEnvInt("SESSION_TTL_HOURS", 5),
		ResetTokenTTLMins: getEnvInt("RESET_TOKEN_TTL_MINUTES", 60),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),

		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		MailFrom:      getEnv("MAIL_FROM", "no-reply@userdeck.local"),
		ResetLinkBase: getEnv("RESET_LINK_BASE", "http://localhost:3001/reset-password"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuthRateLimit:  getEnvInt("AUTH_RATE_LIMIT", 10),
		AuthRateWindow: time.Duration(getEnvInt("AUTH_RATE_WINDOW_SECONDS", 60)) * time.Second,

		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		CORSOrigins: []string{getEnv("CORS_ORIGIN", "http://localhost:3001")},

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
	}
}

// Validate rejects configurations that must not reach production.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		if c.Env == "dev" || c.Env == "test" {
			return nil
		}
		return fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", c.Env)
	}
	return nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "userdeck")
	pass := getEnv("DB_PASSWORD", "userdeck")
	name := getEnv("DB_NAME", "userdeck")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}
