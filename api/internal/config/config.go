package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
)

type Config struct {
	Port string

	DatabaseURL string

	GeminiAPIKey string
	// Model tiers: pro handles the final diagnosis, flash the identification and
	// expert passes, flash-lite the cheap auxiliary calls.
	ProModel       string
	FlashModel     string
	FlashLiteModel string

	TelegramBotToken string
	WebhookURL       string
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8000"),

		DatabaseURL: ResolveDSN(),

		GeminiAPIKey:   mustEnv("GEMINI_API_KEY"),
		ProModel:       getEnv("GEMINI_PRO_MODEL", "gemini-2.5-pro"),
		FlashModel:     getEnv("GEMINI_FLASH_MODEL", "gemini-2.5-flash"),
		FlashLiteModel: getEnv("GEMINI_FLASH_LITE_MODEL", "gemini-2.5-flash-lite"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// ResolveDSN builds the Postgres DSN from DATABASE_URL, falling back to the
// individual POSTGRES_* variables. Empty result means "run without persistence".
func ResolveDSN() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		return ""
	}
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "postgres")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := getEnv("POSTGRES_DB", "postgres")
	ssl := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   "/" + db,
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

// SafeDSNSummary renders the DSN for logs with the password removed.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "invalid DSN"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
