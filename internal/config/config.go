package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the bot.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	Version       string `env:"VERSION" envDefault:"dev"`
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	// BotToken is the legacy variable name, used when TELEGRAM_TOKEN is unset.
	BotToken    string `env:"BOT_TOKEN"`
	Debug       bool   `env:"BOT_DEBUG" envDefault:"false"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"points_bot.db"`

	AdminUsernames []string `env:"ADMIN_USERNAMES" envDefault:"tsed15" envSeparator:","`
	AdminIDs       []int64  `env:"ADMIN_IDS" envSeparator:","`

	LeaderboardLimit   int    `env:"LEADERBOARD_LIMIT" envDefault:"10"`
	DefaultLanguage    string `env:"DEFAULT_LANGUAGE" envDefault:"ru"`
	RateLimitPerSecond int    `env:"RATE_LIMIT_PER_SECOND" envDefault:"20"`
	SentryDSN          string `env:"SENTRY_DSN"`

	DigestCron    string  `env:"DIGEST_CRON"`
	DigestChatIDs []int64 `env:"DIGEST_CHAT_IDS" envSeparator:","`
}

// Load reads configuration from a .env file (when present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[info] no .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = strings.TrimSpace(cfg.BotToken)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.AdminUsernames = cleanUsernames(cfg.AdminUsernames)

	if cfg.LeaderboardLimit <= 0 {
		cfg.LeaderboardLimit = 10
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DigestCron != "" && len(cfg.DigestChatIDs) == 0 {
		return cfg, fmt.Errorf("DIGEST_CHAT_IDS is required when DIGEST_CRON is set")
	}

	return cfg, nil
}

func cleanUsernames(names []string) []string {
	out := names[:0]
	for _, name := range names {
		name = strings.TrimPrefix(strings.TrimSpace(name), "@")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
