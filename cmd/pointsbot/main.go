package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"points-bot/internal/access"
	"points-bot/internal/bot"
	"points-bot/internal/config"
	"points-bot/internal/locales"
	"points-bot/internal/repository"
	"points-bot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.AppEnv,
			Release:     cfg.Version,
		}); err != nil {
			log.Printf("sentry init: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	store := repository.NewStore(db)
	defer store.Close()

	texts, err := locales.New(cfg.DefaultLanguage)
	if err != nil {
		log.Fatalf("locales: %v", err)
	}

	policy := access.NewAdminPolicy(cfg.AdminUsernames, cfg.AdminIDs)
	scores := service.NewScoreService(store, policy)

	telegramBot, err := bot.New(&cfg, scores, texts)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	if cfg.DigestCron != "" {
		scheduler := service.NewSchedulerService(time.Local)
		if _, err := scheduler.Schedule(cfg.DigestCron, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := telegramBot.SendLeaderboardDigest(jobCtx, cfg.DigestChatIDs); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("digest: %v", err)
				sentry.CaptureException(err)
			}
		}); err != nil {
			log.Fatalf("schedule digest: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("[info] leaderboard digest scheduled: %s", cfg.DigestCron)
	}

	log.Println("Points bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
