package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bowerhall/tally/internal/alerts"
	"github.com/bowerhall/tally/internal/bot"
	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/config"
	"github.com/bowerhall/tally/internal/intake"
	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/ledger/mongostore"
	"github.com/bowerhall/tally/internal/ledger/sqlitestore"
	"github.com/bowerhall/tally/internal/llm"
	"github.com/bowerhall/tally/internal/logger"
	"github.com/bowerhall/tally/internal/metrics"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/progress"
	"github.com/bowerhall/tally/internal/prompts"
	"github.com/bowerhall/tally/internal/review"
	"github.com/bowerhall/tally/internal/session"
	"github.com/bowerhall/tally/internal/similarity"
	"github.com/bowerhall/tally/internal/storage"
	"github.com/bowerhall/tally/internal/summary"
	"github.com/bowerhall/tally/internal/webhook"
)

func init() {
	godotenv.Load()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Store, error) {
	if cfg.Driver == "mongo" {
		return mongostore.Open(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	}
	return sqlitestore.Open(cfg.SQLitePath)
}

// openBlobs returns nil when object storage is disabled, which makes intake
// refuse photos.
func openBlobs(ctx context.Context, cfg config.StorageConfig) (intake.BlobStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint:   cfg.Endpoint,
		AccessKey:  cfg.AccessKey,
		SecretKey:  cfg.SecretKey,
		UseSSL:     cfg.UseSSL,
		Bucket:     cfg.Bucket,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		return nil, err
	}

	if err := client.Init(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open ledger", "driver", cfg.Store.Driver, "error", err)
	}
	defer store.Close()

	blobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to init object storage", "error", err)
	}
	if blobs == nil {
		logger.Warn("object storage disabled, photo evidence will be refused")
	}

	catalogue, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		logger.Fatal("failed to load prompts", "error", err)
	}

	model, err := llm.New(llm.Config{
		Provider:  cfg.Oracle.Provider,
		APIKey:    cfg.Oracle.APIKey,
		Model:     cfg.Oracle.Model,
		BaseURL:   cfg.Oracle.BaseURL,
		MaxTokens: cfg.Oracle.MaxTokens,
		JSONMode:  true,
	})
	if err != nil {
		logger.Fatal("failed to create llm", "error", err)
	}

	judge := oracle.New(model, oracle.Config{
		SystemPrompt: catalogue.System(),
		Retry:        oracle.RetryPolicy{MaxAttempts: cfg.Oracle.MaxAttempts, Delay: cfg.Oracle.RetryDelay},
		RateLimit:    cfg.Oracle.RateLimit,
	})

	sessions := session.NewStore()
	refresher := summary.NewRefresher(store)

	// notifyBot is set once the bots exist; earlier alerts only log
	var notifyBot bot.Bot
	var alerter *alerts.Alerter
	if cfg.OperatorChatID != 0 {
		alerter = alerts.New(func(message string) {
			if notifyBot == nil {
				return
			}
			if err := notifyBot.Send(context.Background(), cfg.OperatorChatID, message); err != nil {
				logger.Error("alert delivery failed", "error", err)
			}
		}, time.Hour)
		logger.Info("error alerting enabled", "chatID", cfg.OperatorChatID)
	} else {
		alerter = alerts.New(nil, time.Hour)
	}

	deps := intake.Deps{
		Store:    store,
		Oracle:   judge,
		Blobs:    blobs,
		Prompts:  catalogue,
		Summary:  refresher,
		Sessions: sessions,
		Alerts:   alerter,
	}
	if hook := webhook.New(cfg.WebhookURL); hook != nil {
		deps.Webhook = hook
	}

	reconciler := intake.New(deps, intake.Config{
		AcceptThreshold: cfg.Intake.AcceptThreshold,
		ContextWindow:   cfg.Intake.ContextWindow,
		Matcher:         similarity.New(cfg.Intake.SimilarityThreshold),
		Location:        cfg.Location(),
	})

	handlers := bot.Handlers{
		Intake:   reconciler,
		Reporter: progress.New(store, judge, catalogue, cfg.Intake.ContextWindow),
	}

	var bots []bot.Bot

	if cfg.Bots.TelegramToken != "" {
		b, err := bot.NewTelegram(cfg.Bots.TelegramToken, handlers)
		if err != nil {
			logger.Fatal("failed to create telegram bot", "error", err)
		}
		bots = append(bots, b)
	}

	if cfg.Bots.DiscordToken != "" {
		b, err := bot.NewDiscord(cfg.Bots.DiscordToken, handlers)
		if err != nil {
			logger.Fatal("failed to create discord bot", "error", err)
		}
		bots = append(bots, b)
	}

	if len(bots) == 0 {
		logger.Fatal("no bot providers enabled, set TELEGRAM_TOKEN or DISCORD_TOKEN")
	}

	// operator alerts and users with no recorded transport use the first bot
	notifyBot = bots[0]

	router := chat.NewSwitch(notifyBot)
	for _, b := range bots {
		router.Register(b.Name(), b)
	}

	for _, b := range bots {
		go func(b bot.Bot) {
			if err := b.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("bot stopped", "bot", b.Name(), "error", err)
				alerter.Critical(b.Name(), "bot stopped", err)
			}
		}(b)
	}

	reviewer := review.New(review.Deps{
		Store:    store,
		Oracle:   judge,
		Prompts:  catalogue,
		Summary:  refresher,
		Sessions: sessions,
	}, review.Config{
		Window:      cfg.Review.Window,
		Concurrency: cfg.Review.Concurrency,
	})

	scheduler, err := review.NewScheduler(reviewer, router, cfg.Review.Schedule, cfg.Location(), alerter)
	if err != nil {
		logger.Fatal("failed to create review scheduler", "error", err)
	}
	go scheduler.Run(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("tally started",
		"bots", len(bots),
		"store", cfg.Store.Driver,
		"oracle", cfg.Oracle.Provider,
		"schedule", cfg.Review.Schedule,
		"timezone", cfg.Timezone,
	)

	<-ctx.Done()
	logger.Info("shutting down")
}
