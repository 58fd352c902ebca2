package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/di"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lp, err := observability.InitLogs(ctx, cfg)
	if err != nil {
		slog.Error("init log export", "error", err)
		return 1
	}
	logger := observability.NewLogger(cfg, os.Stdout, lp)
	slog.SetDefault(logger)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.AppEnv,
			SampleRate:       cfg.SentrySampleRate,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			logger.Info("sentry enabled")
		}
	}

	a, err := di.InitializeApp(ctx, cfg, logger, lp)
	if err != nil {
		logger.Error("initialize app", "error", err)
		return 1
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("app stopped with error", "error", err)
		return 1
	}
	return 0
}
