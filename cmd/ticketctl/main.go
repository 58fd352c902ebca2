package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/di"
	"github.com/sandeepkv93/ticket-access-service/internal/tools/adminctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	root := adminctl.NewRootCommand(func(ctx context.Context) (*di.AdminToolkit, error) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		return di.NewAdminToolkit(ctx, cfg, logger)
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
