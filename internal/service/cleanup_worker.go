package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

type CleanupReport struct {
	Sessions    int64
	ResetTokens int64
}

// CleanupWorker periodically deletes refresh sessions and reset tokens that
// expired before now minus the retention window.
type CleanupWorker struct {
	sessions  repository.SessionRepository
	resets    repository.PasswordResetRepository
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewCleanupWorker(sessions repository.SessionRepository, resets repository.PasswordResetRepository, interval, retention time.Duration, logger *slog.Logger) *CleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupWorker{
		sessions:  sessions,
		resets:    resets,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *CleanupWorker) RunOnce(ctx context.Context) (CleanupReport, error) {
	cutoff := w.now().Add(-w.retention)
	var (
		report CleanupReport
		errs   []error
	)
	n, err := w.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	report.Sessions = n
	observability.RecordCleanup(ctx, "sessions", n)

	n, err = w.resets.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	report.ResetTokens = n
	observability.RecordCleanup(ctx, "password_reset_tokens", n)
	return report, errors.Join(errs...)
}

// Start runs the worker until ctx is done or Stop is called.
func (w *CleanupWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				report, err := w.RunOnce(ctx)
				if err != nil {
					w.logger.ErrorContext(ctx, "cleanup run failed", "error", err)
					continue
				}
				if report.Sessions > 0 || report.ResetTokens > 0 {
					w.logger.InfoContext(ctx, "cleanup run finished", "sessions", report.Sessions, "reset_tokens", report.ResetTokens)
				}
			}
		}
	}()
}

// Stop is safe to call more than once and waits for a started loop to exit.
func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *CleanupWorker) Wait() { <-w.done }
