package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadCounterOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordLoad counts config loads by profile and failure class. The counter is
// created lazily so it binds to whichever meter provider is installed first.
func recordLoad(ctx context.Context, profile string, err error) {
	loadCounterOnce.Do(func() {
		c, cerr := otel.Meter("ticket-access-service/config").Int64Counter("config.validation.events",
			metric.WithDescription("Configuration loads by outcome"))
		if cerr == nil {
			loadCounter = c
		}
	})
	if loadCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", loadErrorClass(err)),
	))
}

func profileLabel(profile string) string {
	if p := strings.ToLower(strings.TrimSpace(profile)); p != "" {
		return p
	}
	return "unknown"
}

func loadErrorClass(err error) string {
	var perr *ParseError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalid):
		return "validation"
	case errors.As(err, &perr):
		return "parse"
	default:
		return "load"
	}
}
