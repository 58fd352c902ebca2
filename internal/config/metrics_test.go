package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func TestLoadErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "none"},
		{name: "validation", err: fmt.Errorf("%w: %w", ErrInvalid, errors.New("DATABASE_URL is required")), want: "validation"},
		{name: "parse", err: &ParseError{Key: "JWT_ACCESS_TTL", Err: errors.New("bad")}, want: "parse"},
		{name: "wrapped parse", err: fmt.Errorf("boot: %w", &ParseError{Key: "REDIS_DB", Err: strconv.ErrSyntax}), want: "parse"},
		{name: "dotenv", err: errors.New("load .env: permission denied"), want: "load"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := loadErrorClass(tc.err); got != tc.want {
				t.Fatalf("loadErrorClass()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestParseErrorFromEnv(t *testing.T) {
	setValidEnv(t)
	t.Setenv("REDIS_DB", "zero")

	_, err := FromEnv()
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Key != "REDIS_DB" || !errors.Is(err, strconv.ErrSyntax) {
		t.Fatalf("expected REDIS_DB parse error, got %v", err)
	}
}

func TestProfileLabel(t *testing.T) {
	for raw, want := range map[string]string{"  Staging ": "staging", "": "unknown", "\t": "unknown"} {
		if got := profileLabel(raw); got != want {
			t.Fatalf("profileLabel(%q)=%q want %q", raw, got, want)
		}
	}
}

func TestRecordLoadWithoutProvider(t *testing.T) {
	// The global noop meter must accept records without panicking.
	recordLoad(context.Background(), "test", nil)
	recordLoad(context.Background(), "test", ErrInvalid)
}
