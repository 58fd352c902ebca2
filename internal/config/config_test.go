package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file::memory:?cache=shared")
	t.Setenv("JWT_ACCESS_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	t.Setenv("REFRESH_TOKEN_PEPPER", "abcdefghijklmnopqrstuvwxyz654321")
}

func TestFromEnvDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl %s", cfg.RefreshTokenTTL)
	}
	if cfg.PasswordResetTTL != 15*time.Minute {
		t.Fatalf("unexpected reset ttl %s", cfg.PasswordResetTTL)
	}
	if cfg.DailyGenericLimit != 50 {
		t.Fatalf("unexpected daily generic limit %d", cfg.DailyGenericLimit)
	}
	if cfg.SessionRetention != 30*24*time.Hour {
		t.Fatalf("unexpected retention %s", cfg.SessionRetention)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "14")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("COOKIE_SAMESITE", "strict")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.RefreshTokenTTL != 14*24*time.Hour {
		t.Fatalf("unexpected refresh ttl %s", cfg.RefreshTokenTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestFromEnvErrors(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{name: "bad duration", env: map[string]string{"JWT_ACCESS_TTL": "soon"}, wantSub: "parse JWT_ACCESS_TTL"},
		{name: "bad bool", env: map[string]string{"COOKIE_SECURE": "maybe"}, wantSub: "parse COOKIE_SECURE"},
		{name: "short secret", env: map[string]string{"JWT_ACCESS_SECRET": "short"}, wantSub: "JWT_ACCESS_SECRET must be at least"},
		{name: "same secret and pepper", env: map[string]string{"REFRESH_TOKEN_PEPPER": "abcdefghijklmnopqrstuvwxyz123456"}, wantSub: "must differ"},
		{name: "unknown driver", env: map[string]string{"DB_DRIVER": "oracle"}, wantSub: "DB_DRIVER"},
		{name: "samesite none insecure", env: map[string]string{"COOKIE_SAMESITE": "none", "COOKIE_SECURE": "false"}, wantSub: "requires COOKIE_SECURE"},
		{name: "redis limiter without redis", env: map[string]string{"RATE_LIMIT_REDIS_ENABLED": "true"}, wantSub: "requires REDIS_ENABLED"},
		{name: "refresh shorter than access", env: map[string]string{"JWT_ACCESS_TTL": "200h", "REFRESH_TOKEN_TTL_DAYS": "1"}, wantSub: "must outlive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected %q in %q", tc.wantSub, err.Error())
			}
		})
	}
}

func TestValidationErrorsClassifyAsValidation(t *testing.T) {
	setValidEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "")

	_, err := FromEnv()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if got := loadErrorClass(err); got != "validation" {
		t.Fatalf("expected validation class, got %q (err=%v)", got, err)
	}
}

func TestIsProduction(t *testing.T) {
	if !(&Config{AppEnv: "Production"}).IsProduction() {
		t.Fatal("expected production")
	}
	if (&Config{AppEnv: "dev"}).IsProduction() {
		t.Fatal("expected non-production")
	}
}
