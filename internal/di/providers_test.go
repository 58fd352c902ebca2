package di

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                       "test",
		HTTPAddr:                     "127.0.0.1:0",
		DBDriver:                     "sqlite",
		DatabaseURL:                  "file:di_" + t.Name() + "?mode=memory&cache=shared",
		DBAutoMigrate:                true,
		JWTIssuer:                    "iss",
		JWTAudience:                  "aud",
		JWTAccessSecret:              "abcdefghijklmnopqrstuvwxyz123456",
		RefreshTokenPepper:           "pepper-abcdefghijklmnopqrstuvwxyz",
		AccessTokenTTL:               15 * time.Minute,
		RefreshTokenTTL:              24 * time.Hour,
		PasswordResetTTL:             15 * time.Minute,
		BcryptCost:                   4,
		CookieSameSite:               "lax",
		APIRateLimitRPM:              100,
		AuthRateLimitRPM:             100,
		PasswordForgotRateLimitRPM:   100,
		IdentityCacheEnabled:         true,
		IdentityCacheTTL:             time.Minute,
		AdminListCacheTTL:            time.Minute,
		IdempotencyTTL:               time.Hour,
		DailyGenericLimit:            10,
		SessionCleanupInterval:       time.Hour,
		SessionRetention:             24 * time.Hour,
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvidersFallBackToMemoryWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	client, err := provideRedis(context.Background(), cfg, discardLogger())
	if err != nil || client != nil {
		t.Fatalf("expected nil client when redis disabled, got %v %v", client, err)
	}
	if _, ok := provideAbuseGuard(cfg, nil).(*service.InMemoryAuthAbuseGuard); !ok {
		t.Fatal("expected in-memory abuse guard")
	}
	if _, ok := provideUnknownCodeCache(nil).(*service.MemoryUnknownCodeCache); !ok {
		t.Fatal("expected in-memory unknown code cache")
	}
	if _, ok := provideAdminListCache(nil).(*service.InMemoryAdminListCacheStore); !ok {
		t.Fatal("expected in-memory admin list cache")
	}
	if _, ok := provideIdempotencyStore(nil).(*service.InMemoryIdempotencyStore); !ok {
		t.Fatal("expected in-memory idempotency store")
	}
}

func TestProvidersUseRedisWhenConnected(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = mr.Addr()
	cfg.RateLimitRedisEnabled = true

	client, err := provideRedis(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("provide redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, ok := provideAbuseGuard(cfg, client).(*service.RedisAuthAbuseGuard); !ok {
		t.Fatal("expected redis abuse guard")
	}
	if _, ok := provideIdempotencyStore(client).(*service.RedisIdempotencyStore); !ok {
		t.Fatal("expected redis idempotency store")
	}
	dep := provideRouterDependencies(cfg, client, nil, nil, nil, nil, nil, provideJWTManager(cfg), nil, provideIdempotencyStore(client), nil)
	if dep.GlobalRateLimiter == nil || dep.AuthRateLimiter == nil || dep.ForgotRateLimiter == nil {
		t.Fatal("expected redis-backed limiters when shared rate limiting is enabled")
	}
}

func TestProvideRedisFailsWhenUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := provideRedis(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestProvidePublisherFansOutOnlyWithAMQP(t *testing.T) {
	broker := events.NewBroker(1)
	if pub := providePublisher(broker, nil); pub != events.Publisher(broker) {
		t.Fatal("expected broker alone when amqp disabled")
	}
}

func TestProvideClosersOrdersBackingStores(t *testing.T) {
	cfg := testConfig(t)
	db, err := provideDB(cfg, discardLogger())
	if err != nil {
		t.Fatalf("provide db: %v", err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	closers := provideClosers(db, client, nil)
	if len(closers) != 2 {
		t.Fatalf("expected redis and db closers, got %d", len(closers))
	}
	for _, c := range closers {
		if err := c(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if err := client.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("expected redis client closed, got %v", err)
	}
}

func TestInitializeAppServesHealth(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := InitializeApp(ctx, cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer a.StopBackgroundTasks()

	rr := httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected route, got %d", rr.Code)
	}
}
