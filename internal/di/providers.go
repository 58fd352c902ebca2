package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/app"
	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/database"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/health"
	"github.com/sandeepkv93/ticket-access-service/internal/http/handler"
	"github.com/sandeepkv93/ticket-access-service/internal/http/middleware"
	"github.com/sandeepkv93/ticket-access-service/internal/http/router"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

const (
	redisPrefixIdentity    = "tas:identity"
	redisPrefixNegative    = "tas:negative"
	redisPrefixAdminList   = "tas:admin_list"
	redisPrefixIdempotency = "tas:idem"
	redisPrefixAbuse       = "tas:abuse"
	redisPrefixRateLimit   = "tas:rl"
)

func provideObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// provideRedis returns nil when redis is disabled; every redis-backed store
// has an in-memory fallback.
func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)
	return client, nil
}

func provideBroker() *events.Broker {
	return events.NewBroker(0)
}

func provideAMQPPublisher(cfg *config.Config, logger *slog.Logger) (*events.AMQPPublisher, error) {
	if !cfg.AMQPEnabled {
		return nil, nil
	}
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
}

func providePublisher(broker *events.Broker, amqpPub *events.AMQPPublisher) events.Publisher {
	if amqpPub == nil {
		return broker
	}
	return events.Fanout(broker, amqpPub)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideCookieConfig(cfg *config.Config) security.CookieConfig {
	sameSite, _ := security.ParseSameSite(cfg.CookieSameSite)
	return security.CookieConfig{
		Path:     "/api/v1/auth",
		Domain:   cfg.CookieDomain,
		Secure:   cfg.CookieSecure,
		SameSite: sameSite,
		MaxAge:   cfg.RefreshTokenTTL,
	}
}

func provideIdentityResolver(cfg *config.Config, client redis.UniversalClient, users repository.UserRepository) *service.IdentityResolver {
	var store service.IdentityCacheStore
	switch {
	case !cfg.IdentityCacheEnabled:
		store = service.NewNoopIdentityCacheStore()
	case client != nil:
		store = service.NewRedisIdentityCacheStore(client, redisPrefixIdentity)
	default:
		store = service.NewInMemoryIdentityCacheStore()
	}
	return service.NewIdentityResolver(store, users, cfg.IdentityCacheTTL)
}

func provideAbuseGuard(cfg *config.Config, client redis.UniversalClient) service.AuthAbuseGuard {
	policy := service.AuthAbusePolicy{
		FreeAttempts: cfg.AuthAbuseFreeAttempts,
		BaseDelay:    cfg.AuthAbuseBaseDelay,
		MaxDelay:     cfg.AuthAbuseMaxDelay,
	}
	if client != nil {
		return service.NewRedisAuthAbuseGuard(client, redisPrefixAbuse, policy)
	}
	return service.NewInMemoryAuthAbuseGuard(policy)
}

func provideUnknownCodeCache(client redis.UniversalClient) service.UnknownCodeCache {
	if client != nil {
		return service.NewRedisUnknownCodeCache(client, redisPrefixNegative)
	}
	return service.NewMemoryUnknownCodeCache()
}

func provideAdminListCache(client redis.UniversalClient) service.AdminListCacheStore {
	if client != nil {
		return service.NewRedisAdminListCacheStore(client, redisPrefixAdminList)
	}
	return service.NewInMemoryAdminListCacheStore()
}

func provideIdempotencyStore(client redis.UniversalClient) service.IdempotencyStore {
	if client != nil {
		return service.NewRedisIdempotencyStore(client, redisPrefixIdempotency)
	}
	return service.NewInMemoryIdempotencyStore()
}

func provideTokenService(cfg *config.Config, sessions repository.SessionRepository, users repository.UserRepository, publisher events.Publisher) *service.TokenService {
	return service.NewTokenService(sessions, users, publisher, cfg.RefreshTokenPepper, cfg.RefreshTokenTTL)
}

func provideAuthService(
	cfg *config.Config,
	creds *service.CredentialService,
	tokens *service.TokenService,
	jwtMgr *security.JWTManager,
	resets repository.PasswordResetRepository,
	identities *service.IdentityResolver,
	abuse service.AuthAbuseGuard,
	publisher events.Publisher,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(creds, tokens, jwtMgr, resets, identities, abuse, publisher, logger, service.AuthServiceConfig{
		AccessTTL:        cfg.AccessTokenTTL,
		PasswordResetTTL: cfg.PasswordResetTTL,
	})
}

func provideClaimService(
	cfg *config.Config,
	resources repository.ResourceRepository,
	settings repository.SettingsRepository,
	unknown service.UnknownCodeCache,
	publisher events.Publisher,
	logger *slog.Logger,
) *service.ClaimService {
	return service.NewClaimService(resources, settings, unknown, publisher, logger, service.ClaimServiceConfig{
		DailyGenericLimit: cfg.DailyGenericLimit,
		UnknownCodeTTL:    cfg.NegativeLookupCacheTTL,
	})
}

func provideUserService(
	cfg *config.Config,
	users repository.UserRepository,
	roles repository.RoleRepository,
	settings repository.SettingsRepository,
	claims *service.ClaimService,
	listCache service.AdminListCacheStore,
	logger *slog.Logger,
) *service.UserService {
	return service.NewUserService(users, roles, settings, claims, listCache, cfg.AdminListCacheTTL, logger)
}

func provideCleanupWorker(cfg *config.Config, sessions repository.SessionRepository, resets repository.PasswordResetRepository, logger *slog.Logger) *service.CleanupWorker {
	return service.NewCleanupWorker(sessions, resets, cfg.SessionCleanupInterval, cfg.SessionRetention, logger)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	probe := health.NewProbeRunner(2*time.Second, time.Second)
	probe.Register("database", health.DatabaseCheck(db))
	if client != nil {
		probe.Register("redis", health.RedisCheck(client))
	}
	return probe
}

func provideRouterDependencies(
	cfg *config.Config,
	client redis.UniversalClient,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	resourceHandler *handler.ResourceHandler,
	adminHandler *handler.AdminHandler,
	eventHandler *handler.EventHandler,
	jwtMgr *security.JWTManager,
	resolver *service.IdentityResolver,
	idemStore service.IdempotencyStore,
	readiness *health.ProbeRunner,
) router.Dependencies {
	dep := router.Dependencies{
		AuthHandler:                authHandler,
		UserHandler:                userHandler,
		ResourceHandler:            resourceHandler,
		AdminHandler:               adminHandler,
		EventHandler:               eventHandler,
		JWTManager:                 jwtMgr,
		IdentityResolver:           resolver,
		CORSOrigins:                cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:           cfg.AuthRateLimitRPM,
		PasswordForgotRateLimitRPM: cfg.PasswordForgotRateLimitRPM,
		APIRateLimitRPM:            cfg.APIRateLimitRPM,
		Idempotency:                middleware.NewIdempotencyMiddleware(idemStore, cfg.IdempotencyTTL).Middleware,
		Readiness:                  readiness,
		EnableOTelHTTP:             cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
		EnableSentry:               cfg.SentryDSN != "",
	}
	if cfg.RateLimitRedisEnabled && client != nil {
		limiter := middleware.NewRedisLimiter(client, redisPrefixRateLimit)
		shared := func(scope string) middleware.RateLimitOptions {
			return middleware.RateLimitOptions{Scope: scope, Limiter: limiter, FailOpen: cfg.RateLimitFailOpen}
		}
		api := shared("api")
		api.Key = middleware.SubjectOrIPKeyFunc(jwtMgr)
		api.Bypass = middleware.ProbeBypass
		dep.GlobalRateLimiter = middleware.RateLimit(middleware.PerMinute(cfg.APIRateLimitRPM), api)
		dep.AuthRateLimiter = middleware.RateLimit(middleware.PerMinute(cfg.AuthRateLimitRPM), shared("auth"))
		dep.ForgotRateLimiter = middleware.RateLimit(middleware.PerMinute(cfg.PasswordForgotRateLimitRPM), shared("forgot"))
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

func provideClosers(db *gorm.DB, client redis.UniversalClient, amqpPub *events.AMQPPublisher) []app.Closer {
	var closers []app.Closer
	if amqpPub != nil {
		closers = append(closers, amqpPub.Close)
	}
	if client != nil {
		closers = append(closers, client.Close)
	}
	closers = append(closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return closers
}

// provideApp starts the cleanup loop; the app stops it during shutdown.
func provideApp(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	broker *events.Broker,
	closers []app.Closer,
	readiness *health.ProbeRunner,
	worker *service.CleanupWorker,
) *app.App {
	worker.Start(ctx)
	return app.New(cfg, logger, server, runtime, broker, closers, readiness, func() {
		worker.Stop()
		worker.Wait()
	})
}
