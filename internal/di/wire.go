//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/ticket-access-service/internal/app"
	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/http/handler"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

var infraSet = wire.NewSet(
	provideObservability,
	provideDB,
	provideRedis,
	provideBroker,
	provideAMQPPublisher,
	providePublisher,
	provideReadiness,
	provideClosers,
)

var repositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewSessionRepository,
	repository.NewRoleRepository,
	repository.NewSettingsRepository,
	repository.NewResourceRepository,
	repository.NewEventRepository,
	repository.NewPasswordResetRepository,
)

var serviceSet = wire.NewSet(
	provideJWTManager,
	providePasswordHasher,
	provideIdentityResolver,
	provideAbuseGuard,
	provideUnknownCodeCache,
	provideAdminListCache,
	provideIdempotencyStore,
	service.NewCredentialService,
	provideTokenService,
	provideAuthService,
	provideClaimService,
	provideUserService,
	service.NewEventService,
	service.NewSessionService,
	provideCleanupWorker,
)

var httpSet = wire.NewSet(
	provideCookieConfig,
	handler.NewAuthHandler,
	handler.NewUserHandler,
	handler.NewResourceHandler,
	handler.NewAdminHandler,
	handler.NewEventHandler,
	provideRouterDependencies,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*app.App, error) {
	wire.Build(infraSet, repositorySet, serviceSet, httpSet, provideApp)
	return nil, nil
}
