package di

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/app"
	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

// AdminToolkit is the slice of the service graph that operator commands need.
// It shares cache prefixes with the server so role changes made here
// invalidate the server's cached identities.
type AdminToolkit struct {
	DB          *gorm.DB
	Credentials *service.CredentialService
	Auth        *service.AuthService
	Cleanup     *service.CleanupWorker
	closers     []app.Closer
}

func NewAdminToolkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*AdminToolkit, error) {
	db, err := provideDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := provideRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	amqpPub, err := provideAMQPPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	var publisher events.Publisher = events.NoopPublisher{}
	if amqpPub != nil {
		publisher = amqpPub
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	resets := repository.NewPasswordResetRepository(db)
	creds := service.NewCredentialService(users, providePasswordHasher(cfg))
	tokens := provideTokenService(cfg, sessions, users, publisher)
	resolver := provideIdentityResolver(cfg, client, users)
	auth := provideAuthService(cfg, creds, tokens, provideJWTManager(cfg), resets, resolver, provideAbuseGuard(cfg, client), publisher, logger)

	return &AdminToolkit{
		DB:          db,
		Credentials: creds,
		Auth:        auth,
		Cleanup:     provideCleanupWorker(cfg, sessions, resets, logger),
		closers:     provideClosers(db, client, amqpPub),
	}, nil
}

func (t *AdminToolkit) Close() error {
	var errs []error
	for _, c := range t.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
