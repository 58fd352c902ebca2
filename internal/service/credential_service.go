package service

import (
	"context"
	"errors"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

// CredentialService owns user credentials and the token version counter.
type CredentialService struct {
	users  repository.UserRepository
	hasher *security.PasswordHasher
}

func NewCredentialService(users repository.UserRepository, hasher *security.PasswordHasher) *CredentialService {
	return &CredentialService{users: users, hasher: hasher}
}

// VerifyCredentials fails with ErrInvalidCredentials for an unknown email and
// for a wrong password alike.
func (s *CredentialService) VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.CompareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *CredentialService) HashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	switch {
	case errors.Is(err, security.ErrPasswordTooShort):
		return "", ErrWeakPassword
	case errors.Is(err, security.ErrPasswordTooLong):
		return "", ErrPasswordTooLong
	}
	return hash, err
}

func (s *CredentialService) CreateUser(ctx context.Context, email, password string, profile domain.Profile, roles []domain.Role) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, Validation("invalid_email", "Email is required")
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
	}
	for _, r := range domain.SortRoles(roles) {
		user.Roles = append(user.Roles, domain.UserRole{Role: r})
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return user, nil
}

// SetPassword stores a precomputed hash and bumps the token version.
func (s *CredentialService) SetPassword(ctx context.Context, userID uint, passwordHash string) error {
	return mapUserErr(s.users.UpdatePasswordHash(ctx, userID, passwordHash))
}

func (s *CredentialService) BumpTokenVersion(ctx context.Context, userID uint) (uint, error) {
	v, err := s.users.BumpTokenVersion(ctx, userID)
	return v, mapUserErr(err)
}

func (s *CredentialService) SetRoles(ctx context.Context, userID uint, roles []domain.Role) (*domain.User, error) {
	user, err := s.users.SetRoles(ctx, userID, roles)
	return user, mapUserErr(err)
}

func (s *CredentialService) FindByID(ctx context.Context, userID uint) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	return user, mapUserErr(err)
}

func (s *CredentialService) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	return user, mapUserErr(err)
}

func mapUserErr(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}
