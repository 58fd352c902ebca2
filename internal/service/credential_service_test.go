package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

func newTestCredentialService(t *testing.T) (*CredentialService, repository.UserRepository) {
	t.Helper()
	users := repository.NewUserRepository(newTestDB(t))
	return NewCredentialService(users, security.NewPasswordHasher(bcrypt.MinCost)), users
}

func TestCredentialServiceCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t)

	user, err := svc.CreateUser(ctx, "Dana@Example.com", "correct-horse", domain.Profile{FirstName: "Dana"}, []domain.Role{domain.RoleReceiver})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.PasswordHash == "correct-horse" || user.PasswordHash == "" {
		t.Fatal("expected password to be hashed")
	}

	got, err := svc.VerifyCredentials(ctx, "dana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, got.ID)
	}

	_, wrongPw := svc.VerifyCredentials(ctx, "dana@example.com", "wrong-password")
	_, unknown := svc.VerifyCredentials(ctx, "nobody@example.com", "correct-horse")
	if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected identical generic failures, got %v and %v", wrongPw, unknown)
	}
	if wrongPw.Error() != unknown.Error() {
		t.Fatal("failure messages must not reveal which part was wrong")
	}
}

func TestCredentialServiceRejectsWeakPasswordAndDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t)

	if _, err := svc.CreateUser(ctx, "e@example.com", "short", domain.Profile{}, nil); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	long := strings.Repeat("a", security.MaxPasswordBytes+1)
	if _, err := svc.CreateUser(ctx, "e@example.com", long, domain.Profile{}, nil); !errors.Is(err, ErrPasswordTooLong) || KindOf(err).HTTPStatus() != 400 {
		t.Fatalf("expected 400 ErrPasswordTooLong, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "  ", "long-enough", domain.Profile{}, nil); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for blank email, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "e@example.com", "long-enough", domain.Profile{}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "E@EXAMPLE.COM", "long-enough", domain.Profile{}, nil); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestCredentialServiceConcurrentSignupSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t)

	const n = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		inUse   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateUser(ctx, "race@example.com", "long-enough", domain.Profile{}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrEmailInUse):
				inUse++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || inUse != n-1 {
		t.Fatalf("expected one signup to win, created=%d inUse=%d", created, inUse)
	}
}

func TestCredentialServiceSetPasswordBumpsVersion(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestCredentialService(t)
	user, err := svc.CreateUser(ctx, "f@example.com", "first-password", domain.Profile{}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	hash, err := svc.HashPassword("second-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := svc.SetPassword(ctx, user.ID, hash); err != nil {
		t.Fatalf("set password: %v", err)
	}
	reloaded, _ := users.FindByID(ctx, user.ID)
	if reloaded.TokenVersion != user.TokenVersion+1 {
		t.Fatalf("expected token version bump, got %d", reloaded.TokenVersion)
	}
	if _, err := svc.VerifyCredentials(ctx, "f@example.com", "second-password"); err != nil {
		t.Fatalf("verify new password: %v", err)
	}
	if err := svc.SetPassword(ctx, 4040, hash); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
