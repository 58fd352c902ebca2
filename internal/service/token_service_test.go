package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

func newTestTokenService(t *testing.T) (*TokenService, repository.SessionRepository, *domain.User) {
	t.Helper()
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	svc := NewTokenService(sessions, repository.NewUserRepository(db), nil, testPepper, 24*time.Hour)
	return svc, sessions, seedUser(t, db, "ledger@example.com", domain.RoleUser)
}

func TestTokenRedeemRotatesAndPreservesFamily(t *testing.T) {
	ctx := context.Background()
	svc, sessions, user := newTestTokenService(t)

	rawA, sA, err := svc.Issue(ctx, user.ID, ClientMeta{UserAgent: "ua", IP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sA.TokenHash == rawA {
		t.Fatal("raw token must never be stored")
	}

	res, err := svc.Redeem(ctx, rawA, ClientMeta{UserAgent: "ua2", IP: "127.0.0.2"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.RefreshToken == rawA || res.User.ID != user.ID {
		t.Fatalf("unexpected redeem result: %+v", res)
	}

	old, err := sessions.FindByHash(ctx, security.HashRefreshToken(rawA, testPepper))
	if err != nil {
		t.Fatalf("find old: %v", err)
	}
	if old.RevokedAt == nil || *old.RevokedReason != domain.RevokeReasonRotated {
		t.Fatal("expected old session revoked with reason rotated")
	}
	next, err := sessions.FindByHash(ctx, security.HashRefreshToken(res.RefreshToken, testPepper))
	if err != nil {
		t.Fatalf("find new: %v", err)
	}
	if next.FamilyID != sA.FamilyID || next.ParentID == nil || *next.ParentID != sA.ID {
		t.Fatalf("expected successor chained to predecessor: %+v", next)
	}
	if old.ReplacedByID == nil || *old.ReplacedByID != next.ID {
		t.Fatal("expected replacement pointer on predecessor")
	}
}

func TestTokenRedeemReuseRevokesFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, user := newTestTokenService(t)

	rawA, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	first, err := svc.Redeem(ctx, rawA, ClientMeta{})
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err = svc.Redeem(ctx, rawA, ClientMeta{})
	if !errors.Is(err, ErrRefreshTokenReuseDetected) || !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected reuse detection surfaced as invalid refresh token, got %v", err)
	}
	if _, err := svc.Redeem(ctx, first.RefreshToken, ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected successor revoked after reuse, got %v", err)
	}
}

func TestTokenRedeemInvalidDoesNotRevokeActiveSessions(t *testing.T) {
	ctx := context.Background()
	svc, sessions, user := newTestTokenService(t)

	rawA, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, bad := range []string{"", "not-a-valid-token"} {
		if _, err := svc.Redeem(ctx, bad, ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected ErrInvalidRefreshToken for %q, got %v", bad, err)
		}
	}
	sA, err := sessions.FindByHash(ctx, security.HashRefreshToken(rawA, testPepper))
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sA.RevokedAt != nil {
		t.Fatal("expected active session to remain active for malformed token")
	}
}

func TestTokenRedeemExpiredAndLoggedOut(t *testing.T) {
	ctx := context.Background()
	svc, _, user := newTestTokenService(t)

	raw, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	if _, err := svc.Redeem(ctx, raw, ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC() }

	raw2, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Revoke(ctx, raw2); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.Revoke(ctx, raw2); err != nil {
		t.Fatalf("second revoke should be a no-op: %v", err)
	}
	_, err = svc.Redeem(ctx, raw2, ClientMeta{})
	if !errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrRefreshTokenReuseDetected) {
		t.Fatalf("expected plain invalid for logged-out token, got %v", err)
	}
}

func TestTokenRedeemConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, user := newTestTokenService(t)
	raw, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const n = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, raw, ClientMeta{})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", wins)
	}
}

func TestTokenRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	svc, _, user := newTestTokenService(t)
	var raws []string
	for i := 0; i < 3; i++ {
		raw, _, err := svc.Issue(ctx, user.ID, ClientMeta{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		raws = append(raws, raw)
	}
	n, err := svc.RevokeAllForUser(ctx, user.ID, domain.RevokeReasonLogoutAll)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 revoked, n=%d err=%v", n, err)
	}
	for _, raw := range raws {
		if _, err := svc.Redeem(ctx, raw, ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected revoked token rejected, got %v", err)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	ua := strings.Repeat("a", 511) + "é" + "tail"
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "curl/8.0", max: 512, want: "curl/8.0"},
		{name: "split rune dropped", in: ua, max: 512, want: strings.Repeat("a", 511)},
		{name: "rune fits", in: ua, max: 513, want: strings.Repeat("a", 511) + "é"},
		{name: "invalid bytes scrubbed", in: "ok\xffok", max: 64, want: "okok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.max)
			if got != tc.want || !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}
