package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

func TestSessionRepositoryListActiveByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	revokedAt := now
	sessions := []*domain.Session{
		{UserID: 1, TokenHash: "h1", FamilyID: "fam-1", ExpiresAt: now.Add(2 * time.Hour)},
		{UserID: 1, TokenHash: "h2", FamilyID: "fam-2", ExpiresAt: now.Add(2 * time.Hour), RevokedAt: &revokedAt},
		{UserID: 1, TokenHash: "h3", FamilyID: "fam-3", ExpiresAt: now.Add(-time.Hour)},
		{UserID: 2, TokenHash: "h4", FamilyID: "fam-4", ExpiresAt: now.Add(2 * time.Hour)},
	}
	for _, s := range sessions {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.TokenHash, err)
		}
	}

	active, err := repo.ListActiveByUserID(ctx, 1, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].TokenHash != "h1" {
		t.Fatalf("unexpected active sessions: %+v", active)
	}
}

func TestSessionRepositoryRevokeScopeByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	s1 := &domain.Session{UserID: 1, TokenHash: "u1s1", FamilyID: "fam-u1", ExpiresAt: now.Add(2 * time.Hour)}
	s2 := &domain.Session{UserID: 2, TokenHash: "u2s1", FamilyID: "fam-u2", ExpiresAt: now.Add(2 * time.Hour)}
	if err := repo.Create(ctx, s1); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if err := repo.Create(ctx, s2); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	if _, err := repo.RevokeByIDForUser(ctx, 1, s2.ID, "manual", now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found when revoking another user's session, got %v", err)
	}
	changed, err := repo.RevokeByIDForUser(ctx, 2, s2.ID, "manual", now)
	if err != nil || !changed {
		t.Fatalf("expected first revoke to change, changed=%v err=%v", changed, err)
	}
	changed, err = repo.RevokeByIDForUser(ctx, 2, s2.ID, "manual", now)
	if err != nil || changed {
		t.Fatalf("expected idempotent revoke, changed=%v err=%v", changed, err)
	}
	n, err := repo.RevokeOthersByUser(ctx, 1, s1.ID, "revoke_others", now)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 revoked, got %d err=%v", n, err)
	}
}

func TestSessionRepositoryRotateLinksSuccessor(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	root := &domain.Session{UserID: 9, TokenHash: "old", FamilyID: "fam", ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(ctx, root); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := &domain.Session{TokenHash: "new", ExpiresAt: now.Add(time.Hour)}
	old, err := repo.Rotate(ctx, "old", next, now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if old.RevokedAt == nil || old.RevokedReason == nil || *old.RevokedReason != domain.RevokeReasonRotated {
		t.Fatalf("expected predecessor revoked as rotated: %+v", old)
	}
	if next.UserID != 9 || next.FamilyID != "fam" || next.ParentID == nil || *next.ParentID != root.ID {
		t.Fatalf("successor not linked to family: %+v", next)
	}
	stored, err := repo.FindByHash(ctx, "old")
	if err != nil {
		t.Fatalf("find old: %v", err)
	}
	if stored.ReplacedByID == nil || *stored.ReplacedByID != next.ID {
		t.Fatalf("expected replaced_by_id=%d, got %+v", next.ID, stored.ReplacedByID)
	}

	if _, err := repo.Rotate(ctx, "old", &domain.Session{TokenHash: "newer", ExpiresAt: now.Add(time.Hour)}, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected second rotation of the same token to fail, got %v", err)
	}
	if _, err := repo.FindByHash(ctx, "newer"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("failed rotation must not leave a successor, got %v", err)
	}
}

func TestSessionRepositoryRotateRejectsExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, TokenHash: "stale", FamilyID: "f", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Rotate(ctx, "stale", &domain.Session{TokenHash: "x", ExpiresAt: now.Add(time.Hour)}, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepositoryConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.Session{UserID: 3, TokenHash: "shared", FamilyID: "fam", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &domain.Session{TokenHash: "succ-" + string(rune('a'+i)), ExpiresAt: now.Add(time.Hour)}
			if _, err := repo.Rotate(ctx, "shared", next, now); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", winners)
	}
}

func TestSessionRepositoryReuseRevokesFamily(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	if err := repo.Create(ctx, &domain.Session{UserID: 5, TokenHash: "a", FamilyID: "fam", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Rotate(ctx, "a", &domain.Session{TokenHash: "b", ExpiresAt: now.Add(time.Hour)}, now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := repo.Create(ctx, &domain.Session{UserID: 5, TokenHash: "other-device", FamilyID: "fam-2", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	revoked, err := repo.MarkReuseAndRevokeFamily(ctx, "a", now)
	if err != nil {
		t.Fatalf("mark reuse: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("expected the live successor to be revoked, got %d", revoked)
	}
	b, err := repo.FindByHash(ctx, "b")
	if err != nil {
		t.Fatalf("find b: %v", err)
	}
	if b.RevokedAt == nil || *b.RevokedReason != domain.RevokeReasonReuseDetected {
		t.Fatalf("expected successor revoked for reuse: %+v", b)
	}
	a, _ := repo.FindByHash(ctx, "a")
	if a.ReuseDetectedAt == nil {
		t.Fatal("expected reuse to be flagged on the replayed token")
	}
	other, _ := repo.FindByHash(ctx, "other-device")
	if other.RevokedAt != nil {
		t.Fatal("other family must stay live")
	}
}

func TestSessionRepositoryDeleteExpiredBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, TokenHash: "ancient", FamilyID: "f1", ExpiresAt: now.Add(-40 * 24 * time.Hour)}); err != nil {
		t.Fatalf("create ancient: %v", err)
	}
	if err := repo.Create(ctx, &domain.Session{UserID: 1, TokenHash: "recent", FamilyID: "f2", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create recent: %v", err)
	}
	n, err := repo.DeleteExpiredBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, err := repo.FindByHash(ctx, "recent"); err != nil {
		t.Fatalf("recently expired session must be retained: %v", err)
	}
}

func TestSessionRepositoryFindActiveByFamilyFollowsRotation(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	if err := repo.Create(ctx, &domain.Session{UserID: 4, TokenHash: "r1", FamilyID: "chain", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := &domain.Session{TokenHash: "r2", ExpiresAt: now.Add(time.Hour)}
	if _, err := repo.Rotate(ctx, "r1", next, now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	head, err := repo.FindActiveByFamilyForUser(ctx, 4, "chain", now)
	if err != nil {
		t.Fatalf("find head: %v", err)
	}
	if head.ID != next.ID {
		t.Fatalf("expected head %d, got %d", next.ID, head.ID)
	}
	if _, err := repo.FindActiveByFamilyForUser(ctx, 5, "chain", now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for another user, got %v", err)
	}
}
