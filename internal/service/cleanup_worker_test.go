package service

import (
	"context"
	"testing"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

func TestCleanupWorkerRunOnceHonorsRetention(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, "cleanup@example.com", domain.RoleUser)
	now := time.Now().UTC()

	rows := []domain.Session{
		{UserID: user.ID, TokenHash: "old", FamilyID: "f1", ExpiresAt: now.Add(-40 * 24 * time.Hour)},
		{UserID: user.ID, TokenHash: "recent", FamilyID: "f2", ExpiresAt: now.Add(-2 * 24 * time.Hour)},
		{UserID: user.ID, TokenHash: "live", FamilyID: "f3", ExpiresAt: now.Add(24 * time.Hour)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
	if err := db.Create(&domain.PasswordResetToken{UserID: user.ID, TokenHash: "reset-old", ExpiresAt: now.Add(-31 * 24 * time.Hour)}).Error; err != nil {
		t.Fatalf("seed reset token: %v", err)
	}

	w := NewCleanupWorker(repository.NewSessionRepository(db), repository.NewPasswordResetRepository(db), time.Hour, 30*24*time.Hour, nil)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Sessions != 1 || report.ResetTokens != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	var remaining int64
	db.Model(&domain.Session{}).Count(&remaining)
	if remaining != 2 {
		t.Fatalf("expected 2 sessions kept, got %d", remaining)
	}
}

func TestCleanupWorkerStartStop(t *testing.T) {
	db := newTestDB(t)
	w := NewCleanupWorker(repository.NewSessionRepository(db), repository.NewPasswordResetRepository(db), 10*time.Millisecond, time.Hour, nil)
	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	w.Stop()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}
