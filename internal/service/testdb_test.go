package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/ticket-access-service/internal/database"
	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

const (
	testAccessSecret = "abcdefghijklmnopqrstuvwxyz123456"
	testPepper       = "pepper-abcdefghijklmnopqrstuvwxyz"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestJWTManager() *security.JWTManager {
	return security.NewJWTManager("ticket-access-service", "ticket-access-clients", testAccessSecret)
}

func seedUser(t *testing.T, db *gorm.DB, email string, roles ...domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, PasswordHash: "unused"}
	for _, r := range roles {
		u.Roles = append(u.Roles, domain.UserRole{Role: r})
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}
