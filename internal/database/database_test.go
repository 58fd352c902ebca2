package database

import (
	"testing"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	if _, err := Dialector("oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	for _, d := range []string{"postgres", "mysql", "sqlite", "SQLite"} {
		if _, err := Dialector(d, "dsn"); err != nil {
			t.Fatalf("driver %s: %v", d, err)
		}
	}
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", DatabaseURL: "file:database_open_test?mode=memory&cache=shared"}
	db, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"users", "user_roles", "refresh_tokens", "events", "resources", "resource_scans", "password_reset_tokens", "user_settings"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}

	u := &domain.User{Email: "dup@example.com", PasswordHash: "x"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Create(&domain.User{Email: "dup@example.com", PasswordHash: "y"}).Error; err == nil {
		t.Fatal("expected unique violation on email")
	}
}
