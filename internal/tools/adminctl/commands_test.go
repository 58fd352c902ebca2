package adminctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/di"
	"github.com/sandeepkv93/ticket-access-service/internal/tools/common"
)

func testFactory(t *testing.T) ToolkitFactory {
	t.Helper()
	dsn := "file:adminctl_" + t.Name() + "?mode=memory&cache=shared"
	// Holds the shared in-memory database open between command runs.
	keeper, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open keeper: %v", err)
	}
	sqlDB, err := keeper.DB()
	if err != nil {
		t.Fatalf("keeper db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := &config.Config{
		AppEnv:                 "test",
		DBDriver:               "sqlite",
		DatabaseURL:            dsn,
		DBAutoMigrate:          true,
		JWTIssuer:              "iss",
		JWTAudience:            "aud",
		JWTAccessSecret:        "abcdefghijklmnopqrstuvwxyz123456",
		RefreshTokenPepper:     "pepper-abcdefghijklmnopqrstuvwxyz",
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        24 * time.Hour,
		PasswordResetTTL:       15 * time.Minute,
		BcryptCost:             4,
		IdentityCacheEnabled:   true,
		IdentityCacheTTL:       time.Minute,
		SessionCleanupInterval: time.Hour,
		SessionRetention:       24 * time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return func(ctx context.Context) (*di.AdminToolkit, error) {
		return di.NewAdminToolkit(ctx, cfg, log)
	}
}

func runCI(t *testing.T, factory ToolkitFactory, args ...string) (common.CIResult, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(factory)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(append([]string{}, args...), "--ci", "--env-file", t.TempDir()+"/missing.env"))
	err := root.ExecuteContext(context.Background())

	var res common.CIResult
	if decodeErr := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &res); decodeErr != nil && err == nil {
		t.Fatalf("decode ci output %q: %v", out.String(), decodeErr)
	}
	return res, err
}

func TestCreateAdminThenSetRolesAndForceLogout(t *testing.T) {
	factory := testFactory(t)

	res, err := runCI(t, factory, "create-admin", "--email", "Ops@Example.com", "--password", "Password123!")
	if err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if !res.OK || len(res.Details) != 1 || !strings.Contains(res.Details[0], "email=ops@example.com") || !strings.Contains(res.Details[0], "roles=ADMIN") {
		t.Fatalf("unexpected create-admin result: %+v", res)
	}

	res, err = runCI(t, factory, "set-roles", "1", "GENERATOR", "SCANNER")
	if err != nil {
		t.Fatalf("set-roles: %v", err)
	}
	if !strings.Contains(res.Details[0], "GENERATOR") || !strings.Contains(res.Details[0], "SCANNER") {
		t.Fatalf("unexpected set-roles result: %+v", res)
	}

	res, err = runCI(t, factory, "force-logout", "1")
	if err != nil || !res.OK {
		t.Fatalf("force-logout: %+v %v", res, err)
	}
}

func TestCreateAdminRejectsDuplicateEmail(t *testing.T) {
	factory := testFactory(t)
	if _, err := runCI(t, factory, "create-admin", "--email", "dup@example.com", "--password", "Password123!"); err != nil {
		t.Fatalf("first create-admin: %v", err)
	}
	res, err := runCI(t, factory, "create-admin", "--email", "dup@example.com", "--password", "Password123!")
	if err == nil || res.OK || res.Error == "" {
		t.Fatalf("expected duplicate email failure, got %+v %v", res, err)
	}
}

func TestSetRolesRejectsUnknownRole(t *testing.T) {
	factory := testFactory(t)
	if _, err := runCI(t, factory, "create-admin", "--email", "a@example.com", "--password", "Password123!"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if _, err := runCI(t, factory, "set-roles", "1", "WIZARD"); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}

func TestUserIDArgumentIsValidated(t *testing.T) {
	factory := func(context.Context) (*di.AdminToolkit, error) {
		t.Fatal("factory must not be called for bad input")
		return nil, nil
	}
	for _, args := range [][]string{{"force-logout", "abc"}, {"force-logout", "0"}, {"set-roles", "-1", "ADMIN"}} {
		if _, err := runCI(t, factory, args...); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestMigrateAndCleanupReport(t *testing.T) {
	factory := testFactory(t)
	res, err := runCI(t, factory, "migrate")
	if err != nil || !res.OK || !strings.HasSuffix(res.Details[0], "models migrated") {
		t.Fatalf("migrate: %+v %v", res, err)
	}
	res, err = runCI(t, factory, "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Details) != 2 || res.Details[0] != "sessions deleted=0" || res.Details[1] != "reset tokens deleted=0" {
		t.Fatalf("unexpected cleanup report: %+v", res)
	}
}

func TestFactoryFailureIsReported(t *testing.T) {
	factory := func(context.Context) (*di.AdminToolkit, error) {
		return nil, errors.New("dial refused")
	}
	res, err := runCI(t, factory, "cleanup")
	if err == nil || res.OK || !strings.Contains(res.Error, "open stores: dial refused") {
		t.Fatalf("expected reported factory failure, got %+v %v", res, err)
	}
}
