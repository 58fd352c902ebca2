package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

func withIdentity(req *http.Request, roles ...domain.Role) *http.Request {
	id := &service.Identity{UserID: 7, Roles: roles}
	return req.WithContext(context.WithValue(req.Context(), IdentityContextKey, id))
}

func TestRequireCapabilityDenied(t *testing.T) {
	mw := RequireCapability(domain.CapManageUsers)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), domain.RoleGenerator)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestRequireCapabilityMissingIdentity(t *testing.T) {
	mw := RequireCapability(domain.CapClaimResource)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRequireCapabilityAllowed(t *testing.T) {
	mw := RequireCapability(domain.CapIssueResource)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), domain.RoleGenerator)
	rr := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !called {
		t.Fatal("expected wrapped handler to be called")
	}
}
