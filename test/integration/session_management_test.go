package integration

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
)

type sessionView struct {
	ID        uint   `json:"id"`
	IsCurrent bool   `json:"is_current"`
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

func listSessions(t *testing.T, c *apiClient) []sessionView {
	t.Helper()
	resp, env := c.do(t, http.MethodGet, "/api/v1/me/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("list sessions failed: status=%d error=%s", resp.StatusCode, env.errorCode())
	}
	var data struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	return data.Sessions
}

func refreshWith(t *testing.T, c *apiClient, refresh, csrf string) *http.Response {
	t.Helper()
	resp, _ := doRaw(t, c.http, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": csrf,
	}, []*http.Cookie{
		{Name: "refresh_token", Value: refresh},
		{Name: "csrf_token", Value: csrf},
	})
	return resp
}

func TestSessionManagementListAndRevokeByDevice(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()
	c := newAPIClient(baseURL, client)

	c.signup(t, "session-mgmt@example.com", "RECEIVER")
	refreshA := cookieValue(t, client, baseURL, "refresh_token")
	csrfA := cookieValue(t, client, baseURL, "csrf_token")

	csrfB := c.login(t, "session-mgmt@example.com")

	sessions := listSessions(t, c)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}
	var currentCount int
	var oldSessionID uint
	for _, s := range sessions {
		if s.IsCurrent {
			currentCount++
			continue
		}
		oldSessionID = s.ID
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current session, got %d", currentCount)
	}
	if oldSessionID == 0 {
		t.Fatal("expected one non-current session to revoke")
	}

	path := "/api/v1/me/sessions/" + strconv.FormatUint(uint64(oldSessionID), 10)
	resp, env := c.do(t, http.MethodDelete, path, nil, map[string]string{"X-CSRF-Token": csrfB})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("revoke session failed: status=%d error=%s", resp.StatusCode, env.errorCode())
	}
	var status struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &status)
	if status.Status != "revoked" {
		t.Fatalf("expected revoked status, got %q", status.Status)
	}

	resp, env = c.do(t, http.MethodDelete, path, nil, map[string]string{"X-CSRF-Token": csrfB})
	_ = json.Unmarshal(env.Data, &status)
	if resp.StatusCode != http.StatusOK || status.Status != "already_revoked" {
		t.Fatalf("expected idempotent revoke, got %d %q", resp.StatusCode, status.Status)
	}

	if resp := refreshWith(t, c, refreshA, csrfA); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked session refresh to fail with 401, got %d", resp.StatusCode)
	}
}

func TestSessionManagementRevokeOthersKeepsCurrent(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()
	c := newAPIClient(baseURL, client)

	c.signup(t, "session-revoke-others@example.com")
	refreshA := cookieValue(t, client, baseURL, "refresh_token")
	csrfA := cookieValue(t, client, baseURL, "csrf_token")

	csrfB := c.login(t, "session-revoke-others@example.com")

	resp, env := c.do(t, http.MethodPost, "/api/v1/me/sessions/revoke-others", nil, map[string]string{"X-CSRF-Token": csrfB})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("revoke others failed: status=%d error=%s", resp.StatusCode, env.errorCode())
	}
	var revoked struct {
		Count int `json:"revoked_count"`
	}
	_ = json.Unmarshal(env.Data, &revoked)
	if revoked.Count != 1 {
		t.Fatalf("expected one revoked session, got %d", revoked.Count)
	}

	resp, env = c.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": cookieValue(t, client, baseURL, "csrf_token"),
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("current session refresh should succeed after revoke others, got %d", resp.StatusCode)
	}

	if resp := refreshWith(t, c, refreshA, csrfA); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected old session refresh to fail with 401, got %d", resp.StatusCode)
	}
}

func TestSessionManagementRevokeErrors(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()
	c := newAPIClient(baseURL, client)
	csrf := c.signup(t, "session-errors@example.com")

	resp, _ := c.do(t, http.MethodDelete, "/api/v1/me/sessions/not-a-number", nil, map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed session id, got %d", resp.StatusCode)
	}

	resp, _ = c.do(t, http.MethodDelete, "/api/v1/me/sessions/999999", nil, map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session id, got %d", resp.StatusCode)
	}
}

func TestLogoutAllRevokesAccessAndRefresh(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()
	c := newAPIClient(baseURL, client)
	csrf := c.signup(t, "logout-all@example.com")
	refresh := cookieValue(t, client, baseURL, "refresh_token")

	resp, _ := c.do(t, http.MethodPost, "/api/v1/me/logout-all", nil, map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout-all: expected 204, got %d", resp.StatusCode)
	}
	resp, env := c.do(t, http.MethodGet, "/api/v1/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized || env.errorCode() != "token_revoked" {
		t.Fatalf("expected revoked access token, got %d %s", resp.StatusCode, env.errorCode())
	}
	if resp := refreshWith(t, c, refresh, csrf); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected refresh to fail after logout-all, got %d", resp.StatusCode)
	}
}
