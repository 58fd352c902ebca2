package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
	"github.com/sandeepkv93/ticket-access-service/internal/di"
)

const testPassword = "Valid#Pass1234"

var dbSeq atomic.Int64

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e envelope) errorCode() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// apiClient carries the cookie jar for refresh and csrf cookies plus the
// bearer token from the latest auth response.
type apiClient struct {
	baseURL string
	http    *http.Client
	access  string
}

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                       "test",
		HTTPAddr:                     "127.0.0.1:0",
		LogLevel:                     "error",
		DBDriver:                     "sqlite",
		DatabaseURL:                  fmt.Sprintf("file:itest_%d?mode=memory&cache=shared", dbSeq.Add(1)),
		DBAutoMigrate:                true,
		JWTIssuer:                    "ticket-access-service",
		JWTAudience:                  "ticket-access-clients",
		JWTAccessSecret:              "integration-secret-abcdefghijklmnopqrstuvwxyz",
		RefreshTokenPepper:           "integration-pepper-abcdefghijklmnopqrstuvwxyz",
		AccessTokenTTL:               15 * time.Minute,
		RefreshTokenTTL:              24 * time.Hour,
		PasswordResetTTL:             15 * time.Minute,
		BcryptCost:                   4,
		CookieSameSite:               "lax",
		CORSAllowedOrigins:           []string{"http://localhost:3000"},
		APIRateLimitRPM:              10000,
		AuthRateLimitRPM:             10000,
		PasswordForgotRateLimitRPM:   10000,
		RateLimitFailOpen:            true,
		IdentityCacheEnabled:         true,
		IdentityCacheTTL:             time.Minute,
		NegativeLookupCacheTTL:       time.Minute,
		AdminListCacheTTL:            time.Minute,
		IdempotencyTTL:               time.Hour,
		AuthAbuseFreeAttempts:        5,
		AuthAbuseBaseDelay:           time.Second,
		AuthAbuseMaxDelay:            time.Minute,
		DailyGenericLimit:            50,
		SessionCleanupInterval:       time.Hour,
		SessionRetention:             24 * time.Hour,
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
		OTELServiceName:              "ticket-access-service",
	}
}

func newAuthTestServer(t *testing.T, opts ...func(*config.Config)) (string, *http.Client, func()) {
	t.Helper()
	cfg := integrationConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := di.InitializeApp(ctx, cfg, logger, nil)
	if err != nil {
		cancel()
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	return srv.URL, client, func() {
		srv.Close()
		cancel()
		a.StopBackgroundTasks()
		for _, c := range a.Closers {
			_ = c()
		}
	}
}

func newAPIClient(baseURL string, client *http.Client) *apiClient {
	return &apiClient{baseURL: baseURL, http: client}
}

func (c *apiClient) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	h := map[string]string{}
	if c.access != "" {
		h["Authorization"] = "Bearer " + c.access
	}
	for k, v := range headers {
		h[k] = v
	}
	return doRaw(t, c.http, method, c.baseURL+path, body, h, nil)
}

// auth runs signup or login and keeps the issued access token.
func (c *apiClient) auth(t *testing.T, path string, body any, wantStatus int) string {
	t.Helper()
	resp, env := c.do(t, http.MethodPost, path, body, nil)
	if resp.StatusCode != wantStatus || !env.Success {
		t.Fatalf("%s failed: status=%d error=%s", path, resp.StatusCode, env.errorCode())
	}
	var data struct {
		AccessToken string `json:"accessToken"`
		CSRFToken   string `json:"csrfToken"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode auth data: %v", err)
	}
	c.access = data.AccessToken
	return data.CSRFToken
}

func (c *apiClient) signup(t *testing.T, email string, roles ...string) string {
	t.Helper()
	return c.auth(t, "/api/v1/auth/signup", map[string]any{"email": email, "password": testPassword, "roles": roles}, http.StatusCreated)
}

func (c *apiClient) login(t *testing.T, email string) string {
	t.Helper()
	return c.auth(t, "/api/v1/auth/login", map[string]string{"email": email, "password": testPassword}, http.StatusOK)
}

func doJSON(t *testing.T, client *http.Client, method, rawURL string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	return doRaw(t, client, method, rawURL, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, rawURL string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	doClient := client
	if cookies != nil {
		// explicit cookies replace the jar for this call
		doClient = &http.Client{Timeout: client.Timeout}
	}
	resp, err := doClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, raw)
		}
	}
	return resp, env
}

// cookieValue reads a cookie from the jar as the browser would send it to
// the auth routes.
func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api/v1/auth/refresh")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %s not found", name)
	return ""
}
