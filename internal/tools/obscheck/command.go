package obscheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/ticket-access-service/internal/tools/common"
)

type options struct {
	baseURL  string
	timeout  time.Duration
	ci       bool
	email    string
	password string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// NewCommand verifies a running deployment from the outside: probes, security
// headers, the auth gate, and optionally a login round trip.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Smoke-check a running ticket access service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			details, err := Run(ctx, &http.Client{Timeout: 10 * time.Second}, *opts)
			return common.Report(cmd.OutOrStdout(), opts.ci, "ticketctl check", details, err)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall check timeout")
	cmd.Flags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.Flags().StringVar(&opts.email, "email", "", "account used for the login round trip (skipped when empty)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password for --email")
	return cmd
}

func Run(ctx context.Context, client *http.Client, opts options) ([]string, error) {
	base := strings.TrimRight(opts.baseURL, "/")
	var details []string

	requestID := uuid.NewString()
	resp, env, err := call(ctx, client, http.MethodGet, base+"/health/live", nil, map[string]string{"X-Request-Id": requestID})
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("live probe returned %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") != requestID {
		return details, errors.New("request id was not echoed")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		return details, errors.New("security headers missing")
	}
	details = append(details, "live probe: ok")

	resp, env, err = call(ctx, client, http.MethodGet, base+"/health/ready", nil, nil)
	if err != nil {
		return details, err
	}
	var ready struct {
		Checks []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"checks"`
	}
	_ = json.Unmarshal(env.Data, &ready)
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("readiness returned %d", resp.StatusCode)
	}
	for _, c := range ready.Checks {
		details = append(details, fmt.Sprintf("ready check %s healthy=%t", c.Name, c.Healthy))
	}

	resp, env, err = call(ctx, client, http.MethodGet, base+"/api/v1/me", nil, nil)
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return details, fmt.Errorf("unauthenticated /me returned %d", resp.StatusCode)
	}
	details = append(details, "auth gate: ok")

	if opts.email == "" {
		return details, nil
	}
	resp, env, err = call(ctx, client, http.MethodPost, base+"/api/v1/auth/login",
		map[string]string{"email": opts.email, "password": opts.password}, nil)
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("login returned %d", resp.StatusCode)
	}
	var auth struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(env.Data, &auth); err != nil || auth.AccessToken == "" {
		return details, errors.New("login response carried no access token")
	}
	resp, _, err = call(ctx, client, http.MethodGet, base+"/api/v1/me", nil, map[string]string{"Authorization": "Bearer " + auth.AccessToken})
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("authenticated /me returned %d", resp.StatusCode)
	}
	details = append(details, "login round trip: ok")
	return details, nil
}

func call(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, envelope{}, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, envelope{}, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, envelope{}, err
	}
	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp, env, nil
}
