package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/ticket-access-service/internal/http/middleware"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

var errInvalidBody = service.Validation("invalid_body", "Request body must be valid JSON")

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return service.Validation("body_too_large", "Request body too large")
		}
		return errInvalidBody
	}
	if dec.More() {
		return errInvalidBody
	}
	return nil
}

func clientMeta(r *http.Request) service.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.ClientMeta{UserAgent: r.UserAgent(), IP: strings.TrimSpace(ip)}
}

// identity writes 401 and returns false when the auth middleware did not run.
func identity(w http.ResponseWriter, r *http.Request) (service.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.FromError(w, r, service.ErrUnauthenticated)
		return service.Identity{}, false
	}
	return *id, true
}

func uintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, service.Validation("invalid_"+name, "Invalid "+name)
	}
	return uint(v), nil
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
