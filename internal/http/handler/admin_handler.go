package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

const sseHeartbeatInterval = 15 * time.Second

type AdminHandler struct {
	auth   *service.AuthService
	users  *service.UserService
	broker *events.Broker
}

func NewAdminHandler(auth *service.AuthService, users *service.UserService, broker *events.Broker) *AdminHandler {
	return &AdminHandler{auth: auth, users: users, broker: broker}
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, status, err := h.users.ListUsers(r.Context(), id, repository.UserListQuery{
		PageRequest: repository.PageRequest{
			Page:     intQuery(r, "page", 1),
			PageSize: intQuery(r, "page_size", repository.DefaultPageSize),
		},
		Email: q.Get("email"),
		Role:  domain.Role(q.Get("role")),
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	writeCacheHeaders(w, status)
	response.JSON(w, r, http.StatusOK, page)
}

func (h *AdminHandler) RoleCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	counts, status, err := h.users.RoleCounts(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	writeCacheHeaders(w, status)
	response.JSON(w, r, http.StatusOK, map[string]any{"roles": counts})
}

func (h *AdminHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	userID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req setRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	user, err := h.auth.SetUserRoles(r.Context(), id, userID, req.Roles)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.users.InvalidateAdminListings(r.Context())
	observability.Audit(r, "user_roles_changed", "actor_id", id.UserID, "user_id", userID, "roles", req.Roles)
	response.JSON(w, r, http.StatusOK, service.NewUserView(user))
}

func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	userID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.auth.ForceLogout(r.Context(), id, userID); err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "force_logout", "actor_id", id.UserID, "user_id", userID)
	response.NoContent(w)
}

// Events streams domain events as server-sent events until the client goes
// away or the broker shuts down.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch, cancel := h.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

func writeCacheHeaders(w http.ResponseWriter, status service.CacheStatus) {
	if status.Hit {
		w.Header().Set("X-Admin-List-Cache", "HIT")
		w.Header().Set("X-Admin-List-Cache-Age", strconv.FormatInt(int64(status.Age/time.Second), 10))
		return
	}
	w.Header().Set("X-Admin-List-Cache", "MISS")
}
