package handler

import (
	"net/http"

	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

type UserHandler struct {
	users    *service.UserService
	sessions *service.SessionService
	auth     *service.AuthService
	cookies  security.CookieConfig
}

func NewUserHandler(users *service.UserService, sessions *service.SessionService, auth *service.AuthService, cookies security.CookieConfig) *UserHandler {
	return &UserHandler{users: users, sessions: sessions, auth: auth, cookies: cookies}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	u, err := h.users.Me(r.Context(), id.UserID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, service.NewUserView(u))
}

// LogoutAll invalidates every access token and refresh session of the caller,
// including the one making the request.
func (h *UserHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.auth.LogoutAll(r.Context(), id.UserID); err != nil {
		response.FromError(w, r, err)
		return
	}
	h.cookies.ClearRefresh(w)
	h.cookies.ClearCSRF(w)
	observability.Audit(r, "logout_all", "user_id", id.UserID)
	response.NoContent(w)
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	current, err := h.sessions.ResolveCurrentSessionID(r.Context(), id)
	if err != nil && service.KindOf(err) != service.KindNotFound {
		response.FromError(w, r, err)
		return
	}
	views, err := h.sessions.ListActiveSessions(r.Context(), id.UserID, current)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sessionID, err := uintParam(r, "session_id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	status, err := h.sessions.RevokeSession(r.Context(), id.UserID, sessionID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "session_revoked", "user_id", id.UserID, "session_id", sessionID, "status", status)
	response.JSON(w, r, http.StatusOK, map[string]any{"session_id": sessionID, "status": status})
}

func (h *UserHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	current, err := h.sessions.ResolveCurrentSessionID(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	revoked, err := h.sessions.RevokeOtherSessions(r.Context(), id.UserID, current)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "sessions_revoked_others", "user_id", id.UserID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked_count": revoked})
}

type settingsRequest struct {
	DailyGenericLimit *int `json:"daily_generic_limit"`
}

func (h *UserHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := h.users.GetSettings(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

// UpdateSettings with a null limit drops the override and restores the
// default.
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	view, err := h.users.UpdateSettings(r.Context(), id, req.DailyGenericLimit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}
