package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent"

type AuthHandler struct {
	auth    *service.AuthService
	cookies security.CookieConfig
}

func NewAuthHandler(auth *service.AuthService, cookies security.CookieConfig) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies}
}

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type signupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  profileRequest `json:"profile"`
	Roles    []string       `json:"roles"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	ID          uint   `json:"id"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type authResponse struct {
	AccessToken string           `json:"accessToken"`
	TokenType   string           `json:"tokenType"`
	ExpiresIn   int64            `json:"expiresIn"`
	CSRFToken   string           `json:"csrfToken"`
	User        service.UserView `json:"user"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.FromError(w, r, service.Validation("missing_fields", "Email and password are required"))
		return
	}
	res, err := h.auth.Signup(r.Context(), service.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.Profile.FirstName,
		LastName:  req.Profile.LastName,
		Roles:     req.Roles,
	}, clientMeta(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "signup", "user_id", res.User.ID)
	h.writeSession(w, r, http.StatusCreated, res)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.FromError(w, r, service.ErrInvalidCredentials)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		observability.Audit(r, "login_failed", "code", errorCode(err))
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "login", "user_id", res.User.ID)
	h.writeSession(w, r, http.StatusOK, res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.cookies.Refresh(r)
	if raw == "" {
		response.FromError(w, r, service.ErrInvalidRefreshToken)
		return
	}
	res, err := h.auth.Refresh(r.Context(), raw, clientMeta(r))
	if err != nil {
		if service.KindOf(err) == service.KindAuthentication {
			h.clearCookies(w)
		}
		response.FromError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, res)
}

// Logout is idempotent; a missing or already revoked cookie still clears the
// client state.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := h.cookies.Refresh(r); raw != "" {
		if err := h.auth.Logout(r.Context(), raw); err != nil && service.KindOf(err) == service.KindTransient {
			response.FromError(w, r, err)
			return
		}
	}
	h.clearCookies(w)
	observability.Audit(r, "logout")
	response.NoContent(w)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) != "" {
		if err := h.auth.ForgotPassword(r.Context(), req.Email, clientMeta(r)); err != nil {
			response.FromError(w, r, err)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.ID, req.Token, req.NewPassword); err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "password_reset", "user_id", req.ID)
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, status int, res *service.AuthResult) {
	csrf, err := security.NewOpaqueToken()
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.cookies.SetRefresh(w, res.RefreshToken)
	h.cookies.SetCSRF(w, csrf)
	response.JSON(w, r, status, authResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.ExpiresIn / time.Second),
		CSRFToken:   csrf,
		User:        service.NewUserView(res.User),
	})
}

func (h *AuthHandler) clearCookies(w http.ResponseWriter) {
	h.cookies.ClearRefresh(w)
	h.cookies.ClearCSRF(w)
}

func errorCode(err error) string {
	var se *service.Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "internal"
}
