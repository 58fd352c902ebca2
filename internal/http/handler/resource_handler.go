package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

type ResourceHandler struct {
	claims *service.ClaimService
}

func NewResourceHandler(claims *service.ClaimService) *ResourceHandler {
	return &ResourceHandler{claims: claims}
}

type issueRequest struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OneTime    *bool           `json:"oneTime"`
	ExpiresAt  *time.Time      `json:"expiresAt"`
	AssignedTo *uint           `json:"assignedTo"`
}

type validateRequest struct {
	Code string `json:"code"`
}

type validateResponse struct {
	Resource   *domain.Resource `json:"resource"`
	AuditEntry *domain.Scan     `json:"auditEntry"`
}

func (h *ResourceHandler) Issue(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.claims.Issue(r.Context(), id, service.IssueInput{
		Type:       domain.ResourceType(req.Type),
		Payload:    req.Payload,
		OneTime:    req.OneTime,
		ExpiresAt:  req.ExpiresAt,
		AssignedTo: req.AssignedTo,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "resource_issued", "user_id", id.UserID, "resource_id", res.ID, "type", string(res.Type))
	response.JSON(w, r, http.StatusCreated, res)
}

func (h *ResourceHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	result, err := h.claims.Claim(r.Context(), req.Code, id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, validateResponse{Resource: result.Resource, AuditEntry: result.Scan})
}

func (h *ResourceHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	entries, err := h.claims.History(r.Context(), id, intQuery(r, "limit", 0))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

func (h *ResourceHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	resourceID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.claims.Detail(r.Context(), id, resourceID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *ResourceHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	resourceID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.claims.DeleteHistory(r.Context(), id, resourceID); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Limits reports the caller's generic issuing budget for the rolling day.
func (h *ResourceHandler) Limits(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	usage, err := h.claims.DailyUsage(r.Context(), id.UserID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, usage)
}

func (h *ResourceHandler) Assigned(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	tickets, err := h.claims.Assigned(r.Context(), id, intQuery(r, "limit", 0))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"tickets": tickets})
}
