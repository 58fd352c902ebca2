package handler

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

type EventHandler struct {
	events *service.EventService
}

func NewEventHandler(events *service.EventService) *EventHandler {
	return &EventHandler{events: events}
}

type eventRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Date        *time.Time `json:"date"`
	Location    *string    `json:"location"`
}

func (req eventRequest) changes() domain.EventChanges {
	return domain.EventChanges{Name: req.Name, Description: req.Description, Date: req.Date, Location: req.Location}
}

type approveTicketsRequest struct {
	UserID   uint `json:"userId"`
	Quantity int  `json:"quantity"`
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	page, err := h.events.List(r.Context(), r.URL.Query().Get("include_past") == "true", repository.PageRequest{
		Page:     intQuery(r, "page", 1),
		PageSize: intQuery(r, "page_size", repository.DefaultPageSize),
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	eventID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	ev, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ev)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	var draft domain.Event
	req.changes().Apply(&draft)
	created, err := h.events.Create(r.Context(), id, service.EventInput{
		Name:        draft.Name,
		Description: draft.Description,
		Date:        draft.Date,
		Location:    draft.Location,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "event_created", "actor_id", id.UserID, "event_id", created.ID)
	response.JSON(w, r, http.StatusCreated, created)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	eventID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	ev, err := h.events.Update(r.Context(), id, eventID, req.changes())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "event_updated", "actor_id", id.UserID, "event_id", ev.ID)
	response.JSON(w, r, http.StatusOK, ev)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	eventID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.events.Delete(r.Context(), id, eventID); err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "event_deleted", "actor_id", id.UserID, "event_id", eventID)
	response.NoContent(w)
}

// ApproveTickets issues a batch of tickets for the event to one user.
func (h *EventHandler) ApproveTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	eventID, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req approveTicketsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if req.UserID == 0 {
		response.FromError(w, r, service.Validation("invalid_user_id", "userId is required"))
		return
	}
	tickets, err := h.events.ApproveTickets(r.Context(), id, eventID, req.UserID, req.Quantity)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "tickets_approved", "actor_id", id.UserID, "event_id", eventID, "user_id", req.UserID, "quantity", req.Quantity)
	response.JSON(w, r, http.StatusCreated, map[string]any{"tickets": tickets})
}
