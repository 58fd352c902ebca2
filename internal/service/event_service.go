package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

const (
	maxEventNameLength        = 200
	maxEventDescriptionLength = 2000
	maxEventLocationLength    = 300
)

type EventInput struct {
	Name        string
	Description string
	Date        time.Time
	Location    string
}

// EventService manages events and hands out tickets bound to them.
type EventService struct {
	events    repository.EventRepository
	users     repository.UserRepository
	claims    *ClaimService
	publisher events.Publisher
	now       func() time.Time
}

func NewEventService(
	eventRepo repository.EventRepository,
	users repository.UserRepository,
	claims *ClaimService,
	publisher events.Publisher,
) *EventService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &EventService{
		events:    eventRepo,
		users:     users,
		claims:    claims,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *EventService) Create(ctx context.Context, actor Identity, in EventInput) (*domain.Event, error) {
	if !actor.Can(domain.CapManageEvents) {
		return nil, ErrForbidden
	}
	ev := &domain.Event{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date.UTC(),
		Location:    strings.TrimSpace(in.Location),
		CreatedBy:   actor.UserID,
	}
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

func (s *EventService) Get(ctx context.Context, id uint) (*domain.Event, error) {
	ev, err := s.events.FindByID(ctx, id)
	if errors.Is(err, repository.ErrEventNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return ev, nil
}

// List returns events soonest first. Past events are hidden unless
// includePast is set.
func (s *EventService) List(ctx context.Context, includePast bool, req repository.PageRequest) (repository.PageResult[domain.Event], error) {
	var from time.Time
	if !includePast {
		from = s.now().Truncate(24 * time.Hour)
	}
	page, err := s.events.List(ctx, from, req)
	if err != nil {
		return page, fmt.Errorf("list events: %w", err)
	}
	return page, nil
}

func (s *EventService) Update(ctx context.Context, actor Identity, id uint, changes domain.EventChanges) (*domain.Event, error) {
	if !actor.Can(domain.CapManageEvents) {
		return nil, ErrForbidden
	}
	if changes.Empty() {
		return nil, Validation("empty_update", "at least one field is required")
	}
	preview := domain.Event{Name: "-", Date: time.Unix(1, 0)}
	changes.Apply(&preview)
	if err := validateEvent(&preview); err != nil {
		return nil, err
	}
	ev, err := s.events.Update(ctx, id, changes)
	if errors.Is(err, repository.ErrEventNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return ev, nil
}

func (s *EventService) Delete(ctx context.Context, actor Identity, id uint) error {
	if !actor.Can(domain.CapManageEvents) {
		return ErrForbidden
	}
	err := s.events.Delete(ctx, id)
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return ErrEventNotFound
	case errors.Is(err, repository.ErrEventInUse):
		return ErrEventInUse
	case err != nil:
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// ApproveTickets issues quantity one-time tickets for the event, assigned to
// userID so only that user (or a bypassing validator) can claim them.
func (s *EventService) ApproveTickets(ctx context.Context, actor Identity, eventID, userID uint, quantity int) ([]domain.Resource, error) {
	ctx, span := observability.StartSpan(ctx, "event_service.approve_tickets")
	defer span.End()

	if !actor.Can(domain.CapManageEvents) {
		return nil, ErrForbidden
	}
	if quantity < 1 || quantity > MaxTicketBatch {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.Get(ctx, eventID); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	tickets, err := s.claims.IssueBatch(ctx, actor.UserID, userID, eventID, quantity)
	if err != nil {
		return nil, err
	}
	_ = s.publisher.Publish(ctx, events.New(events.TypeTicketsApproved, map[string]any{
		"event_id":    eventID,
		"user_id":     userID,
		"quantity":    quantity,
		"approved_by": actor.UserID,
	}))
	return tickets, nil
}

func validateEvent(ev *domain.Event) error {
	switch {
	case ev.Name == "":
		return Validation("invalid_event", "name is required")
	case len(ev.Name) > maxEventNameLength:
		return Validation("invalid_event", fmt.Sprintf("name must be at most %d characters", maxEventNameLength))
	case len(ev.Description) > maxEventDescriptionLength:
		return Validation("invalid_event", fmt.Sprintf("description must be at most %d characters", maxEventDescriptionLength))
	case len(ev.Location) > maxEventLocationLength:
		return Validation("invalid_event", fmt.Sprintf("location must be at most %d characters", maxEventLocationLength))
	case ev.Date.IsZero():
		return Validation("invalid_event", "date is required")
	}
	return nil
}
