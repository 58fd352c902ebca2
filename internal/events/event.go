package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeResourceIssued          = "resource.issued"
	TypeResourceClaimed         = "resource.claimed"
	TypeTicketsApproved         = "tickets.approved"
	TypePasswordResetRequested  = "password_reset.requested"
	TypePasswordResetCompleted  = "password_reset.completed"
	TypeUserRolesChanged        = "user.roles_changed"
	TypeUserLoggedOutEverywhere = "user.logged_out_everywhere"
	TypeRefreshReuseDetected    = "session.reuse_detected"
)

// Event is a domain notification. Sensitive events carry secrets meant for a
// backend consumer (the reset mailer) and never reach browser subscribers.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
	Sensitive  bool           `json:"-"`
}

func New(typ string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

type fanout []Publisher

// Fanout delivers every event to each publisher and joins their errors.
func Fanout(publishers ...Publisher) Publisher {
	out := make(fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
