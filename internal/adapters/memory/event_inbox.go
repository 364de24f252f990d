package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/timeutil"
)

// EventInbox is an in-memory EventInbox
type EventInbox struct {
	mu     sync.Mutex
	events map[string]*domain.InboxEvent
	now    func() time.Time
}

var _ ports.EventInbox = (*EventInbox)(nil)

// NewEventInbox creates an empty inbox
func NewEventInbox() *EventInbox {
	return &EventInbox{
		events: make(map[string]*domain.InboxEvent),
		now:    timeutil.Now,
	}
}

func (i *EventInbox) Record(ctx context.Context, event domain.PaymentEvent) (*domain.InboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.events[event.EventID]; ok {
		cp := *existing
		return &cp, nil
	}

	now := i.now()
	entry := &domain.InboxEvent{
		EventID:    event.EventID,
		Event:      event,
		Status:     domain.InboxStatusReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	i.events[event.EventID] = entry
	cp := *entry
	return &cp, nil
}

func (i *EventInbox) MarkDone(ctx context.Context, eventID string) error {
	return i.update(ctx, eventID, func(e *domain.InboxEvent) {
		e.Status = domain.InboxStatusDone
		e.LastError = ""
		e.Retryable = false
	})
}

func (i *EventInbox) MarkFailed(ctx context.Context, eventID string, cause error, retryable bool) error {
	return i.update(ctx, eventID, func(e *domain.InboxEvent) {
		e.Status = domain.InboxStatusFailed
		e.Attempts++
		e.Retryable = retryable
		if cause != nil {
			e.LastError = cause.Error()
		}
	})
}

func (i *EventInbox) Get(ctx context.Context, eventID string) (*domain.InboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.events[eventID]
	if !ok {
		return nil, domain.ErrEventNotFound.WithDetail("event_id", eventID)
	}
	cp := *e
	return &cp, nil
}

func (i *EventInbox) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*domain.InboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var out []*domain.InboxEvent
	for _, e := range i.events {
		if e.Status == domain.InboxStatusFailed && e.Retryable && e.Attempts < maxAttempts {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ReceivedAt.Equal(out[b].ReceivedAt) {
			return out[a].EventID < out[b].EventID
		}
		return out[a].ReceivedAt.Before(out[b].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (i *EventInbox) update(ctx context.Context, eventID string, fn func(*domain.InboxEvent)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.events[eventID]
	if !ok {
		return domain.ErrEventNotFound.WithDetail("event_id", eventID)
	}
	fn(e)
	e.UpdatedAt = i.now()
	return nil
}
