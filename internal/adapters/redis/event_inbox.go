package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/timeutil"
)

// maxUpdateAttempts bounds WATCH retries when two writers touch one event
const maxUpdateAttempts = 3

// EventInbox stores each event as a JSON document. Failed retryable events
// are also indexed in a sorted set scored by receive time, which keeps
// ListRetryable oldest first without scanning every key.
type EventInbox struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ ports.EventInbox = (*EventInbox)(nil)

// NewEventInbox creates a Redis event inbox
func NewEventInbox(client *redis.Client, keyPrefix string) *EventInbox {
	return &EventInbox{client: client, prefix: keyPrefix, now: timeutil.Now}
}

func (i *EventInbox) eventKey(id string) string {
	return i.prefix + "inbox:" + id
}

func (i *EventInbox) retryableKey() string {
	return i.prefix + "inbox:retryable"
}

func (i *EventInbox) Record(ctx context.Context, event domain.PaymentEvent) (*domain.InboxEvent, error) {
	now := i.now()
	entry := &domain.InboxEvent{
		EventID:    event.EventID,
		Event:      event,
		Status:     domain.InboxStatusReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode inbox event: %w", err)
	}

	created, err := i.client.SetNX(ctx, i.eventKey(event.EventID), data, 0).Result()
	if err != nil {
		return nil, storeError("record event", err)
	}
	if created {
		return entry, nil
	}
	return i.Get(ctx, event.EventID)
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
	entry, err := i.read(ctx, i.client, eventID)
	if err != nil {
		return nil, storeError("get event", err)
	}
	return entry, nil
}

// ListRetryable returns failed retryable events under maxAttempts, oldest first
func (i *EventInbox) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*domain.InboxEvent, error) {
	ids, err := i.client.ZRange(ctx, i.retryableKey(), 0, -1).Result()
	if err != nil {
		return nil, storeError("list retryable events", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for n, id := range ids {
		keys[n] = i.eventKey(id)
	}
	values, err := i.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeError("list retryable events", err)
	}

	var out []*domain.InboxEvent
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry domain.InboxEvent
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode inbox event: %w", err)
		}
		if entry.Status != domain.InboxStatusFailed || !entry.Retryable || entry.Attempts >= maxAttempts {
			continue
		}
		out = append(out, &entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (i *EventInbox) update(ctx context.Context, eventID string, fn func(*domain.InboxEvent)) error {
	key := i.eventKey(eventID)

	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = i.client.Watch(ctx, func(tx *redis.Tx) error {
			entry, err := i.read(ctx, tx, eventID)
			if err != nil {
				return err
			}
			fn(entry)
			entry.UpdatedAt = i.now()

			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("encode inbox event: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if entry.Status == domain.InboxStatusFailed && entry.Retryable {
					pipe.ZAdd(ctx, i.retryableKey(), redis.Z{
						Score:  float64(entry.ReceivedAt.UnixNano()),
						Member: eventID,
					})
				} else {
					pipe.ZRem(ctx, i.retryableKey(), eventID)
				}
				return nil
			})
			return err
		}, key)

		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return storeError("update event", err)
}

func (i *EventInbox) read(ctx context.Context, c redis.Cmdable, eventID string) (*domain.InboxEvent, error) {
	data, err := c.Get(ctx, i.eventKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrEventNotFound.WithDetail("event_id", eventID)
	}
	if err != nil {
		return nil, err
	}

	var entry domain.InboxEvent
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode inbox event %s: %w", eventID, err)
	}
	return &entry, nil
}
