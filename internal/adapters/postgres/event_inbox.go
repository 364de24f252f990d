package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/timeutil"
)

const inboxColumns = `event_id, event, status, attempts, retryable, last_error, received_at, updated_at`

// EventInbox stores received events in the event_inbox table
type EventInbox struct {
	db  *DBExecutor
	now func() time.Time
}

var _ ports.EventInbox = (*EventInbox)(nil)

// NewEventInbox creates a PostgreSQL event inbox
func NewEventInbox(db *DBExecutor) *EventInbox {
	return &EventInbox{db: db, now: timeutil.Now}
}

// Record inserts the event unless its id is already present, then returns
// the stored row either way
func (i *EventInbox) Record(ctx context.Context, event domain.PaymentEvent) (*domain.InboxEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	now := i.now().UTC()
	_, err = i.db.DB().Exec(ctx, `INSERT INTO event_inbox (event_id, event, status, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, payload, string(domain.InboxStatusReceived), now)
	if err != nil {
		return nil, dbError("record event", err)
	}
	return i.Get(ctx, event.EventID)
}

func (i *EventInbox) MarkDone(ctx context.Context, eventID string) error {
	return i.update(ctx, eventID, `UPDATE event_inbox
		SET status = $2, retryable = FALSE, last_error = NULL, updated_at = $3
		WHERE event_id = $1`,
		string(domain.InboxStatusDone), i.now().UTC())
}

func (i *EventInbox) MarkFailed(ctx context.Context, eventID string, cause error, retryable bool) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	return i.update(ctx, eventID, `UPDATE event_inbox
		SET status = $2, attempts = attempts + 1, retryable = $3, last_error = $4, updated_at = $5
		WHERE event_id = $1`,
		string(domain.InboxStatusFailed), retryable, converters.ToNullableText(lastError), i.now().UTC())
}

func (i *EventInbox) Get(ctx context.Context, eventID string) (*domain.InboxEvent, error) {
	rows, err := i.db.DB().Query(ctx, `SELECT `+inboxColumns+` FROM event_inbox WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, dbError("get event", err)
	}
	events, err := scanInbox(rows)
	if err != nil {
		return nil, dbError("get event", err)
	}
	if len(events) == 0 {
		return nil, domain.ErrEventNotFound.WithDetail("event_id", eventID)
	}
	return events[0], nil
}

func (i *EventInbox) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*domain.InboxEvent, error) {
	rows, err := i.db.DB().Query(ctx, `SELECT `+inboxColumns+` FROM event_inbox
		WHERE status = $1 AND retryable AND attempts < $2
		ORDER BY received_at, event_id
		LIMIT $3`,
		string(domain.InboxStatusFailed), maxAttempts, limit)
	if err != nil {
		return nil, dbError("list retryable events", err)
	}
	events, err := scanInbox(rows)
	if err != nil {
		return nil, dbError("list retryable events", err)
	}
	return events, nil
}

func (i *EventInbox) update(ctx context.Context, eventID, sql string, args ...interface{}) error {
	tag, err := i.db.DB().Exec(ctx, sql, append([]interface{}{eventID}, args...)...)
	if err != nil {
		return dbError("update event", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound.WithDetail("event_id", eventID)
	}
	return nil
}

func scanInbox(rows pgx.Rows) ([]*domain.InboxEvent, error) {
	defer rows.Close()

	var events []*domain.InboxEvent
	for rows.Next() {
		var (
			entry     domain.InboxEvent
			payload   []byte
			status    string
			lastError = converters.ToNullableText("")
		)
		if err := rows.Scan(
			&entry.EventID,
			&payload,
			&status,
			&entry.Attempts,
			&entry.Retryable,
			&lastError,
			&entry.ReceivedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &entry.Event); err != nil {
			return nil, fmt.Errorf("decode stored event %s: %w", entry.EventID, err)
		}
		entry.Status = domain.InboxStatus(status)
		entry.LastError = converters.FromNullableText(lastError)
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entry.UpdatedAt = entry.UpdatedAt.UTC()
		events = append(events, &entry)
	}
	return events, rows.Err()
}
