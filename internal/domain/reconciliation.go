package domain

import (
	"time"
)

// Stage is the orchestrator's position while handling one event
type Stage string

const (
	StageReceived       Stage = "received"
	StageConverted      Stage = "converted"
	StageDispatched     Stage = "dispatched"
	StageApplied        Stage = "applied"
	StageTriggerChecked Stage = "trigger_checked"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// ReconciliationResult summarizes the handling of one event
type ReconciliationResult struct {
	Err          error
	EventID      string
	PaymentID    string
	Stage        Stage
	FailedAt     Stage // last stage reached before failing
	Apply        ApplyOutcome
	Noop         bool
	OrderCreated bool
	Retryable    bool
	Unrecorded   bool // the inbox holds no durable record of the outcome
}

// Acknowledge reports whether the gateway delivery should be acknowledged.
// Retryable failures are recovered from the inbox, so only one the inbox
// failed to store is refused and left for the gateway to redeliver.
func (r ReconciliationResult) Acknowledge() bool {
	return !(r.Failed() && r.Retryable && r.Unrecorded)
}

// Failed returns true when the event ended in the failed stage
func (r ReconciliationResult) Failed() bool {
	return r.Stage == StageFailed
}

// InboxStatus tracks an event's processing state in the inbox
type InboxStatus string

const (
	InboxStatusReceived InboxStatus = "received"
	InboxStatusDone     InboxStatus = "done"
	InboxStatusFailed   InboxStatus = "failed"
)

// InboxEvent is the durable record of a received gateway event
type InboxEvent struct {
	ReceivedAt time.Time    `json:"received_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Event      PaymentEvent `json:"event"`
	EventID    string       `json:"event_id"`
	Status     InboxStatus  `json:"status"`
	LastError  string       `json:"last_error,omitempty"`
	Attempts   int          `json:"attempts"`
	Retryable  bool         `json:"retryable"`
}
