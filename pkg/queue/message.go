package queue

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Priority orders messages within a queue; higher values are dequeued first
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// priorities lists every priority from highest to lowest, the order consumers poll in
var priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is one of the defined priorities
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name to a Priority
func ParsePriority(s string) (Priority, error) {
	for _, p := range priorities {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// Status is the lifecycle state of a message
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusDeadLetter Status = "dead_letter"
)

// Message defaults
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 300 * time.Second
)

// Retry backoff bounds
const (
	retryBaseDelay = 60 * time.Second
	retryMaxDelay  = time.Hour
)

// Message is a unit of work travelling through a queue
type Message struct {
	ID                  string     `json:"id"`
	QueueName           string     `json:"queue_name"`
	Payload             any        `json:"payload"`
	Priority            Priority   `json:"priority"`
	CreatedAt           time.Time  `json:"created_at"`
	ScheduledAt         *time.Time `json:"scheduled_at"`
	Attempts            int        `json:"attempts"`
	MaxAttempts         int        `json:"max_attempts"`
	Status              Status     `json:"status"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	Tags                []string   `json:"tags"`

	// Timeout bounds a single Handle call. Encoded as timeout_seconds.
	Timeout time.Duration `json:"-"`
}

// NewMessage returns a pending message with the default priority, attempts and timeout
func NewMessage(id, queueName string, payload any, now time.Time) *Message {
	return &Message{
		ID:          id,
		QueueName:   queueName,
		Payload:     payload,
		Priority:    PriorityNormal,
		CreatedAt:   now,
		MaxAttempts: DefaultMaxAttempts,
		Status:      StatusPending,
		Tags:        []string{},
		Timeout:     DefaultTimeout,
	}
}

// Due reports whether the message may be delivered at now
func (m *Message) Due(now time.Time) bool {
	return m.ScheduledAt == nil || !m.ScheduledAt.After(now)
}

// HasTag reports whether the message carries tag
func (m *Message) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// CanRetry reports whether another attempt is allowed
func (m *Message) CanRetry() bool {
	return m.Attempts < m.MaxAttempts
}

// clone returns a copy safe to hand to a handler while the backend keeps the original
func (m *Message) clone() *Message {
	c := *m
	c.Tags = slices.Clone(m.Tags)
	c.ScheduledAt = clonePtr(m.ScheduledAt)
	c.ProcessingStartedAt = clonePtr(m.ProcessingStartedAt)
	c.CompletedAt = clonePtr(m.CompletedAt)
	return &c
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// markProcessing moves the message into the processing state
func (m *Message) markProcessing(now time.Time) {
	m.Status = StatusProcessing
	m.ProcessingStartedAt = &now
}

// fail records a failed attempt. The message is scheduled for a retry when
// attempts remain and allow is set, otherwise it is dead-lettered.
// It reports whether the message will be retried.
func (m *Message) fail(now time.Time, reason string, allow bool) bool {
	m.Attempts++
	m.ErrorMessage = reason

	if m.CanRetry() && allow {
		at := now.Add(RetryDelay(m.Attempts))
		m.Status = StatusRetrying
		m.ScheduledAt = &at
		return true
	}

	m.Status = StatusDeadLetter
	return false
}

// probe returns the message as it would look after a failed attempt, for retry policies
func (m *Message) probe(reason string) *Message {
	p := m.clone()
	p.Attempts++
	p.ErrorMessage = reason
	return p
}

// revive resets a dead-lettered message for another round of attempts
func (m *Message) revive() {
	m.Status = StatusPending
	m.Attempts = 0
	m.ErrorMessage = ""
	m.ScheduledAt = nil
	m.ProcessingStartedAt = nil
}

// RetryDelay returns the wait before retry number attempts:
// one minute doubled per prior attempt, capped at an hour.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// 60s << 6 already exceeds the cap
	if attempts > 7 {
		return retryMaxDelay
	}
	return min(retryBaseDelay<<(attempts-1), retryMaxDelay)
}

type messageJSON Message

type messageWire struct {
	*messageJSON
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// MarshalJSON encodes the message with snake_case keys and the timeout in seconds
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageWire{
		messageJSON:    (*messageJSON)(m),
		TimeoutSeconds: m.Timeout.Seconds(),
	})
}

// UnmarshalJSON decodes a message written by MarshalJSON
func (m *Message) UnmarshalJSON(data []byte) error {
	wire := messageWire{messageJSON: (*messageJSON)(m)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Timeout = time.Duration(wire.TimeoutSeconds * float64(time.Second))
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return nil
}
