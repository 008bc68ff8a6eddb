package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of an authentication decision.
type Outcome string

const (
	// OutcomeAllowed means the request was forwarded upstream.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeDenied means the request was rejected.
	OutcomeDenied Outcome = "denied"
)

// Event is one authentication decision. Reason carries the stable
// failure reason ("api_key_invalid", "token_expired", ...) or "ok" for
// allowed requests.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	Mode       string    `json:"mode"`
	Reason     string    `json:"reason"`
	Principal  string    `json:"principal,omitempty"`
	Route      string    `json:"route"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
}

// NewEvent creates a decision event with an ID and timestamp filled in.
func NewEvent(outcome Outcome, mode, reason string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		Mode:      mode,
		Reason:    reason,
	}
}
