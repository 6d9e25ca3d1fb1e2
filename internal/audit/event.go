// Package audit records routing decisions in a tamper-evident trail.
package audit

import "time"

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is one routed user request.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	UserQuery string    `json:"user_query"`
	Decision  Decision  `json:"decision"`
	Outcome   Outcome   `json:"outcome"`

	// Hash chain for tamper detection
	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`
}

// Decision captures where the router sent the request.
type Decision struct {
	Agent  string `json:"agent,omitempty"`
	Kind   string `json:"kind"`             // direct, delegated, fallback, error
	Reason string `json:"reason,omitempty"` // fallback reason
	// Message is the direct reply text, if any.
	Message string `json:"message,omitempty"`
}

// Outcome captures how the request ended.
type Outcome struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
