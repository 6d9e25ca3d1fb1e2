package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the hash used for the first event in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeEventHash computes the hash of an event over its canonical JSON
// form, excluding EventHash itself.
func ComputeEventHash(event *Event) string {
	hashInput := struct {
		EventID   string   `json:"event_id"`
		Timestamp string   `json:"timestamp"`
		SessionID string   `json:"session_id"`
		UserQuery string   `json:"user_query"`
		Decision  Decision `json:"decision"`
		Outcome   Outcome  `json:"outcome"`
		PrevHash  string   `json:"prev_hash,omitempty"`
	}{
		EventID:   event.EventID,
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		SessionID: event.SessionID,
		UserQuery: event.UserQuery,
		Decision:  event.Decision,
		Outcome:   event.Outcome,
		PrevHash:  event.PrevHash,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		data = []byte(event.EventID)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChain verifies the integrity of a chain of events in chronological
// order. It returns the index of the first broken link, or -1 if the chain
// is valid.
func VerifyChain(events []Event) (int, error) {
	prev := GenesisHash
	for i := range events {
		event := &events[i]
		if event.EventHash != ComputeEventHash(event) {
			return i, fmt.Errorf("event %s has invalid hash", event.EventID)
		}
		if event.PrevHash != prev {
			return i, fmt.Errorf("event %s has broken chain link: prev_hash=%s, expected=%s",
				event.EventID, short(event.PrevHash), short(prev))
		}
		prev = event.EventHash
	}
	return -1, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ChainStatus represents the integrity status of the audit chain.
type ChainStatus struct {
	Valid        bool   `json:"valid"`
	TotalEvents  int    `json:"total_events"`
	BrokenAt     int    `json:"broken_at"` // -1 if valid
	Error        string `json:"error,omitempty"`
	FirstEventID string `json:"first_event_id,omitempty"`
	LastEventID  string `json:"last_event_id,omitempty"`
	LastHash     string `json:"last_hash,omitempty"`
}

// VerifyChainStatus performs a full chain verification and returns status.
func VerifyChainStatus(events []Event) ChainStatus {
	status := ChainStatus{TotalEvents: len(events), BrokenAt: -1, Valid: true}
	if len(events) == 0 {
		return status
	}
	status.FirstEventID = events[0].EventID
	status.LastEventID = events[len(events)-1].EventID
	status.LastHash = events[len(events)-1].EventHash

	if brokenAt, err := VerifyChain(events); err != nil {
		status.Valid = false
		status.BrokenAt = brokenAt
		status.Error = err.Error()
	}
	return status
}
