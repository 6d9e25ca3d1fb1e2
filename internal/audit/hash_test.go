package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, n int) []Event {
	t.Helper()
	events := make([]Event, n)
	prev := GenesisHash
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range events {
		events[i] = Event{
			EventID:   "evt_" + string(rune('a'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SessionID: "sess_1",
			UserQuery: "how many indexes",
			Decision:  Decision{Agent: "splunk_inventory_agent", Kind: "delegated"},
			Outcome:   Outcome{Status: StatusSuccess, Duration: time.Second},
			PrevHash:  prev,
		}
		events[i].EventHash = ComputeEventHash(&events[i])
		prev = events[i].EventHash
	}
	return events
}

func TestComputeEventHash_Deterministic(t *testing.T) {
	e := chain(t, 1)[0]
	h1 := ComputeEventHash(&e)
	h2 := ComputeEventHash(&e)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	e.UserQuery = "tampered"
	assert.NotEqual(t, h1, ComputeEventHash(&e))
}

func TestComputeEventHash_IgnoresEventHash(t *testing.T) {
	e := chain(t, 1)[0]
	h := ComputeEventHash(&e)
	e.EventHash = "something else"
	assert.Equal(t, h, ComputeEventHash(&e))
}

func TestComputeEventHash_TimezoneIndependent(t *testing.T) {
	e := chain(t, 1)[0]
	h := ComputeEventHash(&e)
	e.Timestamp = e.Timestamp.In(time.FixedZone("X", 3600))
	assert.Equal(t, h, ComputeEventHash(&e))
}

func TestVerifyChain(t *testing.T) {
	idx, err := VerifyChain(chain(t, 5))
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	idx, err = VerifyChain(nil)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestVerifyChain_TamperedEvent(t *testing.T) {
	events := chain(t, 4)
	events[2].Decision.Agent = "jira_action_agent"

	idx, err := VerifyChain(events)
	require.Error(t, err)
	assert.Equal(t, 2, idx)
	assert.Contains(t, err.Error(), "invalid hash")
}

func TestVerifyChain_BrokenLink(t *testing.T) {
	events := chain(t, 4)
	// Drop an event: the hashes are intact but the link is not.
	events = append(events[:1], events[2:]...)

	idx, err := VerifyChain(events)
	require.Error(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, err.Error(), "broken chain link")
}

func TestVerifyChainStatus(t *testing.T) {
	events := chain(t, 3)
	status := VerifyChainStatus(events)
	assert.True(t, status.Valid)
	assert.Equal(t, 3, status.TotalEvents)
	assert.Equal(t, -1, status.BrokenAt)
	assert.Equal(t, events[0].EventID, status.FirstEventID)
	assert.Equal(t, events[2].EventHash, status.LastHash)

	events[0].UserQuery = "x"
	status = VerifyChainStatus(events)
	assert.False(t, status.Valid)
	assert.Equal(t, 0, status.BrokenAt)
	assert.NotEmpty(t, status.Error)
}
