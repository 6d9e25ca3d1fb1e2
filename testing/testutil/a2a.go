// Package testutil holds helpers for tests that talk to running splunkdesk
// agents.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"splunkdesk/internal/discovery"
	"splunkdesk/internal/router"
)

// AgentResponse captures the result of sending a prompt to an agent.
type AgentResponse struct {
	Agent    string
	Text     string
	Duration time.Duration
	Error    error
}

// SendPrompt discovers the agent at agentURL and sends it prompt over A2A.
func SendPrompt(ctx context.Context, agentURL, prompt string) AgentResponse {
	start := time.Now()

	agents, err := discovery.Discover(ctx, []string{agentURL})
	if err != nil {
		return AgentResponse{Duration: time.Since(start), Error: fmt.Errorf("discover %s: %w", agentURL, err)}
	}
	name := agents[0].Name

	text, err := router.NewA2ASender(agents, 0).Send(ctx, name, prompt)
	return AgentResponse{
		Agent:    name,
		Text:     text,
		Duration: time.Since(start),
		Error:    err,
	}
}

// ChatResponse is the routing agent's /api/v1/chat body.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Agent     string `json:"agent"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// Chat posts message to the routing agent's REST API.
func Chat(ctx context.Context, routerURL, message, sessionID string) (*ChatResponse, error) {
	body, _ := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(routerURL, "/")+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
