// Package router decides which specialized agent should handle a user
// request and relays the request over A2A.
//
// The routing LLM is asked for a JSON decision of the form
//
//	{"agent_name": "<agent or none>", "message": "<text>"}
//
// which is parsed, validated against a schema built from the live roster,
// and then either answered directly or delegated. Anything that goes wrong
// on the way falls back to the first agent in roster order.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"splunkdesk/internal/audit"
	"splunkdesk/internal/config"
	"splunkdesk/internal/metrics"
)

// NoAgent is the decision value for requests the router answers itself.
const NoAgent = "none"

// DefaultGreeting is returned for a direct reply with no message.
const DefaultGreeting = "How can I help you with Splunk today?"

// Reply kinds.
const (
	KindDirect    = "direct"
	KindDelegated = "delegated"
	KindFallback  = "fallback"
	KindError     = "error"
)

// Fallback reasons.
const (
	ReasonLLMError     = "llm_error"
	ReasonMalformed    = "malformed"
	ReasonUnknownAgent = "unknown_agent"
	ReasonInvalid      = "invalid"
)

var (
	// ErrUnknownAgent is returned when a decision or send names an agent
	// that is not in the roster.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNoAgents is returned when the roster is empty.
	ErrNoAgents = errors.New("no remote agents available")
	// ErrNoResponse is returned by a Sender when the agent produced no result.
	ErrNoResponse = errors.New("no response from agent")
	// ErrMalformed is returned when the LLM output is not a JSON object.
	ErrMalformed = errors.New("malformed routing decision")
	// ErrInvalidDecision is returned when a decision fails schema validation.
	ErrInvalidDecision = errors.New("invalid routing decision")
)

// Agent is one roster entry as presented to the routing LLM.
type Agent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Decision is the routing LLM's structured answer.
type Decision struct {
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
}

// Reply is what the router hands back to the user.
type Reply struct {
	Text   string `json:"text"`
	Agent  string `json:"agent,omitempty"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// Sender delivers a message to a named agent and returns its text reply.
type Sender interface {
	Send(ctx context.Context, agentName, text string) (string, error)
}

// Recorder persists routing outcomes.
type Recorder interface {
	Record(ctx context.Context, event *audit.Event) error
}

// Config configures a Router.
type Config struct {
	LLM    adkmodel.LLM
	Sender Sender
	// Agents in discovery order. The first one is the fallback target.
	Agents []Agent
	// Prompt is the system prompt template; {agents} is replaced with the roster.
	Prompt   string
	Settings config.AgentSettings

	Recorder Recorder
	Metrics  *metrics.Metrics
}

// Router turns user requests into routing decisions and dispatches them.
type Router struct {
	llm      adkmodel.LLM
	sender   Sender
	agents   []Agent
	known    map[string]bool
	prompt   string
	settings config.AgentSettings
	schema   *jsonschema.Resolved
	raw      *jsonschema.Schema
	recorder Recorder
	metrics  *metrics.Metrics
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if cfg.LLM == nil {
		return nil, errors.New("router: LLM is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("router: sender is required")
	}

	r := &Router{
		llm:      cfg.LLM,
		sender:   cfg.Sender,
		agents:   cfg.Agents,
		known:    make(map[string]bool, len(cfg.Agents)),
		prompt:   cfg.Prompt,
		settings: cfg.Settings,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
	}
	for _, a := range cfg.Agents {
		if a.Name == NoAgent {
			return nil, fmt.Errorf("router: agent name %q is reserved", NoAgent)
		}
		if r.known[a.Name] {
			return nil, fmt.Errorf("router: duplicate agent %q", a.Name)
		}
		r.known[a.Name] = true
	}

	r.raw = buildSchema(r.agentNames())
	resolved, err := r.raw.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("router: resolve decision schema: %w", err)
	}
	r.schema = resolved
	return r, nil
}

// Agents returns the roster in routing order.
func (r *Router) Agents() []Agent {
	return append([]Agent(nil), r.agents...)
}

// Roster renders the agents as newline-separated JSON objects.
func (r *Router) Roster() string {
	lines := make([]string, 0, len(r.agents))
	for _, a := range r.agents {
		b, err := json.Marshal(a)
		if err != nil {
			continue
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n")
}

// Schema returns the JSON schema routing decisions must satisfy.
func (r *Router) Schema() *jsonschema.Schema {
	return r.raw
}

// SystemPrompt returns the router prompt with the roster filled in.
func (r *Router) SystemPrompt() string {
	return strings.ReplaceAll(r.prompt, "{agents}", r.Roster())
}

func (r *Router) agentNames() []string {
	names := make([]string, 0, len(r.agents))
	for _, a := range r.agents {
		names = append(names, a.Name)
	}
	return names
}

// Route decides where userMessage goes and returns the reply to show the
// user. Failures are reported as "Error: ..." reply text, never as a Go error.
func (r *Router) Route(ctx context.Context, userMessage string) Reply {
	start := time.Now()
	reply := r.route(ctx, userMessage)
	r.observe(ctx, userMessage, reply, time.Since(start))
	return reply
}

func (r *Router) route(ctx context.Context, userMessage string) Reply {
	raw, err := r.decide(ctx, userMessage)
	if err != nil {
		slog.Warn("router: LLM call failed", "err", err)
		r.metrics.LLMError()
		return r.fallback(ctx, userMessage, ReasonLLMError)
	}
	slog.Debug("router: LLM decision", "raw", raw)

	d, err := r.ParseDecision(raw)
	if err != nil {
		reason := ReasonInvalid
		switch {
		case errors.Is(err, ErrMalformed):
			reason = ReasonMalformed
		case errors.Is(err, ErrUnknownAgent):
			reason = ReasonUnknownAgent
		}
		slog.Warn("router: rejecting decision", "reason", reason, "err", err)
		return r.fallback(ctx, userMessage, reason)
	}

	if d.AgentName == "" || d.AgentName == NoAgent {
		text := d.Message
		if text == "" {
			text = DefaultGreeting
		}
		return Reply{Text: text, Kind: KindDirect}
	}

	text := d.Message
	if text == "" {
		text = userMessage
	}
	return r.delegate(ctx, d.AgentName, text, KindDelegated, "")
}

// decide asks the LLM for a routing decision and returns its raw text.
func (r *Router) decide(ctx context.Context, userMessage string) (string, error) {
	temp := float32(r.settings.TemperatureOr(config.DefaultRouterTemperature))
	req := &adkmodel.LLMRequest{
		Model:    r.llm.Name(),
		Contents: []*genai.Content{genai.NewContentFromText(userMessage, genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(r.SystemPrompt(), genai.RoleUser),
			Temperature:       &temp,
			MaxOutputTokens:   int32(r.settings.MaxOutputTokens),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    genaiSchema(r.agentNames()),
		},
	}

	var sb strings.Builder
	for resp, err := range r.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Content == nil {
			continue
		}
		for _, p := range resp.Content.Parts {
			if p != nil && p.Text != "" && !p.Thought {
				sb.WriteString(p.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty LLM response")
	}
	return sb.String(), nil
}

// fallback delivers the original message to the first agent in roster order.
func (r *Router) fallback(ctx context.Context, userMessage, reason string) Reply {
	if len(r.agents) == 0 {
		return Reply{Text: "Error: No remote agents available.", Kind: KindError, Reason: reason}
	}
	name := r.agents[0].Name
	slog.Info("router: fallback", "agent", name, "reason", reason)
	return r.delegate(ctx, name, userMessage, KindFallback, reason)
}

func (r *Router) delegate(ctx context.Context, agentName, text, kind, reason string) Reply {
	start := time.Now()
	out, err := r.sender.Send(ctx, agentName, text)
	r.metrics.ObserveDispatch(agentName, time.Since(start), err)

	switch {
	case errors.Is(err, ErrNoResponse) || (err == nil && out == ""):
		return Reply{
			Text:   fmt.Sprintf("Error: No response received from agent '%s'.", agentName),
			Agent:  agentName,
			Kind:   KindError,
			Reason: reason,
		}
	case err != nil:
		slog.Error("router: dispatch failed", "agent", agentName, "err", err)
		return Reply{Text: "Error: " + err.Error(), Agent: agentName, Kind: KindError, Reason: reason}
	}
	return Reply{Text: out, Agent: agentName, Kind: kind, Reason: reason}
}

func (r *Router) observe(ctx context.Context, userMessage string, reply Reply, elapsed time.Duration) {
	r.metrics.RecordDecision(reply.Agent, reply.Kind, reply.Reason)
	if r.recorder == nil {
		return
	}

	status := audit.StatusSuccess
	var errText, direct string
	switch reply.Kind {
	case KindError:
		status = audit.StatusError
		errText = reply.Text
	case KindDirect:
		direct = reply.Text
	}
	event := &audit.Event{
		SessionID: audit.SessionIDFromContext(ctx),
		UserQuery: userMessage,
		Decision: audit.Decision{
			Agent:   reply.Agent,
			Kind:    reply.Kind,
			Reason:  reply.Reason,
			Message: direct,
		},
		Outcome: audit.Outcome{
			Status:   status,
			Error:    errText,
			Duration: elapsed,
		},
	}
	if err := r.recorder.Record(ctx, event); err != nil {
		slog.Warn("router: failed to record audit event", "err", err)
	}
}
