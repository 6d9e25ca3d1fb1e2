package router

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"splunkdesk/internal/audit"
)

type fakeLLM struct {
	text    string
	err     error
	lastReq *adkmodel.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake-router-model" }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	f.lastReq = req
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&adkmodel.LLMResponse{Content: genai.NewContentFromText(f.text, genai.RoleModel)}, nil)
	}
}

type sentMessage struct {
	Agent string
	Text  string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	reply string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, agentName, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Agent: agentName, Text: text})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeRecorder struct {
	events []*audit.Event
}

func (f *fakeRecorder) Record(ctx context.Context, e *audit.Event) error {
	f.events = append(f.events, e)
	return nil
}

var testAgents = []Agent{
	{Name: "splunk_inventory_agent", Description: "Lists indexes, sourcetypes and hosts"},
	{Name: "splunk_query_agent", Description: "Runs SPL queries"},
	{Name: "jira_action_agent", Description: "Creates and updates Jira issues"},
}

func newTestRouter(t *testing.T, llm *fakeLLM, sender *fakeSender, agents []Agent) *Router {
	t.Helper()
	r, err := New(Config{
		LLM:    llm,
		Sender: sender,
		Agents: agents,
		Prompt: "You route requests.\nAgents:\n{agents}",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Sender: &fakeSender{}}); err == nil {
		t.Error("expected error without LLM")
	}
	if _, err := New(Config{LLM: &fakeLLM{}}); err == nil {
		t.Error("expected error without sender")
	}
	if _, err := New(Config{LLM: &fakeLLM{}, Sender: &fakeSender{}, Agents: []Agent{{Name: "none"}}}); err == nil {
		t.Error("expected error for reserved agent name")
	}
	dup := []Agent{{Name: "a"}, {Name: "a"}}
	if _, err := New(Config{LLM: &fakeLLM{}, Sender: &fakeSender{}, Agents: dup}); err == nil {
		t.Error("expected error for duplicate agent")
	}
}

func TestRoster(t *testing.T) {
	r := newTestRouter(t, &fakeLLM{}, &fakeSender{}, testAgents[:2])
	want := `{"name":"splunk_inventory_agent","description":"Lists indexes, sourcetypes and hosts"}` + "\n" +
		`{"name":"splunk_query_agent","description":"Runs SPL queries"}`
	if got := r.Roster(); got != want {
		t.Errorf("Roster() mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestSchema(t *testing.T) {
	r := newTestRouter(t, &fakeLLM{}, &fakeSender{}, testAgents)
	s := r.Schema()

	wantEnum := []any{"splunk_inventory_agent", "splunk_query_agent", "jira_action_agent", "none"}
	if diff := cmp.Diff(wantEnum, s.Properties["agent_name"].Enum); diff != "" {
		t.Errorf("enum mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"agent_name", "message"}, s.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
}

func TestRoute(t *testing.T) {
	const userMsg = "how many 404s in web logs yesterday?"

	tests := []struct {
		name      string
		llmText   string
		llmErr    error
		agents    []Agent
		sendReply string
		sendErr   error
		want      Reply
		wantSent  []sentMessage
	}{
		{
			name:     "direct reply",
			llmText:  `{"agent_name": "none", "message": "Hello! I can help with Splunk."}`,
			agents:   testAgents,
			want:     Reply{Text: "Hello! I can help with Splunk.", Kind: KindDirect},
			wantSent: nil,
		},
		{
			name:    "direct reply without message uses greeting",
			llmText: `{"agent_name": "none", "message": ""}`,
			agents:  testAgents,
			want:    Reply{Text: DefaultGreeting, Kind: KindDirect},
		},
		{
			name:    "missing agent_name is a direct reply",
			llmText: `{"message": "Hi there"}`,
			agents:  testAgents,
			want:    Reply{Text: "Hi there", Kind: KindDirect},
		},
		{
			name:      "delegates rewritten message",
			llmText:   `{"agent_name": "splunk_query_agent", "message": "count status=404 in index=web earliest=-1d"}`,
			agents:    testAgents,
			sendReply: "42 events",
			want:      Reply{Text: "42 events", Agent: "splunk_query_agent", Kind: KindDelegated},
			wantSent:  []sentMessage{{"splunk_query_agent", "count status=404 in index=web earliest=-1d"}},
		},
		{
			name:      "empty message forwards original",
			llmText:   `{"agent_name": "jira_action_agent", "message": ""}`,
			agents:    testAgents,
			sendReply: "SCRUM-12 created",
			want:      Reply{Text: "SCRUM-12 created", Agent: "jira_action_agent", Kind: KindDelegated},
			wantSent:  []sentMessage{{"jira_action_agent", userMsg}},
		},
		{
			name:      "code fenced decision",
			llmText:   "```json\n{\"agent_name\": \"splunk_inventory_agent\", \"message\": \"list indexes\"}\n```",
			agents:    testAgents,
			sendReply: "main, web",
			want:      Reply{Text: "main, web", Agent: "splunk_inventory_agent", Kind: KindDelegated},
			wantSent:  []sentMessage{{"splunk_inventory_agent", "list indexes"}},
		},
		{
			name:      "malformed output falls back to first agent",
			llmText:   "I think the query agent should handle this",
			agents:    testAgents,
			sendReply: "inventory answer",
			want:      Reply{Text: "inventory answer", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonMalformed},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:      "json array is malformed",
			llmText:   `["splunk_query_agent"]`,
			agents:    testAgents,
			sendReply: "ok",
			want:      Reply{Text: "ok", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonMalformed},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:      "unknown agent falls back with original message",
			llmText:   `{"agent_name": "splunk_admin_agent", "message": "rewritten"}`,
			agents:    testAgents,
			sendReply: "ok",
			want:      Reply{Text: "ok", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonUnknownAgent},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:      "wrong message type is invalid",
			llmText:   `{"agent_name": "splunk_query_agent", "message": 7}`,
			agents:    testAgents,
			sendReply: "ok",
			want:      Reply{Text: "ok", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonInvalid},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:      "missing message is invalid",
			llmText:   `{"agent_name": "splunk_query_agent"}`,
			agents:    testAgents,
			sendReply: "ok",
			want:      Reply{Text: "ok", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonInvalid},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:      "llm error falls back",
			llmErr:    errors.New("quota exceeded"),
			agents:    testAgents,
			sendReply: "ok",
			want:      Reply{Text: "ok", Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonLLMError},
			wantSent:  []sentMessage{{"splunk_inventory_agent", userMsg}},
		},
		{
			name:    "fallback without agents",
			llmText: "garbage",
			agents:  nil,
			want:    Reply{Text: "Error: No remote agents available.", Kind: KindError, Reason: ReasonMalformed},
		},
		{
			name:     "empty agent reply",
			llmText:  `{"agent_name": "splunk_query_agent", "message": "q"}`,
			agents:   testAgents,
			want:     Reply{Text: "Error: No response received from agent 'splunk_query_agent'.", Agent: "splunk_query_agent", Kind: KindError},
			wantSent: []sentMessage{{"splunk_query_agent", "q"}},
		},
		{
			name:     "no response sentinel",
			llmText:  `{"agent_name": "splunk_query_agent", "message": "q"}`,
			agents:   testAgents,
			sendErr:  ErrNoResponse,
			want:     Reply{Text: "Error: No response received from agent 'splunk_query_agent'.", Agent: "splunk_query_agent", Kind: KindError},
			wantSent: []sentMessage{{"splunk_query_agent", "q"}},
		},
		{
			name:     "send error",
			llmText:  `{"agent_name": "splunk_query_agent", "message": "q"}`,
			agents:   testAgents,
			sendErr:  errors.New("connection refused"),
			want:     Reply{Text: "Error: connection refused", Agent: "splunk_query_agent", Kind: KindError},
			wantSent: []sentMessage{{"splunk_query_agent", "q"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{text: tt.llmText, err: tt.llmErr}
			sender := &fakeSender{reply: tt.sendReply, err: tt.sendErr}
			r := newTestRouter(t, llm, sender, tt.agents)

			got := r.Route(context.Background(), userMsg)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Route() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSent, sender.sent); diff != "" {
				t.Errorf("sent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoute_LLMRequest(t *testing.T) {
	llm := &fakeLLM{text: `{"agent_name":"none","message":"hi"}`}
	r := newTestRouter(t, llm, &fakeSender{}, testAgents)
	r.Route(context.Background(), "hello")

	req := llm.lastReq
	if req == nil {
		t.Fatal("LLM was not called")
	}
	if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
		t.Errorf("expected only the user message in contents, got %+v", req.Contents)
	}
	cfg := req.Config
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", cfg.ResponseMIMEType)
	}
	if cfg.ResponseSchema == nil || len(cfg.ResponseSchema.Properties["agent_name"].Enum) != 4 {
		t.Errorf("ResponseSchema = %+v", cfg.ResponseSchema)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", cfg.Temperature)
	}
	sys := cfg.SystemInstruction.Parts[0].Text
	if !strings.Contains(sys, `{"name":"jira_action_agent"`) || strings.Contains(sys, "{agents}") {
		t.Errorf("system prompt not filled: %q", sys)
	}
}

func TestRoute_RecordsAuditEvent(t *testing.T) {
	rec := &fakeRecorder{}
	r, err := New(Config{
		LLM:      &fakeLLM{text: "not json"},
		Sender:   &fakeSender{reply: "done"},
		Agents:   testAgents,
		Recorder: rec,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := audit.WithSessionID(context.Background(), "sess_42")
	r.Route(ctx, "list hosts")

	if len(rec.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(rec.events))
	}
	e := rec.events[0]
	want := audit.Decision{Agent: "splunk_inventory_agent", Kind: KindFallback, Reason: ReasonMalformed}
	if diff := cmp.Diff(want, e.Decision); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}
	if e.SessionID != "sess_42" || e.UserQuery != "list hosts" || e.Outcome.Status != audit.StatusSuccess {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestParseDecision_Errors(t *testing.T) {
	r := newTestRouter(t, &fakeLLM{}, &fakeSender{}, testAgents)

	tests := []struct {
		raw  string
		want error
	}{
		{"", ErrMalformed},
		{"{", ErrMalformed},
		{`"just a string"`, ErrMalformed},
		{`{"agent_name":"ghost","message":"x"}`, ErrUnknownAgent},
		{`{"agent_name":42,"message":"x"}`, ErrInvalidDecision},
		{`{"agent_name":"splunk_query_agent","message":null}`, ErrInvalidDecision},
		{`{"agent_name":"none","message":5}`, ErrInvalidDecision},
		{`{"agent_name":"none"}`, ErrInvalidDecision},
	}
	for _, tt := range tests {
		_, err := r.ParseDecision(tt.raw)
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseDecision(%q) error = %v, want %v", tt.raw, err, tt.want)
		}
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		`  {"a":1}  `:             `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```\n":   `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
		"no fence here":           "no fence here",
	}
	for in, want := range tests {
		if got := stripFence(in); got != want {
			t.Errorf("stripFence(%q) = %q, want %q", in, got, want)
		}
	}
}
