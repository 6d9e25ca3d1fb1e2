package agentutil

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"splunkdesk/internal/config"
)

// minimalPolicyYAML is a valid policy file used across policy tests.
const minimalPolicyYAML = `
version: "1"
policies:
  - name: test-policy
    resources:
      - type: splunk_index
    rules:
      - action: read
        effect: allow
      - action: write
        effect: deny
      - action: destructive
        effect: deny
        message: "not allowed"
`

func writeTempPolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

// --- InitPolicyEngine ---

func TestInitPolicyEngine_Disabled(t *testing.T) {
	engine, err := InitPolicyEngine(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine != nil {
		t.Error("expected nil engine when no policy file is set")
	}
}

func TestInitPolicyEngine_ValidFile(t *testing.T) {
	path := writeTempPolicyFile(t, minimalPolicyYAML)
	engine, err := InitPolicyEngine(Config{PolicyFile: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine == nil {
		t.Fatal("expected non-nil engine for valid policy file")
	}
}

func TestInitPolicyEngine_NonexistentFile(t *testing.T) {
	engine, err := InitPolicyEngine(Config{PolicyFile: "/nonexistent/policies.yaml"})
	if err == nil {
		t.Fatal("expected error for nonexistent policy file")
	}
	if engine != nil {
		t.Error("expected nil engine on error")
	}
}

// --- LoadConfig ---

func setRequiredModelEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SPLUNKDESK_MODEL_VENDOR", "anthropic")
	t.Setenv("SPLUNKDESK_MODEL_NAME", "claude-test")
	t.Setenv("SPLUNKDESK_API_KEY", "test-key")
}

func TestLoadConfig_MissingModelEnv(t *testing.T) {
	t.Setenv("SPLUNKDESK_MODEL_VENDOR", "")
	t.Setenv("SPLUNKDESK_MODEL_NAME", "")
	t.Setenv("SPLUNKDESK_API_KEY", "")
	if _, err := LoadConfig("localhost:8080"); err == nil {
		t.Fatal("expected error when model env vars are missing")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredModelEnv(t)
	t.Setenv("SPLUNKDESK_AGENT_ADDR", "")
	t.Setenv("SPLUNKDESK_SETTINGS", "")
	t.Setenv("SPLUNKDESK_POLICY_FILE", "")
	t.Setenv("SPLUNKDESK_AUDIT_DSN", "")

	cfg, err := LoadConfig("localhost:8082")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "localhost:8082" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
	if cfg.SettingsPath != "config/agents.yaml" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
	if cfg.PolicyFile != "" || cfg.AuditDSN != "" {
		t.Errorf("expected policy and audit disabled, got %+v", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredModelEnv(t)
	t.Setenv("SPLUNKDESK_AGENT_ADDR", "0.0.0.0:9000")
	t.Setenv("SPLUNKDESK_PUBLIC_URL", "http://inventory:9000")
	t.Setenv("SPLUNKDESK_POLICY_FILE", "/etc/splunkdesk/policies.yaml")
	t.Setenv("SPLUNKDESK_AUDIT_DSN", "postgres://audit")

	cfg, err := LoadConfig("localhost:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.PublicURL != "http://inventory:9000" {
		t.Errorf("PublicURL = %q", cfg.PublicURL)
	}
	if cfg.PolicyFile != "/etc/splunkdesk/policies.yaml" {
		t.Errorf("PolicyFile = %q", cfg.PolicyFile)
	}
	if cfg.AuditDSN != "postgres://audit" {
		t.Errorf("AuditDSN = %q", cfg.AuditDSN)
	}
}

// --- NewLLM / GenerateConfig ---

func TestNewLLM_UnknownVendor(t *testing.T) {
	_, err := NewLLM(context.Background(), Config{ModelVendor: "mystery", ModelName: "m", APIKey: "k"}, config.AgentSettings{})
	if err == nil || !strings.Contains(err.Error(), "unknown model vendor") {
		t.Fatalf("err = %v, want unknown model vendor", err)
	}
}

func TestNewLLM_SettingsOverrideModel(t *testing.T) {
	llm, err := NewLLM(context.Background(),
		Config{ModelVendor: "anthropic", ModelName: "claude-default", APIKey: "k"},
		config.AgentSettings{Model: "claude-override"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.Name() != "claude-override" {
		t.Errorf("Name() = %q, want claude-override", llm.Name())
	}
}

func TestGenerateConfig(t *testing.T) {
	temp := 0.7
	gc := GenerateConfig(config.AgentSettings{Temperature: &temp, MaxOutputTokens: 1024})
	if gc.Temperature == nil || *gc.Temperature != float32(0.7) {
		t.Errorf("Temperature = %v, want 0.7", gc.Temperature)
	}
	if gc.MaxOutputTokens != 1024 {
		t.Errorf("MaxOutputTokens = %d, want 1024", gc.MaxOutputTokens)
	}

	gc = GenerateConfig(config.AgentSettings{})
	if gc.Temperature == nil || *gc.Temperature != float32(config.DefaultAgentTemperature) {
		t.Errorf("default Temperature = %v", gc.Temperature)
	}
}

// --- AdvertisedURL ---

func TestAdvertisedURL(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}

	u, err := AdvertisedURL("", addr)
	if err != nil || u.String() != "http://127.0.0.1:8080" {
		t.Errorf("listener fallback = %v, %v", u, err)
	}

	u, err = AdvertisedURL("https://inventory.internal/", addr)
	if err != nil || u.String() != "https://inventory.internal" {
		t.Errorf("public url = %v, %v", u, err)
	}

	if _, err := AdvertisedURL("not a url", addr); err == nil {
		t.Error("expected error for invalid public url")
	}
}

// --- NewExecutorHandler ---

type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted,
		a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: "echo"}))
	event.Final = true
	return queue.Write(ctx, event)
}

func (echoExecutor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return nil
}

func TestExecutorHandler_CardAndHealth(t *testing.T) {
	card := &a2a.AgentCard{Name: "splunk_inventory_agent", Description: "inventory", URL: "http://x/invoke"}
	srv := httptest.NewServer(NewExecutorHandler(echoExecutor{}, card))
	defer srv.Close()

	resp, err := http.Get(srv.URL + a2asrv.WellKnownAgentCardPath)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	defer resp.Body.Close()
	var got a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if got.Name != "splunk_inventory_agent" {
		t.Errorf("card name = %q", got.Name)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- ServeListener(ctx, listener, http.NotFoundHandler())
	}()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("ServeListener returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// --- applyCardOptions ---

func TestApplyCardOptions_Empty(t *testing.T) {
	card := &a2a.AgentCard{
		Name:    "test",
		Version: "0.1.0",
	}
	applyCardOptions(card, CardOptions{})

	if card.Version != "0.1.0" {
		t.Errorf("Version changed to %q, expected no change", card.Version)
	}
}

func TestApplyCardOptions_Version(t *testing.T) {
	card := &a2a.AgentCard{Name: "test", Version: "0.1.0"}
	applyCardOptions(card, CardOptions{Version: "2.0.0"})
	if card.Version != "2.0.0" {
		t.Errorf("Version = %q, want %q", card.Version, "2.0.0")
	}
}

func TestApplyCardOptions_Provider(t *testing.T) {
	card := &a2a.AgentCard{Name: "test"}
	provider := &a2a.AgentProvider{Org: "TestOrg", URL: "https://test.org"}
	applyCardOptions(card, CardOptions{Provider: provider, DocumentationURL: "https://docs.example.com"})
	if card.Provider == nil || card.Provider.Org != "TestOrg" {
		t.Fatalf("Provider = %+v", card.Provider)
	}
	if card.DocumentationURL != "https://docs.example.com" {
		t.Errorf("DocumentationURL = %q", card.DocumentationURL)
	}
}

func TestApplyCardOptions_SkillTagsAndExamples(t *testing.T) {
	card := &a2a.AgentCard{
		Name: "test",
		Skills: []a2a.AgentSkill{
			{ID: "skill-a", Tags: []string{"existing"}},
			{ID: "skill-b", Tags: []string{"b-tag"}, Examples: []string{"old example"}},
		},
	}
	applyCardOptions(card, CardOptions{
		SkillTags: map[string][]string{
			"skill-a": {"new-tag-1", "new-tag-2"},
		},
		SkillExamples: map[string][]string{
			"skill-b": {"example 1", "example 2"},
		},
	})
	if len(card.Skills[0].Tags) != 3 || card.Skills[0].Tags[1] != "new-tag-1" {
		t.Errorf("skill-a tags = %v", card.Skills[0].Tags)
	}
	if len(card.Skills[1].Tags) != 1 {
		t.Errorf("skill-b tags = %v, expected unchanged", card.Skills[1].Tags)
	}
	if len(card.Skills[1].Examples) != 2 || card.Skills[1].Examples[0] != "example 1" {
		t.Errorf("skill-b examples = %v", card.Skills[1].Examples)
	}
}
