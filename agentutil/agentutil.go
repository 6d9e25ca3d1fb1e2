// Package agentutil provides the SDK surface for building splunkdesk agents.
// It extracts the boilerplate shared by the specialized agents: config
// loading, LLM creation, and A2A server startup.
package agentutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"google.golang.org/genai"

	"google.golang.org/adk/agent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/server/adka2a"
	"google.golang.org/adk/session"

	"splunkdesk/internal/config"
	"splunkdesk/internal/logging"
	"splunkdesk/internal/model"
	"splunkdesk/internal/policy"
)

// InvokePath is the JSON-RPC endpoint every agent serves.
const InvokePath = "/invoke"

// Config holds common agent configuration from SPLUNKDESK_* env vars.
type Config struct {
	ModelVendor string
	ModelName   string
	APIKey      string
	ListenAddr  string

	// PublicURL is the base URL advertised on the agent card. Defaults to
	// the bound listener address.
	PublicURL string

	// SettingsPath points at agents.yaml (per-agent LLM settings).
	SettingsPath string

	// PolicyFile enables policy enforcement when set.
	PolicyFile string

	// AuditDSN enables the routing audit trail (SQLite path or postgres:// URL).
	AuditDSN string
}

// LoadConfig reads env vars. defaultAddr is used when SPLUNKDESK_AGENT_ADDR is unset.
func LoadConfig(defaultAddr string) (Config, error) {
	cfg := Config{
		ModelVendor:  os.Getenv("SPLUNKDESK_MODEL_VENDOR"),
		ModelName:    os.Getenv("SPLUNKDESK_MODEL_NAME"),
		APIKey:       os.Getenv("SPLUNKDESK_API_KEY"),
		ListenAddr:   os.Getenv("SPLUNKDESK_AGENT_ADDR"),
		PublicURL:    os.Getenv("SPLUNKDESK_PUBLIC_URL"),
		SettingsPath: os.Getenv("SPLUNKDESK_SETTINGS"),
		PolicyFile:   os.Getenv("SPLUNKDESK_POLICY_FILE"),
		AuditDSN:     os.Getenv("SPLUNKDESK_AUDIT_DSN"),
	}

	if cfg.ModelVendor == "" || cfg.ModelName == "" || cfg.APIKey == "" {
		return cfg, errors.New("missing required environment variables: SPLUNKDESK_MODEL_VENDOR, SPLUNKDESK_MODEL_NAME, SPLUNKDESK_API_KEY")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultAddr
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = "config/agents.yaml"
	}
	return cfg, nil
}

// MustLoadConfig initialises structured logging and calls LoadConfig,
// exiting the process if required vars are missing.
func MustLoadConfig(defaultAddr string) Config {
	logging.InitLogging(os.Args[1:])

	cfg, err := LoadConfig(defaultAddr)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return cfg
}

// NewLLM creates an LLM model based on Config.ModelVendor (gemini or anthropic).
// A non-empty settings Model overrides Config.ModelName.
func NewLLM(ctx context.Context, cfg Config, settings config.AgentSettings) (adkmodel.LLM, error) {
	modelName := cfg.ModelName
	if settings.Model != "" {
		modelName = settings.Model
	}

	switch strings.ToLower(cfg.ModelVendor) {
	case "google", "gemini":
		llm, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		slog.Info("using model", "vendor", "gemini", "model", modelName)
		return llm, nil

	case "anthropic":
		llm, err := model.NewAnthropicModel(ctx, modelName, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic model: %w", err)
		}
		slog.Info("using model", "vendor", "anthropic", "model", modelName)
		return llm, nil

	default:
		return nil, fmt.Errorf("unknown model vendor: %s (supported: google, gemini, anthropic)", cfg.ModelVendor)
	}
}

// GenerateConfig maps agent settings onto an ADK generation config.
func GenerateConfig(s config.AgentSettings) *genai.GenerateContentConfig {
	temp := float32(s.TemperatureOr(config.DefaultAgentTemperature))
	return &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(s.MaxOutputTokens),
	}
}

// LoadSettings loads agents.yaml from cfg.SettingsPath and returns the entry
// for the named agent.
func LoadSettings(cfg Config, agentName string) (config.AgentSettings, error) {
	s, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return config.AgentSettings{}, err
	}
	return s.For(agentName), nil
}

// InitPolicyEngine loads the policy file when configured. It returns a nil
// engine when policy enforcement is disabled.
func InitPolicyEngine(cfg Config) (*policy.Engine, error) {
	if cfg.PolicyFile == "" {
		return nil, nil
	}
	pcfg, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy file %s: %w", cfg.PolicyFile, err)
	}
	slog.Info("policy enforcement enabled", "file", cfg.PolicyFile, "policies", len(pcfg.Policies))
	return policy.NewEngine(policy.EngineConfig{PolicyConfig: pcfg}), nil
}

// CardOptions allows agents to customize the AgentCard beyond the defaults
// that Serve derives automatically from the ADK agent.
type CardOptions struct {
	// Version is the agent's version string (e.g., "1.0.0").
	Version string

	// DocumentationURL points to the agent's documentation.
	DocumentationURL string

	// Provider describes the organization providing this agent.
	Provider *a2a.AgentProvider

	// SkillTags maps a skill ID to additional tags to merge onto the
	// auto-generated skills. Skill IDs follow the ADK pattern:
	// "agentName" for the model skill, "agentName-toolName" for tool skills.
	SkillTags map[string][]string

	// SkillExamples maps a skill ID to example prompts/scenarios.
	SkillExamples map[string][]string
}

// applyCardOptions merges optional metadata onto an AgentCard.
func applyCardOptions(card *a2a.AgentCard, opts CardOptions) {
	if opts.Version != "" {
		card.Version = opts.Version
	}
	if opts.DocumentationURL != "" {
		card.DocumentationURL = opts.DocumentationURL
	}
	if opts.Provider != nil {
		card.Provider = opts.Provider
	}
	for i := range card.Skills {
		skill := &card.Skills[i]
		if tags, ok := opts.SkillTags[skill.ID]; ok {
			skill.Tags = append(skill.Tags, tags...)
		}
		if examples, ok := opts.SkillExamples[skill.ID]; ok {
			skill.Examples = examples
		}
	}
}

// BuildCard derives the agent card for a, advertised under baseURL.
func BuildCard(a agent.Agent, baseURL *url.URL, opts ...CardOptions) *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:               a.Name(),
		Description:        a.Description(),
		Skills:             adka2a.BuildAgentSkills(a),
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		URL:                baseURL.JoinPath(InvokePath).String(),
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: false},
	}
	if len(opts) > 0 {
		applyCardOptions(card, opts[0])
	}
	return card
}

// NewHandler returns the HTTP handler serving the agent card, the JSON-RPC
// endpoint backed by an in-memory ADK session service, and /healthz.
func NewHandler(a agent.Agent, card *a2a.AgentCard) http.Handler {
	executor := adka2a.NewExecutor(adka2a.ExecutorConfig{
		RunnerConfig: runner.Config{
			AppName:        a.Name(),
			Agent:          a,
			SessionService: session.InMemoryService(),
		},
	})
	return NewExecutorHandler(executor, card)
}

// NewExecutorHandler mounts any a2asrv.AgentExecutor behind the standard
// splunkdesk routes.
func NewExecutorHandler(executor a2asrv.AgentExecutor, card *a2a.AgentCard) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(card))
	mux.Handle(InvokePath, a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(executor)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve starts an A2A server for the given agent on cfg.ListenAddr and blocks
// until ctx is cancelled or the server fails.
// An optional CardOptions can be passed to enrich the agent card with additional metadata.
func Serve(ctx context.Context, a agent.Agent, cfg Config, opts ...CardOptions) error {
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", cfg.ListenAddr, err)
	}

	baseURL, err := AdvertisedURL(cfg.PublicURL, listener.Addr())
	if err != nil {
		listener.Close()
		return err
	}
	card := BuildCard(a, baseURL, opts...)

	slog.Info("starting A2A server",
		"agent", a.Name(),
		"url", baseURL.String(),
		"card", baseURL.String()+a2asrv.WellKnownAgentCardPath,
	)
	return ServeListener(ctx, listener, NewHandler(a, card))
}

// ServeListener serves h on listener until ctx is done, then shuts down
// gracefully.
func ServeListener(ctx context.Context, listener net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("server shutdown", "err", err)
			}
		case <-done:
		}
	}()
	defer close(done)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AdvertisedURL picks the base URL for the agent card.
func AdvertisedURL(public string, addr net.Addr) (*url.URL, error) {
	if public == "" {
		return &url.URL{Scheme: "http", Host: addr.String()}, nil
	}
	u, err := url.Parse(strings.TrimSuffix(public, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid SPLUNKDESK_PUBLIC_URL %q", public)
	}
	return u, nil
}
