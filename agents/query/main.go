// Package main implements the Splunk query agent. It writes and runs SPL to
// answer "what happened?" questions, using a schema of the active indexes
// discovered at startup.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/adk/agent/llmagent"

	"splunkdesk/agentutil"
	"splunkdesk/internal/splunk"
	"splunkdesk/prompts"
)

const agentName = "splunk_query_agent"

const agentDescription = "SPL EXECUTION & INVESTIGATION: Writes and runs SPL queries, searches/filters event logs, " +
	"counts events, and retrieves saved searches/alerts/macros. Answers 'what happened?' " +
	"Requires a known index name."

// schemaTTL bounds how long a discovered schema is served from cache.
const schemaTTL = 15 * time.Minute

func main() {
	cfg := agentutil.MustLoadConfig("localhost:8082")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := agentutil.LoadSettings(cfg, agentName)
	if err != nil {
		slog.Error("failed to load agent settings", "err", err)
		os.Exit(1)
	}

	llmModel, err := agentutil.NewLLM(ctx, cfg, settings)
	if err != nil {
		slog.Error("failed to create LLM model", "err", err)
		os.Exit(1)
	}

	policyEngine, err := agentutil.InitPolicyEngine(cfg)
	if err != nil {
		slog.Error("failed to initialize policy engine", "err", err)
		os.Exit(1)
	}
	slog.Info("governance", "policy", policyEngine != nil)

	client := splunk.NewClient(splunk.ConfigFromEnv())
	schemas := splunk.NewSchemaCache(client, 4, schemaTTL)

	qt := &queryTools{
		client:    client,
		schemas:   schemas,
		daysBack:  settings.SchemaDaysBack,
		policy:    policyEngine,
		agentName: agentName,
	}
	tools, err := createTools(qt)
	if err != nil {
		slog.Error("failed to create tools", "err", err)
		os.Exit(1)
	}

	queryAgent, err := llmagent.New(llmagent.Config{
		Name:                  agentName,
		Description:           agentDescription,
		Instruction:           buildInstruction(ctx, qt),
		Model:                 llmModel,
		Tools:                 tools,
		GenerateContentConfig: agentutil.GenerateConfig(settings),
	})
	if err != nil {
		slog.Error("failed to create query agent", "err", err)
		os.Exit(1)
	}

	cardOpts := agentutil.CardOptions{
		Version:  "1.0.0",
		Provider: &a2a.AgentProvider{Org: "Splunkdesk"},
		SkillTags: map[string][]string{
			agentName:                          {"SPL", "search", "query", "investigation"},
			agentName + "-run_spl":             {"SPL", "search"},
			agentName + "-get_index_schema":    {"schema", "fields"},
			agentName + "-get_index_info":      {"index", "metadata"},
			agentName + "-list_saved_searches": {"saved_searches", "alerts"},
			agentName + "-list_macros":         {"macros"},
		},
		SkillExamples: map[string][]string{
			agentName + "-run_spl":             {"How many S3 GetObject calls happened in the aws index yesterday?"},
			agentName + "-list_saved_searches": {"Which alerts are scheduled?"},
		},
	}

	if err := agentutil.Serve(ctx, queryAgent, cfg, cardOpts); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// buildInstruction fills the query prompt with the discovered schema of the
// indexes the agent may read. A failed discovery still yields a usable prompt.
func buildInstruction(ctx context.Context, qt *queryTools) string {
	dctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var schemaContext string
	s, err := qt.schemas.Get(dctx, qt.daysBack)
	if err != nil {
		slog.Warn("schema discovery failed", "err", err)
		schemaContext = fmt.Sprintf("Schema unavailable (%v). Use get_index_info and get_index_schema before searching.", err)
	} else {
		slog.Info("schema discovered", "indexes", len(s.Indexes), "days_back", s.DaysBack)
		schemaContext = splunk.FormatSchema(qt.visibleSchema(s))
	}
	return strings.ReplaceAll(prompts.Query, "{schema_context}", schemaContext)
}
