// Package main implements the Jira action agent. It turns validated findings
// into Jira issues through a remote MCP connector, with policy checks on
// every write.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/adk/agent/llmagent"

	"splunkdesk/agentutil"
	"splunkdesk/internal/mcpclient"
	"splunkdesk/prompts"
)

const agentName = "jira_action_agent"

const agentDescription = "Creates and updates Jira issues based on validated findings from discovery and analyst outputs."

func main() {
	cfg := agentutil.MustLoadConfig("localhost:8084")
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

	mcpCfg := mcpclient.ConfigFromEnv()
	client, err := mcpclient.New(mcpCfg)
	if err != nil {
		slog.Error("JIRA_MCP_URL is required", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	tools, err := createTools(newJiraTools(client, policyEngine))
	if err != nil {
		slog.Error("failed to create tools", "err", err)
		os.Exit(1)
	}

	jiraAgent, err := llmagent.New(llmagent.Config{
		Name:                  agentName,
		Description:           agentDescription,
		Instruction:           prompts.Jira,
		Model:                 llmModel,
		Tools:                 tools,
		GenerateContentConfig: agentutil.GenerateConfig(settings),
	})
	if err != nil {
		slog.Error("failed to create jira agent", "err", err)
		os.Exit(1)
	}

	cardOpts := agentutil.CardOptions{
		Version:  "1.0.0",
		Provider: &a2a.AgentProvider{Org: "Splunkdesk"},
		SkillTags: map[string][]string{
			agentName:                      {"jira", "mcp", "ticketing", "incident-response"},
			agentName + "-list_jira_tools": {"jira", "mcp"},
			agentName + "-call_jira_tool":  {"jira", "mcp", "write"},
		},
		SkillExamples: map[string][]string{
			agentName: {"Create a SEC ticket for the S3 exfiltration from 10.0.0.5 found in the aws index"},
		},
	}

	if err := agentutil.Serve(ctx, jiraAgent, cfg, cardOpts); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
