// Package main implements the Splunk inventory agent. It answers "what do we
// have?" questions about indexes, sourcetypes, hosts, the instance and KV
// Store collections over the A2A protocol. It never runs searches over
// event data.
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
	"splunkdesk/internal/splunk"
	"splunkdesk/prompts"
)

const agentName = "splunk_inventory_agent"

const agentDescription = "ENVIRONMENT INVENTORY: Enumerates what exists in Splunk: index names, sourcetypes, hosts, " +
	"instance version/status, and KV Store collections. Answers 'what do we have?' " +
	"CANNOT search logs, run SPL, or read event data."

func main() {
	cfg := agentutil.MustLoadConfig("localhost:8080")
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

	splunkCfg := splunk.ConfigFromEnv()
	slog.Info("splunk connection", "host", splunkCfg.Host, "port", splunkCfg.Port, "insecure_tls", splunkCfg.InsecureTLS)

	tools, err := createTools(&inventoryTools{client: splunk.NewClient(splunkCfg)})
	if err != nil {
		slog.Error("failed to create tools", "err", err)
		os.Exit(1)
	}

	inventoryAgent, err := llmagent.New(llmagent.Config{
		Name:                  agentName,
		Description:           agentDescription,
		Instruction:           prompts.Inventory,
		Model:                 llmModel,
		Tools:                 tools,
		GenerateContentConfig: agentutil.GenerateConfig(settings),
	})
	if err != nil {
		slog.Error("failed to create inventory agent", "err", err)
		os.Exit(1)
	}

	cardOpts := agentutil.CardOptions{
		Version:  "1.0.0",
		Provider: &a2a.AgentProvider{Org: "Splunkdesk"},
		SkillTags: map[string][]string{
			agentName:                               {"inventory", "splunk", "read-only"},
			agentName + "-list_indexes":             {"inventory", "indexes"},
			agentName + "-list_sourcetypes":         {"inventory", "sourcetypes"},
			agentName + "-list_hosts":               {"inventory", "hosts"},
			agentName + "-get_instance_info":        {"inventory", "instance_info"},
			agentName + "-list_kvstore_collections": {"inventory", "kv_store"},
		},
		SkillExamples: map[string][]string{
			agentName + "-list_indexes":      {"What indexes do we have?"},
			agentName + "-list_sourcetypes":  {"Which sourcetypes are in the aws index?"},
			agentName + "-get_instance_info": {"What version of Splunk is running?"},
		},
	}

	if err := agentutil.Serve(ctx, inventoryAgent, cfg, cardOpts); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
