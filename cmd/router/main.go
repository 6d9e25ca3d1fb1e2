// Package main implements the routing agent: it discovers the Splunk and
// Jira agents, asks an LLM which one should handle each request, and
// delegates over A2A. It serves a REST chat API, an audit view, Prometheus
// metrics and its own A2A endpoint.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"splunkdesk/agentutil"
	"splunkdesk/internal/audit"
	"splunkdesk/internal/config"
	"splunkdesk/internal/discovery"
	"splunkdesk/internal/metrics"
	"splunkdesk/internal/router"
	"splunkdesk/prompts"
)

func main() {
	cfg := agentutil.MustLoadConfig("localhost:8083")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	urls, err := agentURLs()
	if err != nil {
		slog.Error("failed to resolve agent URLs", "err", err)
		os.Exit(1)
	}
	agents, err := discovery.Discover(ctx, urls)
	if err != nil {
		slog.Error("no agents discovered; set SPLUNKDESK_AGENT_URLS or SPLUNKDESK_ROSTER", "err", err)
		os.Exit(1)
	}

	settings, err := agentutil.LoadSettings(cfg, config.RouterName)
	if err != nil {
		slog.Error("failed to load agent settings", "err", err)
		os.Exit(1)
	}
	llmModel, err := agentutil.NewLLM(ctx, cfg, settings)
	if err != nil {
		slog.Error("failed to create LLM model", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var store *audit.Store
	var recorder router.Recorder
	if cfg.AuditDSN != "" {
		store, err = audit.NewStore(cfg.AuditDSN)
		if err != nil {
			slog.Error("failed to initialize audit store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		recorder = store
		slog.Info("audit logging enabled", "postgres", store.IsPostgres())
	}

	rt, err := router.New(router.Config{
		LLM:      llmModel,
		Sender:   router.NewA2ASender(agents, 0),
		Agents:   rosterOf(agents),
		Prompt:   prompts.Router,
		Settings: settings,
		Recorder: recorder,
		Metrics:  metrics.NewMetrics(reg),
	})
	if err != nil {
		slog.Error("failed to create router", "err", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		slog.Error("failed to bind", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}
	baseURL, err := agentutil.AdvertisedURL(cfg.PublicURL, listener.Addr())
	if err != nil {
		slog.Error("invalid public URL", "err", err)
		os.Exit(1)
	}

	srv := NewServer(rt, agents, store, reg, routerCard(baseURL))
	slog.Info("starting routing agent", "url", baseURL.String(), "agents", len(agents))
	if err := agentutil.ServeListener(ctx, listener, srv.Handler()); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// agentURLs reads SPLUNKDESK_AGENT_URLS, falling back to the roster file.
func agentURLs() ([]string, error) {
	if urls := config.ParseAgentURLs(os.Getenv("SPLUNKDESK_AGENT_URLS")); len(urls) > 0 {
		return urls, nil
	}
	path := os.Getenv("SPLUNKDESK_ROSTER")
	if path == "" {
		path = "config/roster.yaml"
	}
	roster, err := config.LoadRoster(path)
	if err != nil {
		return nil, err
	}
	return roster.URLs(), nil
}

func rosterOf(agents []*discovery.Agent) []router.Agent {
	out := make([]router.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, router.Agent{Name: a.Name, Description: a.Card.Description})
	}
	return out
}
