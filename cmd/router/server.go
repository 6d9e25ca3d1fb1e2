package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splunkdesk/agentutil"
	"splunkdesk/internal/audit"
	"splunkdesk/internal/discovery"
	"splunkdesk/internal/router"
)

const routerAgentName = "splunk_routing_agent"

// Server exposes the router over REST and A2A.
type Server struct {
	router   *router.Router
	agents   []*discovery.Agent
	store    *audit.Store
	gatherer prometheus.Gatherer
	card     *a2a.AgentCard
}

// NewServer creates a Server. store may be nil when auditing is disabled.
func NewServer(r *router.Router, agents []*discovery.Agent, store *audit.Store, gatherer prometheus.Gatherer, card *a2a.AgentCard) *Server {
	return &Server{router: r, agents: agents, store: store, gatherer: gatherer, card: card}
}

func routerCard(baseURL *url.URL) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               routerAgentName,
		Description:        "Routes Splunk questions to the inventory, query or Jira action agent and returns their answer.",
		URL:                baseURL.JoinPath(agentutil.InvokePath).String(),
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Version:            "1.0.0",
		Provider:           &a2a.AgentProvider{Org: "Splunkdesk"},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: false},
		Skills: []a2a.AgentSkill{{
			ID:          "route",
			Name:        "Splunk desk routing",
			Description: "Pick the right Splunk or Jira agent for a request and delegate it.",
			Tags:        []string{"routing", "splunk", "jira"},
			Examples:    []string{"What indexes do we have?", "Count failed logins in the auth index today"},
		}},
	}
}

// Handler returns the HTTP handler with every route mounted. Paths not
// matched by the REST API fall through to the A2A handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/v1/audit", s.handleAudit)
	mux.HandleFunc("GET /api/v1/audit/verify", s.handleAuditVerify)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", agentutil.NewExecutorHandler(router.NewExecutor(s.router), s.card))
	return mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	router.Reply
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = audit.NewSessionID()
	}

	ctx := audit.WithSessionID(r.Context(), req.SessionID)
	reply := s.router.Route(ctx, req.Message)
	slog.Info("chat", "session_id", req.SessionID, "agent", reply.Agent, "kind", reply.Kind)
	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Reply: reply})
}

type agentInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	BaseURL     string           `json:"base_url"`
	InvokeURL   string           `json:"invoke_url"`
	Version     string           `json:"version,omitempty"`
	Skills      []a2a.AgentSkill `json:"skills,omitempty"`
	Healthy     *bool            `json:"healthy,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	checkHealth := r.URL.Query().Get("health") != ""

	agents := make([]agentInfo, 0, len(s.agents))
	for _, a := range s.agents {
		info := agentInfo{Name: a.Name, BaseURL: a.BaseURL, InvokeURL: a.InvokeURL}
		if a.Card != nil {
			info.Description = a.Card.Description
			info.Version = a.Card.Version
			info.Skills = a.Card.Skills
		}
		if checkHealth {
			healthy := discovery.CheckHealth(r.Context(), a.BaseURL) == nil
			info.Healthy = &healthy
		}
		agents = append(agents, info)
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit logging is disabled; set SPLUNKDESK_AUDIT_DSN")
		return
	}
	q := r.URL.Query()
	opts := audit.QueryOptions{SessionID: q.Get("session_id"), Agent: q.Get("agent")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	events, err := s.store.Recent(r.Context(), opts)
	if err != nil {
		slog.Error("audit query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit logging is disabled; set SPLUNKDESK_AUDIT_DSN")
		return
	}
	status, err := s.store.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
