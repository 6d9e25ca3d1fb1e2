package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"splunkdesk/internal/audit"
)

// routerClient talks to the routing agent's REST API.
type routerClient struct {
	base string
	http *http.Client
}

func newRouterClient(base string) *routerClient {
	return &routerClient{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *routerClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("router unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("router returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("router returned %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

type chatReply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Agent     string `json:"agent"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

func newAskCmd() *cobra.Command {
	var (
		routerURL string
		sessionID string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send a question to the routing agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"message": strings.Join(args, " ")}
			if sessionID != "" {
				req["session_id"] = sessionID
			}
			var reply chatReply
			if err := newRouterClient(routerURL).do(cmd.Context(), http.MethodPost, "/api/v1/chat", req, &reply); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if verbose {
				agent := reply.Agent
				if agent == "" {
					agent = "router"
				}
				fmt.Fprintf(out, "[%s via %s, session %s", reply.Kind, agent, reply.SessionID)
				if reply.Reason != "" {
					fmt.Fprintf(out, ", reason %s", reply.Reason)
				}
				fmt.Fprintln(out, "]")
			}
			fmt.Fprintln(out, reply.Text)
			return nil
		},
	}
	routerURLFlag(cmd, &routerURL)
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to continue")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show which agent answered")
	return cmd
}

type agentSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BaseURL     string `json:"base_url"`
	Healthy     *bool  `json:"healthy"`
}

func newAgentsCmd() *cobra.Command {
	var (
		routerURL string
		health    bool
	)
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agents the router discovered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/agents"
			if health {
				path += "?health=1"
			}
			var agents []agentSummary
			if err := newRouterClient(routerURL).do(cmd.Context(), http.MethodGet, path, nil, &agents); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if health {
				fmt.Fprintln(w, "NAME\tURL\tHEALTHY")
			} else {
				fmt.Fprintln(w, "NAME\tURL\tDESCRIPTION")
			}
			for _, a := range agents {
				if health {
					healthy := a.Healthy != nil && *a.Healthy
					fmt.Fprintf(w, "%s\t%s\t%t\n", a.Name, a.BaseURL, healthy)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.BaseURL, truncate(a.Description, 60))
			}
			return w.Flush()
		},
	}
	routerURLFlag(cmd, &routerURL)
	cmd.Flags().BoolVar(&health, "health", false, "Probe each agent's /healthz")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		routerURL string
		sessionID string
		agent     string
		limit     int
		verify    bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent routing decisions from the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newRouterClient(routerURL)
			out := cmd.OutOrStdout()

			if verify {
				var status audit.ChainStatus
				if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/audit/verify", nil, &status); err != nil {
					return err
				}
				if !status.Valid {
					return fmt.Errorf("audit chain broken at event %d: %s", status.BrokenAt, status.Error)
				}
				fmt.Fprintf(out, "audit chain valid: %d events, last hash %s\n", status.TotalEvents, status.LastHash)
				return nil
			}

			q := url.Values{}
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			if agent != "" {
				q.Set("agent", agent)
			}
			q.Set("limit", strconv.Itoa(limit))
			var events []audit.Event
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/audit?"+q.Encode(), nil, &events); err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSESSION\tKIND\tAGENT\tSTATUS\tQUERY")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.SessionID, e.Decision.Kind,
					orNone(e.Decision.Agent), e.Outcome.Status, truncate(e.UserQuery, 50))
			}
			return w.Flush()
		},
	}
	routerURLFlag(cmd, &routerURL)
	cmd.Flags().StringVar(&sessionID, "session", "", "Only show this session")
	cmd.Flags().StringVar(&agent, "agent", "", "Only show decisions for this agent")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events")
	cmd.Flags().BoolVar(&verify, "verify", false, "Verify the audit hash chain instead of listing events")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
