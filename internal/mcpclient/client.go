// Package mcpclient connects to a single remote MCP server, such as the
// Jira connector, over streamable HTTP.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Config describes the MCP server to connect to.
type Config struct {
	Endpoint string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

// ConfigFromEnv reads JIRA_MCP_URL and JIRA_MCP_TOKEN.
func ConfigFromEnv() Config {
	return Config{
		Endpoint: os.Getenv("JIRA_MCP_URL"),
		Token:    os.Getenv("JIRA_MCP_TOKEN"),
	}
}

// ToolInfo describes a remote tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema,omitempty"`
	// ReadOnly and Destructive mirror the server's tool annotations.
	ReadOnly    bool  `json:"read_only,omitempty"`
	Destructive *bool `json:"destructive,omitempty"`
}

// ToolError is returned when the server reports a tool-level failure.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Client is a lazily connected MCP client.
type Client struct {
	cfg Config

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New creates a client. No connection is made until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("mcp endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

func (c *Client) getSession(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	var rt http.RoundTripper = http.DefaultTransport
	if c.cfg.Token != "" {
		rt = &bearerTransport{token: c.cfg.Token, base: rt}
	}
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "splunkdesk-mcp-client",
		Version: "1.0.0",
	}, nil)
	transport := &mcp.StreamableClientTransport{
		Endpoint:   c.cfg.Endpoint,
		HTTPClient: &http.Client{Timeout: c.cfg.Timeout, Transport: rt},
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.Endpoint, err)
	}
	c.session = session
	slog.Info("mcp client connected", "url", c.cfg.Endpoint)
	return session, nil
}

// reset drops a session that failed so the next call reconnects.
func (c *Client) reset(session *mcp.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		c.session.Close()
		c.session = nil
	}
}

// ListTools fetches the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := c.getSession(ctx)
	if err != nil {
		return nil, err
	}
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		c.reset(session)
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		info := ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if t.Annotations != nil {
			info.ReadOnly = t.Annotations.ReadOnlyHint
			info.Destructive = t.Annotations.DestructiveHint
		}
		tools = append(tools, info)
	}
	return tools, nil
}

// CallTool invokes a tool and returns its text content joined by newlines.
// A result flagged as an error is returned as a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.getSession(ctx)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		c.reset(session)
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	out := strings.Join(texts, "\n")
	if out == "" && result.StructuredContent != nil {
		data, _ := json.Marshal(result.StructuredContent)
		out = string(data)
	}

	if result.IsError {
		return "", &ToolError{Tool: name, Message: out}
	}
	return out, nil
}

// Close closes the session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
