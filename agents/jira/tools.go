package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"splunkdesk/internal/mcpclient"
	"splunkdesk/internal/policy"
)

// jiraConnector is the subset of the MCP client the Jira tools use.
type jiraConnector interface {
	ListTools(ctx context.Context) ([]mcpclient.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

type jiraTools struct {
	client jiraConnector
	policy *policy.Engine

	mu      sync.Mutex
	catalog map[string]mcpclient.ToolInfo
}

func newJiraTools(client jiraConnector, engine *policy.Engine) *jiraTools {
	return &jiraTools{client: client, policy: engine}
}

// ToolResult is the standard output type for all Jira tools.
type ToolResult struct {
	Output string `json:"output"`
}

// errorResult formats an error as a ToolResult the LLM can see.
func errorResult(toolName string, err error) ToolResult {
	return ToolResult{
		Output: fmt.Sprintf("---\nERROR: %s failed\n\n%v\n---", toolName, err),
	}
}

// refreshCatalog fetches the remote tool list and caches it for
// classification.
func (t *jiraTools) refreshCatalog(ctx context.Context) ([]mcpclient.ToolInfo, error) {
	tools, err := t.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]mcpclient.ToolInfo, len(tools))
	for _, info := range tools {
		catalog[info.Name] = info
	}
	t.mu.Lock()
	t.catalog = catalog
	t.mu.Unlock()
	return tools, nil
}

func (t *jiraTools) lookup(ctx context.Context, name string) (mcpclient.ToolInfo, bool) {
	t.mu.Lock()
	catalog := t.catalog
	t.mu.Unlock()
	if catalog == nil {
		if _, err := t.refreshCatalog(ctx); err != nil {
			slog.Warn("jira tool catalog unavailable", "err", err)
			return mcpclient.ToolInfo{}, false
		}
		t.mu.Lock()
		catalog = t.catalog
		t.mu.Unlock()
	}
	info, ok := catalog[name]
	return info, ok
}

var (
	destructiveVerbs = map[string]bool{"delete": true, "remove": true, "archive": true, "purge": true}
	readVerbs        = map[string]bool{"get": true, "search": true, "list": true, "read": true, "view": true, "find": true, "lookup": true, "fetch": true}
)

// classifyTool maps a remote tool onto a policy action. Server annotations
// win; otherwise the verbs in the tool name decide, and anything unknown is
// a write.
func classifyTool(info mcpclient.ToolInfo, known bool) policy.ActionClass {
	if known {
		if info.ReadOnly {
			return policy.ActionRead
		}
		if info.Destructive != nil && *info.Destructive {
			return policy.ActionDestructive
		}
	}
	words := nameWords(info.Name)
	for _, w := range words {
		if destructiveVerbs[w] {
			return policy.ActionDestructive
		}
	}
	for _, w := range words {
		if readVerbs[w] {
			return policy.ActionRead
		}
	}
	return policy.ActionWrite
}

// nameWords splits a tool name into lower-case words on separators and
// camelCase boundaries, so deleteJiraIssue yields delete, jira, issue.
func nameWords(name string) []string {
	var (
		words []string
		cur   []rune
		prev  rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == '/' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return words
}

// projectFromArgs finds the Jira project a call targets, from an explicit
// project key, a fields.project object as used by create calls, or the
// prefix of an issue key.
func projectFromArgs(args map[string]any) string {
	for _, k := range []string{"project", "project_key", "projectKey"} {
		if v, ok := args[k].(string); ok && v != "" {
			return strings.ToUpper(v)
		}
	}
	if fields, ok := args["fields"].(map[string]any); ok {
		switch v := fields["project"].(type) {
		case string:
			if v != "" {
				return strings.ToUpper(v)
			}
		case map[string]any:
			if key, ok := v["key"].(string); ok && key != "" {
				return strings.ToUpper(key)
			}
		}
	}
	for _, k := range []string{"issue_key", "issueKey", "issue_id_or_key", "issueIdOrKey", "key"} {
		if v, ok := args[k].(string); ok {
			if i := strings.LastIndex(v, "-"); i > 0 {
				return strings.ToUpper(v[:i])
			}
		}
	}
	return ""
}

// ListJiraToolsArgs defines arguments for the list_jira_tools tool.
type ListJiraToolsArgs struct{}

func (t *jiraTools) listJiraTools(ctx context.Context, _ ListJiraToolsArgs) ToolResult {
	tools, err := t.refreshCatalog(ctx)
	if err != nil {
		return errorResult("list_jira_tools", err)
	}
	if len(tools) == 0 {
		return ToolResult{Output: "The Jira connector exposes no tools."}
	}

	var b strings.Builder
	for _, info := range tools {
		fmt.Fprintf(&b, "## %s (%s)\n%s\n", info.Name, classifyTool(info, true), info.Description)
		if info.InputSchema != nil {
			if schema, err := json.Marshal(info.InputSchema); err == nil {
				fmt.Fprintf(&b, "Arguments schema: %s\n", schema)
			}
		}
		b.WriteString("\n")
	}
	return ToolResult{Output: b.String()}
}

// CallJiraToolArgs defines arguments for the call_jira_tool tool.
type CallJiraToolArgs struct {
	Tool      string `json:"tool" jsonschema:"Name of the Jira tool, as returned by list_jira_tools."`
	Arguments string `json:"arguments,omitempty" jsonschema:"JSON object with the tool arguments. Pass an empty object when the tool takes none."`
}

func (t *jiraTools) callJiraTool(ctx context.Context, sessionID string, args CallJiraToolArgs) ToolResult {
	name := strings.TrimSpace(args.Tool)
	if name == "" {
		return errorResult("call_jira_tool", errors.New("tool is required"))
	}

	toolArgs := map[string]any{}
	if s := strings.TrimSpace(args.Arguments); s != "" {
		if err := json.Unmarshal([]byte(s), &toolArgs); err != nil {
			return errorResult("call_jira_tool", fmt.Errorf("arguments must be a JSON object: %w", err))
		}
	}

	info, known := t.lookup(ctx, name)
	if !known {
		info = mcpclient.ToolInfo{Name: name}
	}
	action := classifyTool(info, known)
	project := projectFromArgs(toolArgs)

	if t.policy != nil {
		req := policy.Request{
			Principal: policy.RequestPrincipal{Service: agentName},
			Resource:  policy.RequestResource{Type: policy.ResourceJiraProject, Name: project},
			Action:    action,
			Context:   policy.RequestContext{SessionID: sessionID},
		}
		check := t.policy.Check
		if project == "" {
			// The target is unknown, so the strictest project rule applies.
			check = t.policy.CheckAny
		}
		if err := check(req); err != nil {
			slog.Warn("policy blocked jira tool", "tool", name, "project", project, "action", action, "err", err)
			return errorResult(name, err)
		}
	}

	start := time.Now()
	out, err := t.client.CallTool(ctx, name, toolArgs)
	if err != nil {
		slog.Error("jira tool failed", "tool", name, "ms", time.Since(start).Milliseconds(), "err", err)
		return errorResult(name, err)
	}
	slog.Info("tool ok", "name", name, "project", project, "action", action, "ms", time.Since(start).Milliseconds())
	if out == "" {
		out = "(no output)"
	}
	return ToolResult{Output: out}
}

func createTools(t *jiraTools) ([]tool.Tool, error) {
	listJiraToolsToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_jira_tools",
		Description: "List the Jira operations available through the connector, with their argument schemas.",
	}, func(ctx tool.Context, args ListJiraToolsArgs) (ToolResult, error) {
		return t.listJiraTools(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	callJiraToolToolDef, err := functiontool.New(functiontool.Config{
		Name:        "call_jira_tool",
		Description: "Run one Jira operation (create, update, transition, comment, search) with JSON arguments.",
	}, func(ctx tool.Context, args CallJiraToolArgs) (ToolResult, error) {
		return t.callJiraTool(ctx, ctx.SessionID(), args), nil
	})
	if err != nil {
		return nil, err
	}

	return []tool.Tool{listJiraToolsToolDef, callJiraToolToolDef}, nil
}
