package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"splunkdesk/internal/policy"
	"splunkdesk/internal/splunk"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	defaultEarliest = "-24h"
	defaultLatest   = "now"
	maxOutputBytes  = 16 * 1024
)

// splunkSearcher is the subset of the Splunk client the query tools use.
type splunkSearcher interface {
	Search(ctx context.Context, spl, earliest, latest string, limit int) ([]map[string]any, error)
	ListIndexes(ctx context.Context) ([]splunk.Index, error)
	GetIndex(ctx context.Context, name string) (*splunk.Index, error)
	ListSavedSearches(ctx context.Context) ([]splunk.SavedSearch, error)
	ListMacros(ctx context.Context) ([]splunk.Macro, error)
}

// schemaProvider is satisfied by *splunk.SchemaCache.
type schemaProvider interface {
	Get(ctx context.Context, daysBack int) (*splunk.Schema, error)
	Invalidate()
}

type queryTools struct {
	client    splunkSearcher
	schemas   schemaProvider
	daysBack  int
	policy    *policy.Engine
	agentName string
}

// ToolResult is the standard output type for all query tools.
type ToolResult struct {
	Output string `json:"output"`
}

// errorResult formats an error as a ToolResult the LLM can see.
func errorResult(toolName string, err error) ToolResult {
	return ToolResult{
		Output: fmt.Sprintf("---\nERROR: %s failed\n\n%v\n---", toolName, err),
	}
}

// checkRead evaluates a read of every index the query can reach. Wildcard
// and negated terms are expanded against the index list; a failure to list
// indexes denies the search. A query that names no index searches the
// default indexes, so it is allowed only when no splunk_index rule would
// restrict a read.
func (t *queryTools) checkRead(ctx context.Context, sessionID, spl string, limit int) error {
	if t.policy == nil {
		return nil
	}
	terms := parseIndexTerms(spl)
	if terms.empty() {
		if err := t.policy.CheckAny(t.readRequest(sessionID, "", limit)); err != nil {
			slog.Warn("policy denied search", "index", "(none)", "session_id", sessionID, "err", err)
			return fmt.Errorf("query names no index, add index=<name>: %w", err)
		}
		return nil
	}

	indexes, err := t.reachableIndexes(ctx, terms)
	if err != nil {
		return fmt.Errorf("cannot resolve index wildcard: %w", err)
	}
	for _, idx := range indexes {
		if err := t.policy.Check(t.readRequest(sessionID, idx, limit)); err != nil {
			slog.Warn("policy denied search", "index", idx, "session_id", sessionID, "err", err)
			return fmt.Errorf("index %s: %w", idx, err)
		}
	}
	return nil
}

func (t *queryTools) readRequest(sessionID, index string, limit int) policy.Request {
	return policy.Request{
		Principal: policy.RequestPrincipal{Service: t.agentName},
		Resource:  policy.RequestResource{Type: policy.ResourceSplunkIndex, Name: index},
		Action:    policy.ActionRead,
		Context:   policy.RequestContext{SessionID: sessionID, ResultLimit: limit},
	}
}

// reachableIndexes turns index terms into concrete index names. A wildcard
// that matches nothing is kept as written so result-limit conditions still
// apply to it.
func (t *queryTools) reachableIndexes(ctx context.Context, terms indexTerms) ([]string, error) {
	var (
		out     []string
		seen    = map[string]bool{}
		catalog []string
		loaded  bool
	)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	load := func() error {
		if loaded {
			return nil
		}
		indexes, err := t.client.ListIndexes(ctx)
		if err != nil {
			return err
		}
		for _, idx := range indexes {
			catalog = append(catalog, strings.ToLower(idx.Name))
		}
		loaded = true
		return nil
	}

	for _, name := range terms.names {
		if !strings.Contains(name, "*") {
			add(name)
			continue
		}
		if err := load(); err != nil {
			return nil, err
		}
		matched := false
		for _, c := range catalog {
			if wildcardMatch(name, c) {
				add(c)
				matched = true
			}
		}
		if !matched {
			add(name)
		}
	}

	if len(terms.negated) > 0 {
		if err := load(); err != nil {
			return nil, err
		}
		for _, c := range catalog {
			if !slices.ContainsFunc(terms.negated, func(n string) bool { return wildcardMatch(n, c) }) {
				add(c)
			}
		}
	}
	return out, nil
}

// readable reports whether policy lets the agent read index at all.
func (t *queryTools) readable(index string) bool {
	if t.policy == nil {
		return true
	}
	d := t.policy.Evaluate(t.readRequest("", index, 0))
	return d.IsAllowed()
}

// visibleSchema drops indexes the agent may not read, so their fields never
// reach the prompt.
func (t *queryTools) visibleSchema(s *splunk.Schema) *splunk.Schema {
	if s == nil || t.policy == nil {
		return s
	}
	out := &splunk.Schema{DaysBack: s.DaysBack}
	for _, idx := range s.Indexes {
		if t.readable(idx.Name) {
			out.Indexes = append(out.Indexes, idx)
		}
	}
	return out
}

// RunSPLArgs defines arguments for the run_spl tool.
type RunSPLArgs struct {
	Query    string `json:"query" jsonschema:"SPL query, e.g. 'index=aws sourcetype=aws:cloudtrail | stats count by eventName'."`
	Earliest string `json:"earliest,omitempty" jsonschema:"Earliest time, e.g. '-24h' or '2020-09-01T00:00:00'. Default -24h."`
	Latest   string `json:"latest,omitempty" jsonschema:"Latest time. Default now."`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of result rows (default 50, max 500)."`
}

func (t *queryTools) runSPL(ctx context.Context, sessionID string, args RunSPLArgs) ToolResult {
	spl := strings.TrimSpace(args.Query)
	if spl == "" {
		return errorResult("run_spl", fmt.Errorf("query is required"))
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	earliest := args.Earliest
	if earliest == "" {
		earliest = defaultEarliest
	}
	latest := args.Latest
	if latest == "" {
		latest = defaultLatest
	}

	if err := t.checkRead(ctx, sessionID, spl, limit); err != nil {
		return errorResult("run_spl", err)
	}

	start := time.Now()
	rows, err := t.client.Search(ctx, spl, earliest, latest, limit)
	if err != nil {
		slog.Error("search failed", "spl", spl, "ms", time.Since(start).Milliseconds(), "err", err)
		return errorResult("run_spl", err)
	}
	slog.Info("tool ok", "name", "run_spl", "rows", len(rows), "ms", time.Since(start).Milliseconds())

	var b strings.Builder
	fmt.Fprintf(&b, "SPL: %s\nTime range: %s to %s\n", spl, earliest, latest)
	if len(rows) == 0 {
		b.WriteString("No results.")
		return ToolResult{Output: b.String()}
	}
	fmt.Fprintf(&b, "%d results:\n", len(rows))
	for i, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if b.Len()+len(line) > maxOutputBytes {
			fmt.Fprintf(&b, "... %d more rows truncated\n", len(rows)-i)
			break
		}
		b.Write(line)
		b.WriteString("\n")
	}
	return ToolResult{Output: b.String()}
}

// IndexArgs defines arguments for the get_index_schema and get_index_info tools.
type IndexArgs struct {
	Index   string `json:"index" jsonschema:"Index name."`
	Refresh bool   `json:"refresh,omitempty" jsonschema:"If true, rediscover the schema instead of using the cached copy."`
}

func (t *queryTools) getIndexSchema(ctx context.Context, args IndexArgs) ToolResult {
	name := strings.TrimSpace(args.Index)
	if err := splunk.ValidateIndexName(name); err != nil {
		return errorResult("get_index_schema", err)
	}
	if t.policy != nil {
		if err := t.policy.Check(t.readRequest("", strings.ToLower(name), 0)); err != nil {
			return errorResult("get_index_schema", fmt.Errorf("index %s: %w", name, err))
		}
	}
	if args.Refresh {
		t.schemas.Invalidate()
	}
	s, err := t.schemas.Get(ctx, t.daysBack)
	if err != nil {
		return errorResult("get_index_schema", err)
	}
	idx, ok := s.Index(name)
	if !ok {
		return ToolResult{Output: fmt.Sprintf("Index %s has no data in the last %d days.", name, s.DaysBack)}
	}

	fields := "(unable to discover)"
	if len(idx.Fields) > 0 {
		fields = strings.Join(idx.Fields, ", ")
	}
	return ToolResult{Output: fmt.Sprintf("Index: %s\nEvent Count: %d\nKey Fields: %s\n", idx.Name, idx.EventCount, fields)}
}

func (t *queryTools) getIndexInfo(ctx context.Context, args IndexArgs) ToolResult {
	name := strings.TrimSpace(args.Index)
	if err := splunk.ValidateIndexName(name); err != nil {
		return errorResult("get_index_info", err)
	}
	if t.policy != nil {
		if err := t.policy.Check(t.readRequest("", strings.ToLower(name), 0)); err != nil {
			return errorResult("get_index_info", fmt.Errorf("index %s: %w", name, err))
		}
	}
	idx, err := t.client.GetIndex(ctx, name)
	if err != nil {
		return errorResult("get_index_info", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Index: %s\n", idx.Name)
	fmt.Fprintf(&b, "Event Count: %d\n", idx.TotalEventCount)
	fmt.Fprintf(&b, "Size: %d MB of %d MB\n", idx.CurrentDBSizeMB, idx.MaxTotalDataSizeMB)
	if idx.MinTime != "" || idx.MaxTime != "" {
		fmt.Fprintf(&b, "Time Range: %s to %s\n", idx.MinTime, idx.MaxTime)
	}
	if idx.Datatype != "" {
		fmt.Fprintf(&b, "Datatype: %s\n", idx.Datatype)
	}
	if idx.Disabled {
		b.WriteString("Disabled: true\n")
	}
	return ToolResult{Output: b.String()}
}

// ListSavedSearchesArgs defines arguments for the list_saved_searches tool.
type ListSavedSearchesArgs struct {
	AlertsOnly bool   `json:"alerts_only,omitempty" jsonschema:"If true, only list saved searches configured as alerts."`
	Filter     string `json:"filter,omitempty" jsonschema:"Case-insensitive substring to match against the name or search."`
}

func (t *queryTools) listSavedSearches(ctx context.Context, args ListSavedSearchesArgs) ToolResult {
	searches, err := t.client.ListSavedSearches(ctx)
	if err != nil {
		return errorResult("list_saved_searches", err)
	}
	filter := strings.ToLower(args.Filter)

	var b strings.Builder
	n := 0
	for _, s := range searches {
		if args.AlertsOnly && !s.IsAlert {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(s.Name), filter) &&
			!strings.Contains(strings.ToLower(s.Search), filter) {
			continue
		}
		n++
		fmt.Fprintf(&b, "- %s (app %s)", s.Name, s.App)
		var flags []string
		if s.IsAlert {
			flags = append(flags, "alert")
		}
		if s.IsScheduled {
			flags = append(flags, "scheduled "+s.CronSchedule)
		}
		if s.Disabled {
			flags = append(flags, "disabled")
		}
		if len(flags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(flags, ", "))
		}
		fmt.Fprintf(&b, "\n  search: %s\n", s.Search)
	}
	if n == 0 {
		return ToolResult{Output: "No saved searches found."}
	}
	return ToolResult{Output: fmt.Sprintf("%d saved searches:\n%s", n, b.String())}
}

// ListMacrosArgs defines arguments for the list_macros tool.
type ListMacrosArgs struct {
	Filter string `json:"filter,omitempty" jsonschema:"Case-insensitive substring to match against the macro name."`
}

func (t *queryTools) listMacros(ctx context.Context, args ListMacrosArgs) ToolResult {
	macros, err := t.client.ListMacros(ctx)
	if err != nil {
		return errorResult("list_macros", err)
	}
	filter := strings.ToLower(args.Filter)
	sort.Slice(macros, func(i, j int) bool { return macros[i].Name < macros[j].Name })

	var b strings.Builder
	n := 0
	for _, m := range macros {
		if filter != "" && !strings.Contains(strings.ToLower(m.Name), filter) {
			continue
		}
		n++
		name := m.Name
		if m.Args != "" {
			name += "(" + m.Args + ")"
		}
		fmt.Fprintf(&b, "- `%s` = %s\n", name, m.Definition)
	}
	if n == 0 {
		return ToolResult{Output: "No macros found."}
	}
	return ToolResult{Output: b.String()}
}

func createTools(t *queryTools) ([]tool.Tool, error) {
	runSPLToolDef, err := functiontool.New(functiontool.Config{
		Name:        "run_spl",
		Description: "Run an SPL search and return the result rows as JSON lines. Always constrain the query with index=<name>.",
	}, func(ctx tool.Context, args RunSPLArgs) (ToolResult, error) {
		return t.runSPL(ctx, ctx.SessionID(), args), nil
	})
	if err != nil {
		return nil, err
	}

	getIndexSchemaToolDef, err := functiontool.New(functiontool.Config{
		Name:        "get_index_schema",
		Description: "Get the event count and key fields of one index over the schema look-back window.",
	}, func(ctx tool.Context, args IndexArgs) (ToolResult, error) {
		return t.getIndexSchema(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	getIndexInfoToolDef, err := functiontool.New(functiontool.Config{
		Name:        "get_index_info",
		Description: "Get the event count, size, time range and status of one index.",
	}, func(ctx tool.Context, args IndexArgs) (ToolResult, error) {
		return t.getIndexInfo(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	listSavedSearchesToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_saved_searches",
		Description: "List saved searches and alerts with their SPL and schedules.",
	}, func(ctx tool.Context, args ListSavedSearchesArgs) (ToolResult, error) {
		return t.listSavedSearches(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	listMacrosToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_macros",
		Description: "List search macros and their definitions.",
	}, func(ctx tool.Context, args ListMacrosArgs) (ToolResult, error) {
		return t.listMacros(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	return []tool.Tool{
		runSPLToolDef,
		getIndexSchemaToolDef,
		getIndexInfoToolDef,
		listSavedSearchesToolDef,
		listMacrosToolDef,
	}, nil
}
