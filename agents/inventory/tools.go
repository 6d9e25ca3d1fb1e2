package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"splunkdesk/internal/splunk"
)

// splunkInventory is the subset of the Splunk client the inventory tools use.
type splunkInventory interface {
	ListIndexes(ctx context.Context) ([]splunk.Index, error)
	ListSourcetypes(ctx context.Context, index string) ([]splunk.MetadataEntry, error)
	ListHosts(ctx context.Context, index string) ([]splunk.MetadataEntry, error)
	ServerInfo(ctx context.Context) (*splunk.ServerInfo, error)
	ListKVStoreCollections(ctx context.Context) ([]splunk.KVStoreCollection, error)
}

type inventoryTools struct {
	client splunkInventory
}

// ToolResult is the standard output type for all inventory tools.
type ToolResult struct {
	Output string `json:"output"`
}

// errorResult formats an error as a ToolResult the LLM can see. Returning Go
// errors from a tool leaves the caller with an empty reply.
func errorResult(toolName string, err error) ToolResult {
	return ToolResult{
		Output: fmt.Sprintf("---\nERROR: %s failed\n\n%v\n---", toolName, err),
	}
}

func logTool(name string, start time.Time, err error) {
	if err != nil {
		slog.Error("tool failed", "name", name, "ms", time.Since(start).Milliseconds(), "err", err)
		return
	}
	slog.Info("tool ok", "name", name, "ms", time.Since(start).Milliseconds())
}

// ListIndexesArgs defines arguments for the list_indexes tool.
type ListIndexesArgs struct {
	IncludeInternal bool `json:"include_internal,omitempty" jsonschema:"If true, include internal indexes whose names start with an underscore."`
}

func (t *inventoryTools) listIndexes(ctx context.Context, args ListIndexesArgs) ToolResult {
	start := time.Now()
	indexes, err := t.client.ListIndexes(ctx)
	logTool("list_indexes", start, err)
	if err != nil {
		return errorResult("list_indexes", err)
	}

	var b strings.Builder
	shown := 0
	for _, idx := range indexes {
		if idx.Internal() && !args.IncludeInternal {
			continue
		}
		shown++
		fmt.Fprintf(&b, "- %s: %d events, %d MB", idx.Name, idx.TotalEventCount, idx.CurrentDBSizeMB)
		if idx.MinTime != "" || idx.MaxTime != "" {
			fmt.Fprintf(&b, ", %s to %s", orDash(idx.MinTime), orDash(idx.MaxTime))
		}
		if idx.Disabled {
			b.WriteString(" (disabled)")
		}
		b.WriteString("\n")
	}
	if shown == 0 {
		return ToolResult{Output: "No indexes found."}
	}
	return ToolResult{Output: fmt.Sprintf("%d indexes:\n%s", shown, b.String())}
}

// MetadataArgs defines arguments for the list_sourcetypes and list_hosts tools.
type MetadataArgs struct {
	Index string `json:"index,omitempty" jsonschema:"Limit results to this index. If empty, all indexes are included."`
}

func (t *inventoryTools) listSourcetypes(ctx context.Context, args MetadataArgs) ToolResult {
	return t.metadata(ctx, "list_sourcetypes", "sourcetypes", args.Index, t.client.ListSourcetypes)
}

func (t *inventoryTools) listHosts(ctx context.Context, args MetadataArgs) ToolResult {
	return t.metadata(ctx, "list_hosts", "hosts", args.Index, t.client.ListHosts)
}

func (t *inventoryTools) metadata(ctx context.Context, toolName, noun, index string,
	fetch func(context.Context, string) ([]splunk.MetadataEntry, error)) ToolResult {
	index = strings.TrimSpace(index)
	if index != "" {
		if err := splunk.ValidateIndexName(index); err != nil {
			return errorResult(toolName, err)
		}
	}

	start := time.Now()
	entries, err := fetch(ctx, index)
	logTool(toolName, start, err)
	if err != nil {
		return errorResult(toolName, err)
	}

	scope := "all indexes"
	if index != "" {
		scope = "index " + index
	}
	if len(entries) == 0 {
		return ToolResult{Output: fmt.Sprintf("No %s found in %s.", noun, scope)}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalCount > entries[j].TotalCount
	})
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s in %s:\n", len(entries), noun, scope)
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %d events", e.Name, e.TotalCount)
		if e.LastTime != "" {
			fmt.Fprintf(&b, ", last seen %s", e.LastTime)
		}
		b.WriteString("\n")
	}
	return ToolResult{Output: b.String()}
}

// GetInstanceInfoArgs defines arguments for the get_instance_info tool.
type GetInstanceInfoArgs struct{}

func (t *inventoryTools) getInstanceInfo(ctx context.Context, _ GetInstanceInfoArgs) ToolResult {
	start := time.Now()
	info, err := t.client.ServerInfo(ctx)
	logTool("get_instance_info", start, err)
	if err != nil {
		return errorResult("get_instance_info", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", info.ServerName)
	fmt.Fprintf(&b, "Version: %s (build %s)\n", info.Version, info.Build)
	fmt.Fprintf(&b, "Product: %s\n", orDash(info.ProductType))
	fmt.Fprintf(&b, "OS: %s\n", orDash(info.OSName))
	fmt.Fprintf(&b, "License: %s\n", orDash(info.LicenseState))
	fmt.Fprintf(&b, "Health: %s\n", orDash(info.HealthInfo))
	if len(info.ServerRoles) > 0 {
		fmt.Fprintf(&b, "Roles: %s\n", strings.Join(info.ServerRoles, ", "))
	}
	return ToolResult{Output: b.String()}
}

// ListKVStoreArgs defines arguments for the list_kvstore_collections tool.
type ListKVStoreArgs struct {
	App string `json:"app,omitempty" jsonschema:"Only show collections owned by this app."`
}

func (t *inventoryTools) listKVStoreCollections(ctx context.Context, args ListKVStoreArgs) ToolResult {
	start := time.Now()
	collections, err := t.client.ListKVStoreCollections(ctx)
	logTool("list_kvstore_collections", start, err)
	if err != nil {
		return errorResult("list_kvstore_collections", err)
	}

	byApp := map[string][]string{}
	for _, c := range collections {
		if args.App != "" && c.App != args.App {
			continue
		}
		byApp[c.App] = append(byApp[c.App], c.Name)
	}
	if len(byApp) == 0 {
		return ToolResult{Output: "No KV Store collections found."}
	}

	apps := make([]string, 0, len(byApp))
	for app := range byApp {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	var b strings.Builder
	for _, app := range apps {
		names := byApp[app]
		sort.Strings(names)
		fmt.Fprintf(&b, "%s: %s\n", app, strings.Join(names, ", "))
	}
	return ToolResult{Output: b.String()}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func createTools(t *inventoryTools) ([]tool.Tool, error) {
	listIndexesToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_indexes",
		Description: "List Splunk indexes with event counts, sizes and time ranges. Internal indexes are hidden unless requested.",
	}, func(ctx tool.Context, args ListIndexesArgs) (ToolResult, error) {
		return t.listIndexes(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	listSourcetypesToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_sourcetypes",
		Description: "List sourcetypes with event counts and last-seen times, for one index or all indexes.",
	}, func(ctx tool.Context, args MetadataArgs) (ToolResult, error) {
		return t.listSourcetypes(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	listHostsToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_hosts",
		Description: "List hosts that sent data, with event counts and last-seen times, for one index or all indexes.",
	}, func(ctx tool.Context, args MetadataArgs) (ToolResult, error) {
		return t.listHosts(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	getInstanceInfoToolDef, err := functiontool.New(functiontool.Config{
		Name:        "get_instance_info",
		Description: "Get Splunk instance information: server name, version, build, OS, license state, health and roles.",
	}, func(ctx tool.Context, args GetInstanceInfoArgs) (ToolResult, error) {
		return t.getInstanceInfo(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	listKVStoreToolDef, err := functiontool.New(functiontool.Config{
		Name:        "list_kvstore_collections",
		Description: "List KV Store collections grouped by app.",
	}, func(ctx tool.Context, args ListKVStoreArgs) (ToolResult, error) {
		return t.listKVStoreCollections(ctx, args), nil
	})
	if err != nil {
		return nil, err
	}

	return []tool.Tool{
		listIndexesToolDef,
		listSourcetypesToolDef,
		listHostsToolDef,
		getInstanceInfoToolDef,
		listKVStoreToolDef,
	}, nil
}
