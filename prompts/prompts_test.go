package prompts

import (
	"strings"
	"testing"
)

func TestPrompts_NonEmpty(t *testing.T) {
	prompts := map[string]string{
		"Router":    Router,
		"Inventory": Inventory,
		"Query":     Query,
		"Jira":      Jira,
	}

	for name, content := range prompts {
		t.Run(name, func(t *testing.T) {
			if content == "" {
				t.Errorf("%s prompt is empty", name)
			}
			if len(content) < 100 {
				t.Errorf("%s prompt suspiciously short: %d bytes", name, len(content))
			}
		})
	}
}

func TestPrompts_ExpectedKeywords(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		keywords []string
	}{
		{
			"Router",
			Router,
			[]string{"{agents}", "agent_name", "none", "splunk_inventory_agent", "splunk_query_agent", "jira_action_agent"},
		},
		{
			"Inventory",
			Inventory,
			[]string{"list_indexes", "list_sourcetypes", "list_hosts", "get_instance_info", "list_kvstore_collections"},
		},
		{
			"Query",
			Query,
			[]string{"{schema_context}", "run_spl", "get_index_schema", "list_saved_searches", "list_macros"},
		},
		{
			"Jira",
			Jira,
			[]string{"list_jira_tools", "call_jira_tool", "policy"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lower := strings.ToLower(tc.content)
			for _, kw := range tc.keywords {
				if !strings.Contains(lower, strings.ToLower(kw)) {
					t.Errorf("%s prompt missing keyword %q", tc.name, kw)
				}
			}
		})
	}
}
