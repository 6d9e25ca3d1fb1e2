package policy

import (
	"testing"
	"time"
)

func TestLoadAndEvaluate(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: test-policy
    resources:
      - type: splunk_index
        match:
          tags: [sensitive]
    rules:
      - action: read
        effect: allow
      - action: write
        effect: allow
        conditions:
          require_approval: true
      - action: destructive
        effect: deny
        message: "No index deletion"
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	tests := []struct {
		name       string
		action     ActionClass
		tags       []string
		wantEffect Effect
	}{
		{"read-prod", ActionRead, []string{"sensitive"}, EffectAllow},
		{"write-prod", ActionWrite, []string{"sensitive"}, EffectRequireApproval},
		{"destructive-prod", ActionDestructive, []string{"sensitive"}, EffectDeny},
		{"read-dev", ActionRead, []string{"public"}, EffectDeny}, // No matching policy -> default deny
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{
				Resource: RequestResource{
					Type: ResourceSplunkIndex,
					Name: "main",
					Tags: tt.tags,
				},
				Action: tt.action,
			}
			decision := engine.Evaluate(req)
			if decision.Effect != tt.wantEffect {
				t.Errorf("got effect %q, want %q", decision.Effect, tt.wantEffect)
			}
		})
	}
}

func TestPrincipalMatching(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: analyst-policy
    principals:
      - role: analyst
    resources:
      - type: splunk_index
    rules:
      - action: destructive
        effect: allow
  - name: default-policy
    resources:
      - type: splunk_index
    rules:
      - action: destructive
        effect: deny
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	// Analyst should be allowed
	analystReq := Request{
		Principal: RequestPrincipal{
			UserID: "alice",
			Roles:  []string{"analyst"},
		},
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "pci_cardholder"},
		Action:   ActionDestructive,
	}
	decision := engine.Evaluate(analystReq)
	if decision.Effect != EffectAllow {
		t.Errorf("Analyst should be allowed, got %q", decision.Effect)
	}

	// Non-Analyst should be denied
	userReq := Request{
		Principal: RequestPrincipal{
			UserID: "bob",
			Roles:  []string{"developer"},
		},
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "pci_cardholder"},
		Action:   ActionDestructive,
	}
	decision = engine.Evaluate(userReq)
	if decision.Effect != EffectDeny {
		t.Errorf("Non-Analyst should be denied, got %q", decision.Effect)
	}
}

func TestScheduleCondition(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: business-hours-freeze
    resources:
      - type: splunk_index
    rules:
      - action: write
        effect: deny
        conditions:
          schedule:
            days: [mon, tue, wed, thu, fri]
            hours: [9, 10, 11, 12, 13, 14, 15, 16]
        message: "No changes during business hours"
      - action: write
        effect: allow
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	// Monday at 10am should be denied
	mondayMorning := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC) // Monday
	req := Request{
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "main"},
		Action:   ActionWrite,
		Context:  RequestContext{Timestamp: mondayMorning},
	}
	decision := engine.Evaluate(req)
	if decision.Effect != EffectDeny {
		t.Errorf("Monday 10am should be denied, got %q", decision.Effect)
	}

	// Saturday at 10am should be allowed
	saturdayMorning := time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC) // Saturday
	req.Context.Timestamp = saturdayMorning
	decision = engine.Evaluate(req)
	if decision.Effect != EffectAllow {
		t.Errorf("Saturday 10am should be allowed, got %q", decision.Effect)
	}

	// Monday at 8pm should be allowed
	mondayEvening := time.Date(2026, 2, 16, 20, 0, 0, 0, time.UTC) // Monday 8pm
	req.Context.Timestamp = mondayEvening
	decision = engine.Evaluate(req)
	if decision.Effect != EffectAllow {
		t.Errorf("Monday 8pm should be allowed, got %q", decision.Effect)
	}
}

func TestMaxResultsLimit(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: result-cap
    resources:
      - type: splunk_index
    rules:
      - action: read
        effect: allow
        conditions:
          max_results: 100
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	req := Request{
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "main"},
		Action:   ActionRead,
		Context:  RequestContext{ResultLimit: 50},
	}
	decision := engine.Evaluate(req)
	if decision.Effect != EffectAllow {
		t.Errorf("50 results should be allowed, got %q", decision.Effect)
	}

	req.Context.ResultLimit = 500
	decision = engine.Evaluate(req)
	if decision.Effect != EffectDeny {
		t.Errorf("500 results should be denied, got %q", decision.Effect)
	}
	if len(decision.Conditions) != 1 || decision.Conditions[0] != "max 100 results" {
		t.Errorf("conditions = %v", decision.Conditions)
	}
}

func TestDryRunMode(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: deny-all
    resources:
      - type: splunk_index
    rules:
      - action: write
        effect: deny
        message: "All writes denied"
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Without dry run, should deny
	engine := NewEngine(EngineConfig{PolicyConfig: cfg, DryRun: false})
	req := Request{
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "main"},
		Action:   ActionWrite,
	}
	decision := engine.Evaluate(req)
	if decision.Effect != EffectDeny {
		t.Errorf("Without dry-run, should deny, got %q", decision.Effect)
	}

	// With dry run, should allow but preserve message
	engine = NewEngine(EngineConfig{PolicyConfig: cfg, DryRun: true})
	decision = engine.Evaluate(req)
	if decision.Effect != EffectAllow {
		t.Errorf("With dry-run, should allow, got %q", decision.Effect)
	}
	if decision.Message == "" || decision.Message[0:9] != "[DRY RUN]" {
		t.Errorf("Dry-run message should be prefixed, got %q", decision.Message)
	}
}

func TestNamePatternMatching(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: prod-pattern
    resources:
      - type: splunk_index
        match:
          name_pattern: "pci_*"
    rules:
      - action: destructive
        effect: deny
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	// pci_cardholder should match
	req := Request{
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "pci_cardholder"},
		Action:   ActionDestructive,
	}
	decision := engine.Evaluate(req)
	if decision.Effect != EffectDeny {
		t.Errorf("pci_cardholder should be denied, got %q", decision.Effect)
	}

	// dev-db should not match (default deny)
	req.Resource.Name = "main"
	decision = engine.Evaluate(req)
	// Still denied by default, but different policy
	if decision.PolicyName != "default" {
		t.Errorf("main should not match pci pattern, got policy %q", decision.PolicyName)
	}
}

func TestJiraProjectWrites(t *testing.T) {
	yamlConfig := `
version: "1"
policies:
  - name: jira-sec
    principals:
      - service: jira_action_agent
    resources:
      - type: jira_project
        match:
          name: SEC
    rules:
      - action: read
        effect: allow
      - action: write
        effect: require_approval
        conditions:
          approval_quorum: 2
      - action: destructive
        effect: deny
        message: "Issues cannot be deleted"
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	req := Request{
		Principal: RequestPrincipal{Service: "jira_action_agent"},
		Resource:  RequestResource{Type: ResourceJiraProject, Name: "SEC"},
		Action:    ActionWrite,
	}
	err = engine.Check(req)
	if !IsApprovalRequired(err) {
		t.Errorf("write: expected approval required, got %v", err)
	}

	req.Action = ActionDestructive
	err = engine.Check(req)
	if !IsDenied(err) {
		t.Fatalf("destructive: expected denial, got %v", err)
	}
	if err.Error() != "policy denied: Issues cannot be deleted" {
		t.Errorf("message = %q", err.Error())
	}

	req.Action = ActionRead
	if err := engine.Check(req); err != nil {
		t.Errorf("read: unexpected error %v", err)
	}

	// A different agent falls through to the default deny.
	req.Principal.Service = "splunk_query_agent"
	if err := engine.Check(req); !IsDenied(err) {
		t.Errorf("other principal: expected denial, got %v", err)
	}
}

func TestCheck_NilEngine(t *testing.T) {
	var engine *Engine
	err := engine.Check(Request{
		Resource: RequestResource{Type: ResourceJiraProject, Name: "SEC"},
		Action:   ActionDestructive,
	})
	if err != nil {
		t.Errorf("nil engine should allow, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	engine := NewEngine(EngineConfig{})

	tests := []struct {
		resource string
		action   ActionClass
		want     Effect
	}{
		{ResourceSplunkIndex, ActionRead, EffectAllow},
		{ResourceJiraProject, ActionWrite, EffectRequireApproval},
		{ResourceJiraProject, ActionDestructive, EffectDeny},
	}
	for _, tt := range tests {
		d := engine.Evaluate(Request{
			Resource: RequestResource{Type: tt.resource, Name: "x"},
			Action:   tt.action,
		})
		if d.Effect != tt.want {
			t.Errorf("%s/%s: got %q, want %q", tt.resource, tt.action, d.Effect, tt.want)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", `
policies:
  - resources: [{type: splunk_index}]
    rules: [{action: read, effect: allow}]
`},
		{"unknown resource type", `
policies:
  - name: p
    resources: [{type: database}]
    rules: [{action: read, effect: allow}]
`},
		{"invalid effect", `
policies:
  - name: p
    resources: [{type: splunk_index}]
    rules: [{action: read, effect: maybe}]
`},
		{"no rules", `
policies:
  - name: p
    resources: [{type: splunk_index}]
`},
		{"duplicate name", `
policies:
  - name: p
    resources: [{type: splunk_index}]
    rules: [{action: read, effect: allow}]
  - name: p
    resources: [{type: jira_project}]
    rules: [{action: read, effect: allow}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_PriorityOrder(t *testing.T) {
	cfg, err := Load([]byte(`
policies:
  - name: low
    resources: [{type: splunk_index}]
    rules: [{action: read, effect: deny}]
  - name: high
    priority: 10
    resources: [{type: splunk_index}]
    rules: [{action: read, effect: allow}]
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := NewEngine(EngineConfig{PolicyConfig: cfg}).Evaluate(Request{
		Resource: RequestResource{Type: ResourceSplunkIndex, Name: "main"},
		Action:   ActionRead,
	})
	if d.PolicyName != "high" || d.Effect != EffectAllow {
		t.Errorf("got %s/%s, want high/allow", d.PolicyName, d.Effect)
	}
}

func TestSamplePolicyFile(t *testing.T) {
	cfg, err := LoadFile("../../config/policy.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	tests := []struct {
		name   string
		rtype  string
		rname  string
		action ActionClass
		limit  int
		want   Effect
	}{
		{"pci read", ResourceSplunkIndex, "pci_cardholder", ActionRead, 10, EffectDeny},
		{"main read", ResourceSplunkIndex, "main", ActionRead, 50, EffectAllow},
		{"main read over limit", ResourceSplunkIndex, "main", ActionRead, 1000, EffectDeny},
		{"sec write", ResourceJiraProject, "SEC", ActionWrite, 0, EffectRequireApproval},
		{"sec delete", ResourceJiraProject, "SEC", ActionDestructive, 0, EffectDeny},
		{"ops write", ResourceJiraProject, "OPS", ActionWrite, 0, EffectAllow},
		{"ops delete", ResourceJiraProject, "OPS", ActionDestructive, 0, EffectDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(Request{
				Resource: RequestResource{Type: tt.rtype, Name: tt.rname},
				Action:   tt.action,
				Context:  RequestContext{ResultLimit: tt.limit},
			})
			if d.Effect != tt.want {
				t.Errorf("got %s (%s), want %s", d.Effect, d.PolicyName, tt.want)
			}
		})
	}
}

func TestEvaluateAny_StrictestWins(t *testing.T) {
	cfg, err := Load([]byte(`
policies:
  - name: sec-project
    priority: 50
    resources:
      - type: jira_project
        match:
          name: SEC
    rules:
      - action: write
        effect: require_approval
      - action: destructive
        effect: deny
        message: "No deletes in SEC"
  - name: ops-project
    priority: 40
    resources:
      - type: jira_project
        match:
          name: OPS
    rules:
      - action: destructive
        effect: require_approval
  - name: jira-default
    resources:
      - type: jira_project
    rules:
      - action: [read, write, destructive]
        effect: allow
  - name: splunk-open
    resources:
      - type: splunk_index
    rules:
      - action: read
        effect: allow
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	engine := NewEngine(EngineConfig{PolicyConfig: cfg})

	tests := []struct {
		name       string
		rtype      string
		action     ActionClass
		wantEffect Effect
		wantPolicy string
	}{
		{"jira read", ResourceJiraProject, ActionRead, EffectAllow, "jira-default"},
		{"jira write", ResourceJiraProject, ActionWrite, EffectRequireApproval, "sec-project"},
		{"jira destructive", ResourceJiraProject, ActionDestructive, EffectDeny, "sec-project"},
		{"splunk read", ResourceSplunkIndex, ActionRead, EffectAllow, "splunk-open"},
		{"splunk write", ResourceSplunkIndex, ActionWrite, EffectDeny, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.EvaluateAny(Request{
				Resource: RequestResource{Type: tt.rtype},
				Action:   tt.action,
			})
			if d.Effect != tt.wantEffect || d.PolicyName != tt.wantPolicy {
				t.Errorf("got %s/%s, want %s/%s", d.PolicyName, d.Effect, tt.wantPolicy, tt.wantEffect)
			}
		})
	}

	err = engine.CheckAny(Request{Resource: RequestResource{Type: ResourceJiraProject}, Action: ActionDestructive})
	if !IsDenied(err) {
		t.Errorf("CheckAny destructive = %v, want denied", err)
	}
	var nilEngine *Engine
	if err := nilEngine.CheckAny(Request{Action: ActionDestructive}); err != nil {
		t.Errorf("nil engine CheckAny = %v", err)
	}
}
