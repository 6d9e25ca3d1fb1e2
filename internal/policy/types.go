// Package policy evaluates whether an agent may act on a Splunk index or a
// Jira project, based on YAML rules.
package policy

import (
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ActionClass represents the classification of an action by its impact.
type ActionClass string

const (
	ActionRead        ActionClass = "read"
	ActionWrite       ActionClass = "write"
	ActionDestructive ActionClass = "destructive"
)

// Resource types understood by the agents.
const (
	ResourceSplunkIndex = "splunk_index"
	ResourceJiraProject = "jira_project"
)

// Effect represents the outcome of a policy rule evaluation.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// Config is the top-level policy configuration.
type Config struct {
	Version  string   `yaml:"version"`
	Policies []Policy `yaml:"policies"`
}

// Policy defines access rules for a set of resources.
type Policy struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Enabled     *bool       `yaml:"enabled,omitempty"`  // Default true
	Priority    int         `yaml:"priority,omitempty"` // Higher = evaluated first
	Principals  []Principal `yaml:"principals,omitempty"`
	Resources   []Resource  `yaml:"resources"`
	Rules       []Rule      `yaml:"rules"`
}

// IsEnabled returns whether the policy is enabled.
func (p *Policy) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// Principal identifies who the policy applies to.
type Principal struct {
	User    string `yaml:"user,omitempty"`
	Role    string `yaml:"role,omitempty"`
	Service string `yaml:"service,omitempty"` // Agent name (e.g., jira_action_agent)
	Any     bool   `yaml:"any,omitempty"`
}

// Resource identifies what the policy applies to.
type Resource struct {
	Type  string        `yaml:"type"` // splunk_index, jira_project
	Match ResourceMatch `yaml:"match,omitempty"`
}

// ResourceMatch defines criteria for matching resources.
type ResourceMatch struct {
	Name        string   `yaml:"name,omitempty"`
	NamePattern string   `yaml:"name_pattern,omitempty"` // Glob pattern (e.g., "pci_*")
	Tags        []string `yaml:"tags,omitempty"`         // Must have all tags
}

// Rule defines an access control rule within a policy.
type Rule struct {
	Action     ActionMatcher `yaml:"action"`
	Effect     Effect        `yaml:"effect"`
	Conditions *Conditions   `yaml:"conditions,omitempty"`
	Message    string        `yaml:"message,omitempty"` // Shown on deny
}

// ActionMatcher can be a single action or a list of actions.
type ActionMatcher []ActionClass

// UnmarshalYAML accepts either a single action or a list.
func (a *ActionMatcher) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = ActionMatcher{ActionClass(node.Value)}
		return nil
	}
	var list []ActionClass
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	*a = list
	return nil
}

// Matches reports whether action is one of the matcher's actions.
func (a ActionMatcher) Matches(action ActionClass) bool {
	return slices.Contains(a, action)
}

// Conditions are additional constraints on a rule.
type Conditions struct {
	RequireApproval bool `yaml:"require_approval,omitempty"`
	ApprovalQuorum  int  `yaml:"approval_quorum,omitempty"`

	// MaxResults caps the number of search results a read may return.
	MaxResults int `yaml:"max_results,omitempty"`

	Schedule *Schedule `yaml:"schedule,omitempty"`
}

// Schedule defines time-based conditions.
type Schedule struct {
	Days     []string `yaml:"days,omitempty"`     // mon, tue, wed, thu, fri, sat, sun
	Hours    []int    `yaml:"hours,omitempty"`    // 0-23
	Timezone string   `yaml:"timezone,omitempty"` // e.g., America/New_York
}

// IsActive returns true if the current time matches the schedule.
func (s *Schedule) IsActive(now time.Time) bool {
	if s == nil {
		return true
	}

	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err == nil {
			now = now.In(loc)
		}
	}

	if len(s.Days) > 0 {
		dayName := dayToName(now.Weekday())
		found := false
		for _, d := range s.Days {
			if d == dayName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.Hours) > 0 {
		hour := now.Hour()
		found := false
		for _, h := range s.Hours {
			if h == hour {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func dayToName(d time.Weekday) string {
	return [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}[d]
}

// Request represents a request to perform an action.
type Request struct {
	Principal RequestPrincipal
	Resource  RequestResource
	Action    ActionClass
	Context   RequestContext
}

// RequestPrincipal identifies who is making the request.
type RequestPrincipal struct {
	UserID  string
	Roles   []string
	Service string
}

// RequestResource identifies the resource being accessed.
type RequestResource struct {
	Type string
	Name string
	Tags []string
}

// RequestContext provides additional context for evaluation.
type RequestContext struct {
	Timestamp time.Time
	SessionID string
	// ResultLimit is the number of results a search asks for.
	ResultLimit int
}

// Decision is the result of policy evaluation.
type Decision struct {
	Effect           Effect
	PolicyName       string
	RuleIndex        int
	Message          string
	Conditions       []string // e.g., "max 100 results"
	RequiresApproval bool
	ApprovalQuorum   int
}

// IsAllowed returns true if the decision allows the action.
func (d *Decision) IsAllowed() bool {
	return d.Effect == EffectAllow
}

// IsDenied returns true if the decision denies the action.
func (d *Decision) IsDenied() bool {
	return d.Effect == EffectDeny
}

// NeedsApproval returns true if the decision requires approval.
func (d *Decision) NeedsApproval() bool {
	return d.Effect == EffectRequireApproval || d.RequiresApproval
}
