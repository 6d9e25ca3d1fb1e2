package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"
)

// Engine evaluates policy decisions for requests.
type Engine struct {
	config        *Config
	defaultEffect Effect
	dryRun        bool
}

// EngineConfig configures the policy engine.
type EngineConfig struct {
	// PolicyConfig is the loaded policy configuration.
	PolicyConfig *Config

	// DefaultEffect is the effect when no policy matches.
	// Defaults to EffectDeny.
	DefaultEffect Effect

	// DryRun logs decisions but always returns allow.
	DryRun bool
}

// NewEngine creates a new policy engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.PolicyConfig == nil {
		cfg.PolicyConfig = DefaultConfig()
	}
	if cfg.DefaultEffect == "" {
		cfg.DefaultEffect = EffectDeny
	}

	return &Engine{
		config:        cfg.PolicyConfig,
		defaultEffect: cfg.DefaultEffect,
		dryRun:        cfg.DryRun,
	}
}

// Evaluate returns the decision of the highest-priority matching rule, or the
// default effect. Every decision is logged.
func (e *Engine) Evaluate(req Request) Decision {
	return e.decide(req, e.evaluate)
}

// EvaluateAny evaluates req against every policy covering its resource type,
// ignoring the resource name and tags, and returns the strictest decision.
// It is used when the concrete resource cannot be determined.
func (e *Engine) EvaluateAny(req Request) Decision {
	return e.decide(req, e.evaluateAny)
}

func (e *Engine) decide(req Request, eval func(Request) Decision) Decision {
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now()
	}

	d := eval(req)
	logDecision(req, d, e.dryRun)

	if e.dryRun && d.Effect != EffectAllow {
		d.Message = "[DRY RUN] " + d.Message
		d.Effect = EffectAllow
	}
	return d
}

func (e *Engine) evaluate(req Request) Decision {
	for _, p := range e.config.Policies {
		if !p.IsEnabled() || !p.appliesTo(req) {
			continue
		}
		if d, ok := p.decide(req); ok {
			return d
		}
	}
	return e.fallback()
}

func (e *Engine) evaluateAny(req Request) Decision {
	var (
		best  Decision
		found bool
	)
	for _, p := range e.config.Policies {
		if !p.IsEnabled() || !p.coversType(req) {
			continue
		}
		d, ok := p.decide(req)
		if !ok {
			continue
		}
		if !found || strictness(d.Effect) > strictness(best.Effect) {
			best, found = d, true
		}
	}
	if !found {
		return e.fallback()
	}
	return best
}

func (e *Engine) fallback() Decision {
	return Decision{
		Effect:     e.defaultEffect,
		PolicyName: "default",
		Message:    "No matching policy found",
	}
}

func strictness(effect Effect) int {
	switch effect {
	case EffectDeny:
		return 2
	case EffectRequireApproval:
		return 1
	}
	return 0
}

// decide applies the policy's first rule for the request, if any.
func (p Policy) decide(req Request) (Decision, bool) {
	i, rule, ok := p.firstRule(req)
	if !ok {
		return Decision{}, false
	}
	d := Decision{
		Effect:     rule.Effect,
		PolicyName: p.Name,
		RuleIndex:  i,
		Message:    rule.Message,
	}
	if rule.Conditions != nil {
		d = rule.Conditions.apply(d, req)
	}
	return d, true
}

func (p Policy) principalMatches(rp RequestPrincipal) bool {
	return len(p.Principals) == 0 || slices.ContainsFunc(p.Principals, func(pr Principal) bool {
		return pr.matches(rp)
	})
}

// coversType reports whether the policy has any resource of the request's
// type, whatever its match criteria.
func (p Policy) coversType(req Request) bool {
	return p.principalMatches(req.Principal) && slices.ContainsFunc(p.Resources, func(r Resource) bool {
		return r.Type == req.Resource.Type
	})
}

// appliesTo reports whether the policy covers the request's principal and
// resource. No principals means everyone.
func (p Policy) appliesTo(req Request) bool {
	return p.principalMatches(req.Principal) && slices.ContainsFunc(p.Resources, func(r Resource) bool {
		return r.matches(req.Resource)
	})
}

// firstRule returns the first rule for the action whose schedule, if any, is
// active at the request time.
func (p Policy) firstRule(req Request) (int, Rule, bool) {
	for i, rule := range p.Rules {
		if !rule.Action.Matches(req.Action) {
			continue
		}
		if c := rule.Conditions; c != nil && c.Schedule != nil && !c.Schedule.IsActive(req.Context.Timestamp) {
			continue
		}
		return i, rule, true
	}
	return 0, Rule{}, false
}

func (pr Principal) matches(rp RequestPrincipal) bool {
	switch {
	case pr.Any:
		return true
	case pr.User != "" && pr.User == rp.UserID:
		return true
	case pr.Service != "" && pr.Service == rp.Service:
		return true
	case pr.Role != "":
		return slices.Contains(rp.Roles, pr.Role)
	}
	return false
}

func (r Resource) matches(rr RequestResource) bool {
	if r.Type != rr.Type {
		return false
	}
	m := r.Match
	if m.Name != "" && m.Name != rr.Name {
		return false
	}
	if m.NamePattern != "" {
		if ok, _ := filepath.Match(m.NamePattern, rr.Name); !ok {
			return false
		}
	}
	for _, tag := range m.Tags {
		if !slices.Contains(rr.Tags, tag) {
			return false
		}
	}
	return true
}

// apply folds approval and result-limit conditions into d.
func (c *Conditions) apply(d Decision, req Request) Decision {
	if c.RequireApproval {
		d.RequiresApproval = true
		d.ApprovalQuorum = max(c.ApprovalQuorum, 1)
		if d.Effect == EffectAllow {
			d.Effect = EffectRequireApproval
		}
	}

	if c.MaxResults > 0 && req.Context.ResultLimit > c.MaxResults {
		d.Effect = EffectDeny
		d.Message = fmt.Sprintf("Search requests %d results, limit is %d",
			req.Context.ResultLimit, c.MaxResults)
		d.Conditions = append(d.Conditions, fmt.Sprintf("max %d results", c.MaxResults))
	}
	return d
}

func logDecision(req Request, decision Decision, dryRun bool) {
	attrs := []any{
		"action", req.Action,
		"resource_type", req.Resource.Type,
		"resource_name", req.Resource.Name,
		"effect", decision.Effect,
		"policy", decision.PolicyName,
	}

	if req.Principal.UserID != "" {
		attrs = append(attrs, "user", req.Principal.UserID)
	}
	if req.Principal.Service != "" {
		attrs = append(attrs, "service", req.Principal.Service)
	}
	if req.Context.SessionID != "" {
		attrs = append(attrs, "session_id", req.Context.SessionID)
	}
	if decision.Message != "" {
		attrs = append(attrs, "message", decision.Message)
	}
	if dryRun {
		attrs = append(attrs, "dry_run", true)
	}

	switch decision.Effect {
	case EffectDeny:
		slog.Warn("policy decision: DENY", attrs...)
	case EffectRequireApproval:
		slog.Info("policy decision: REQUIRE_APPROVAL", attrs...)
	default:
		slog.Debug("policy decision: ALLOW", attrs...)
	}
}

// Check evaluates req and returns a typed error unless it is allowed.
// A nil engine allows everything.
func (e *Engine) Check(req Request) error {
	if e == nil {
		return nil
	}
	d := e.Evaluate(req)
	return d.MustAllow()
}

// CheckAny is Check over EvaluateAny.
func (e *Engine) CheckAny(req Request) error {
	if e == nil {
		return nil
	}
	d := e.EvaluateAny(req)
	return d.MustAllow()
}

// MustAllow converts a non-allow decision into a DeniedError or
// ApprovalRequiredError.
func (d *Decision) MustAllow() error {
	if d.IsAllowed() {
		return nil
	}
	if d.NeedsApproval() {
		return &ApprovalRequiredError{Decision: *d}
	}
	return &DeniedError{Decision: *d}
}

// DeniedError is returned when a request is denied by policy.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Message != "" {
		return "policy denied: " + e.Decision.Message
	}
	return "policy denied by " + e.Decision.PolicyName
}

// ApprovalRequiredError is returned when a request requires approval.
type ApprovalRequiredError struct {
	Decision Decision
}

func (e *ApprovalRequiredError) Error() string {
	if e.Decision.Message != "" {
		return "approval required: " + e.Decision.Message
	}
	return "approval required by policy " + e.Decision.PolicyName
}

// IsApprovalRequired returns true if the error indicates approval is required.
func IsApprovalRequired(err error) bool {
	var target *ApprovalRequiredError
	return errors.As(err, &target)
}

// IsDenied returns true if the error indicates the request was denied.
func IsDenied(err error) bool {
	var target *DeniedError
	return errors.As(err, &target)
}
