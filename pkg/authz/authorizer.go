package authz

import (
	"fmt"
	"sort"
	"strings"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/trustgate-dev/trustgate/pkg/logger"
)

// Authorizer decides whether an action on a target is allowed under a rule
// set.
type Authorizer interface {
	Evaluate(ruleSet *RuleSet, action string, target Target) Decision
}

// RuleAuthorizer evaluates tenant-supplied rule sets by compiling them to
// Cedar policies: allow rules become permit policies, deny rules become
// forbid policies. Cedar resolves forbid over permit, so a matching deny
// rule anywhere in the applicable bindings rejects the action regardless of
// any allow rule.
type RuleAuthorizer struct {
	defaultDeny bool
}

// RuleAuthorizerOption configures a RuleAuthorizer.
type RuleAuthorizerOption func(*RuleAuthorizer)

// WithDefaultDeny inverts the posture for rule sets that carry no allow
// rules: instead of the documented default-allow, actions not explicitly
// allowed are rejected.
func WithDefaultDeny() RuleAuthorizerOption {
	return func(a *RuleAuthorizer) {
		a.defaultDeny = true
	}
}

// NewRuleAuthorizer creates a RuleAuthorizer.
func NewRuleAuthorizer(opts ...RuleAuthorizerOption) *RuleAuthorizer {
	a := &RuleAuthorizer{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate decides whether action may run against target.
//
// Applicable bindings are compiled in priority order (lower number first) so
// the reason string cites the highest-priority binding that decided the
// outcome. An empty rule set evaluates to allow; once any binding carries an
// allow rule, actions not covered by one are rejected.
func (a *RuleAuthorizer) Evaluate(ruleSet *RuleSet, action string, target Target) Decision {
	compiled := compileBindings(applicableBindings(ruleSet, target))

	req := cedar.Request{
		Principal: cedar.NewEntityUID("Tenant", cedar.String(target.OrganizationID)),
		Action:    cedar.NewEntityUID("Action", cedar.String(action)),
		Resource:  cedar.NewEntityUID("Resource", cedar.String(target.Resource)),
		Context:   cedar.NewRecord(cedar.RecordMap{"action": cedar.String(action)}),
	}

	decision, diagnostic := cedar.Authorize(compiled.policySet, cedar.EntityMap{}, req)
	for _, evalErr := range diagnostic.Errors {
		logger.Warnw("policy evaluation error",
			"policy_id", evalErr.PolicyID, "error", evalErr.Message)
	}

	if decision == cedar.Allow {
		return Decision{Allowed: true, Reason: "ok"}
	}

	if rule, ok := compiled.determiningDeny(diagnostic); ok {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("%s is denied by %s rule %q",
				action, describeBinding(&rule.binding), rule.pattern),
		}
	}

	if compiled.hasAllow {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("%s is not covered by any allow rule", action),
		}
	}

	// No rules match and none exist: default-allow unless the deployment
	// opted into the stricter posture.
	if a.defaultDeny {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("no policy allows %s", action),
		}
	}
	return Decision{Allowed: true, Reason: "ok"}
}

// compiledRule ties a Cedar policy back to the binding and pattern that
// produced it, for reason attribution.
type compiledRule struct {
	binding Binding
	pattern string
	deny    bool
	order   int
}

type compiledRuleSet struct {
	policySet *cedar.PolicySet
	rules     map[cedar.PolicyID]compiledRule
	hasAllow  bool
}

// compileBindings turns the bindings into one Cedar policy per rule pattern.
// Bindings arrive priority-ordered and deny rules compile first, so the
// lowest policy index among the determining policies belongs to the
// highest-priority binding.
func compileBindings(bindings []Binding) *compiledRuleSet {
	compiled := &compiledRuleSet{
		policySet: cedar.NewPolicySet(),
		rules:     make(map[cedar.PolicyID]compiledRule),
	}

	order := 0
	add := func(binding Binding, pattern string, deny bool) {
		effect := "permit"
		if deny {
			effect = "forbid"
		}
		src := fmt.Sprintf(`%s(principal, action, resource) when { context.action like "%s" };`,
			effect, cedarPattern(pattern))

		var policy cedar.Policy
		if err := policy.UnmarshalCedar([]byte(src)); err != nil {
			logger.Warnw("skipping unparsable action pattern",
				"pattern", pattern, "error", err)
			return
		}

		id := cedar.PolicyID(fmt.Sprintf("policy%d", order))
		compiled.policySet.Add(id, &policy)
		compiled.rules[id] = compiledRule{binding: binding, pattern: pattern, deny: deny, order: order}
		order++
	}

	for _, binding := range bindings {
		for _, pattern := range binding.Rules.Deny {
			add(binding, pattern, true)
		}
	}
	for _, binding := range bindings {
		if len(binding.Rules.Allow) > 0 {
			compiled.hasAllow = true
		}
		for _, pattern := range binding.Rules.Allow {
			add(binding, pattern, false)
		}
	}
	return compiled
}

// determiningDeny returns the forbid rule behind the deny decision. When
// several forbid policies fired, the earliest-compiled one wins so the
// reason names the highest-priority binding.
func (c *compiledRuleSet) determiningDeny(diagnostic cedar.Diagnostic) (compiledRule, bool) {
	var best compiledRule
	found := false
	for _, reason := range diagnostic.Reasons {
		rule, ok := c.rules[reason.PolicyID]
		if !ok || !rule.deny {
			continue
		}
		if !found || rule.order < best.order {
			best = rule
			found = true
		}
	}
	return best, found
}

// cedarPattern renders a rule pattern as a Cedar like-pattern. Both pattern
// languages treat * as the wildcard; quote and backslash are escaped so any
// pattern survives embedding in policy source. Characters with no wildcard
// meaning in Cedar, such as ? and [, match literally.
func cedarPattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// applicableBindings filters bindings to those covering the target's scope
// and orders them by priority (stable, lower number first).
func applicableBindings(ruleSet *RuleSet, target Target) []Binding {
	if ruleSet == nil {
		return nil
	}

	bindings := make([]Binding, 0, len(ruleSet.Bindings))
	for _, binding := range ruleSet.Bindings {
		switch binding.ScopeType {
		case ScopeGlobal:
			bindings = append(bindings, binding)
		case ScopeOrganization:
			if binding.ScopeID == target.OrganizationID {
				bindings = append(bindings, binding)
			}
		case ScopeEnvironment:
			if binding.ScopeID == target.EnvironmentID {
				bindings = append(bindings, binding)
			}
		default:
			logger.Warnw("skipping binding with unknown scope type",
				"scope_type", binding.ScopeType, "scope_id", binding.ScopeID)
		}
	}

	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].Priority < bindings[j].Priority
	})
	return bindings
}

func describeBinding(binding *Binding) string {
	if binding.ScopeID == "" {
		return string(binding.ScopeType)
	}
	return fmt.Sprintf("%s/%s", binding.ScopeType, binding.ScopeID)
}
