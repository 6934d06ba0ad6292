// Package authz provides the policy engine deciding whether a caller may
// invoke a given tool or action within a tenant.
package authz

// ScopeType identifies what a policy binding attaches to.
type ScopeType string

const (
	// ScopeGlobal applies the binding to every request.
	ScopeGlobal ScopeType = "global"

	// ScopeOrganization applies the binding to one organization.
	ScopeOrganization ScopeType = "organization"

	// ScopeEnvironment applies the binding to one environment.
	ScopeEnvironment ScopeType = "environment"
)

// Rules holds the allow and deny action patterns of a binding. Patterns are
// glob-style with * as the only wildcard, e.g. "db.*" matches "db.drop";
// every other character matches itself.
type Rules struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Binding associates a rule set with a scope. Priority orders bindings for
// audit attribution only; it never changes the allow/deny outcome because
// deny is absolute.
type Binding struct {
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   string    `json:"scope_id,omitempty"`
	Priority  int       `json:"priority"`
	Rules     Rules     `json:"rules"`
}

// RuleSet is the ordered collection of bindings supplied by the tenant
// store for one organization/environment.
type RuleSet struct {
	Bindings []Binding `json:"bindings"`
}

// Target is what the evaluated action operates on.
type Target struct {
	OrganizationID string
	EnvironmentID  string
	Resource       string
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}
