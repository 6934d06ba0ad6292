package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/trustgate-dev/trustgate/pkg/authz"
)

// tenantFile is the on-disk schema for a StaticTenantReader.
type tenantFile struct {
	Organizations []Organization `json:"organizations"`
	Environments  []Environment  `json:"environments"`
	Tools         []tenantTool   `json:"tools"`
	RuleSets      []tenantRules  `json:"rule_sets"`
}

type tenantTool struct {
	OrganizationID string      `json:"organization_id"`
	EnvironmentID  string      `json:"environment_id"`
	Name           string      `json:"name"`
	RequiredScope  string      `json:"required_scope,omitempty"`
	Connection     *Connection `json:"connection,omitempty"`
}

type tenantRules struct {
	OrganizationID string        `json:"organization_id"`
	EnvironmentID  string        `json:"environment_id"`
	RuleSet        authz.RuleSet `json:"rule_set"`
}

// StaticTenantReader serves tenant records from a fixed in-memory set,
// typically loaded from a JSON file. Deployments embedded in the platform
// replace this with a reader backed by the platform's tenant store.
type StaticTenantReader struct {
	organizations map[string]Organization
	environments  map[string]Environment
	tools         map[string]tenantTool
	ruleSets      map[string]authz.RuleSet
}

// NewStaticTenantReader creates an empty StaticTenantReader.
func NewStaticTenantReader() *StaticTenantReader {
	return &StaticTenantReader{
		organizations: make(map[string]Organization),
		environments:  make(map[string]Environment),
		tools:         make(map[string]tenantTool),
		ruleSets:      make(map[string]authz.RuleSet),
	}
}

// LoadTenantFile reads a StaticTenantReader from a JSON file.
func LoadTenantFile(path string) (*StaticTenantReader, error) {
	// #nosec G304: the tenant file path is operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant file: %w", err)
	}

	var file tenantFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenant file: %w", err)
	}

	r := NewStaticTenantReader()
	for _, org := range file.Organizations {
		r.AddOrganization(org)
	}
	for _, env := range file.Environments {
		r.AddEnvironment(env)
	}
	for _, tool := range file.Tools {
		r.AddTool(tool.OrganizationID, tool.EnvironmentID, &Tool{
			Name:          tool.Name,
			RequiredScope: tool.RequiredScope,
			Connection:    tool.Connection,
		})
	}
	for _, rules := range file.RuleSets {
		r.SetRuleSet(rules.OrganizationID, rules.EnvironmentID, rules.RuleSet)
	}
	return r, nil
}

// AddOrganization registers an organization.
func (r *StaticTenantReader) AddOrganization(org Organization) {
	r.organizations[org.ID] = org
}

// AddEnvironment registers an environment.
func (r *StaticTenantReader) AddEnvironment(env Environment) {
	r.environments[env.OrganizationID+"/"+env.ID] = env
}

// AddTool registers a tool in an environment.
func (r *StaticTenantReader) AddTool(orgID, envID string, tool *Tool) {
	r.tools[orgID+"/"+envID+"/"+tool.Name] = tenantTool{
		OrganizationID: orgID,
		EnvironmentID:  envID,
		Name:           tool.Name,
		RequiredScope:  tool.RequiredScope,
		Connection:     tool.Connection,
	}
}

// SetRuleSet sets the policy rule set for an environment.
func (r *StaticTenantReader) SetRuleSet(orgID, envID string, ruleSet authz.RuleSet) {
	r.ruleSets[orgID+"/"+envID] = ruleSet
}

// GetOrganization returns the organization, or nil.
func (r *StaticTenantReader) GetOrganization(_ context.Context, orgID string) (*Organization, error) {
	org, ok := r.organizations[orgID]
	if !ok {
		return nil, nil
	}
	return &org, nil
}

// GetEnvironment returns the environment, or nil.
func (r *StaticTenantReader) GetEnvironment(_ context.Context, orgID, envID string) (*Environment, error) {
	env, ok := r.environments[orgID+"/"+envID]
	if !ok {
		return nil, nil
	}
	return &env, nil
}

// GetTool returns the tool, or nil.
func (r *StaticTenantReader) GetTool(_ context.Context, orgID, envID, name string) (*Tool, error) {
	tool, ok := r.tools[orgID+"/"+envID+"/"+name]
	if !ok {
		return nil, nil
	}
	return &Tool{
		Name:          tool.Name,
		RequiredScope: tool.RequiredScope,
		Connection:    tool.Connection,
	}, nil
}

// GetRuleSet returns the policy rule set, or nil for "no rules".
func (r *StaticTenantReader) GetRuleSet(_ context.Context, orgID, envID string) (*authz.RuleSet, error) {
	ruleSet, ok := r.ruleSets[orgID+"/"+envID]
	if !ok {
		return nil, nil
	}
	return &ruleSet, nil
}
