package gateway

import (
	"context"

	"github.com/trustgate-dev/trustgate/pkg/authz"
)

// Organization is a tenant of the platform.
type Organization struct {
	ID   string
	Name string
}

// Environment is a deployment environment within an organization.
type Environment struct {
	ID             string
	OrganizationID string
	Name           string
}

// Connection describes how a tool reaches its downstream service. SecretRef,
// when set, is an opaque vault reference resolved only at the moment of
// outbound call construction.
type Connection struct {
	ID        string
	URL       string
	SecretRef string
}

// Tool is an invocable capability registered in an environment.
type Tool struct {
	Name string

	// RequiredScope must be present in the caller's token, if set.
	RequiredScope string

	// Connection is the downstream target, nil for connectionless tools.
	Connection *Connection
}

// TenantReader supplies tenant records to the gateway. The tenant store is
// an external collaborator; the gateway never mutates its records. Each
// method returns (nil, nil) when the record does not exist.
type TenantReader interface {
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	GetEnvironment(ctx context.Context, orgID, envID string) (*Environment, error)
	GetTool(ctx context.Context, orgID, envID, name string) (*Tool, error)
	GetRuleSet(ctx context.Context, orgID, envID string) (*authz.RuleSet, error)
}
