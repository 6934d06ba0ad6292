// Package gateway is the entry point invoked per inbound request. It
// sequences token validation, policy evaluation, and optional secret
// resolution, and surfaces every failure through the uniform error
// taxonomy.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trustgate-dev/trustgate/pkg/auth"
	"github.com/trustgate-dev/trustgate/pkg/authz"
	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
	"github.com/trustgate-dev/trustgate/pkg/logger"
	"github.com/trustgate-dev/trustgate/pkg/secrets"
	"github.com/trustgate-dev/trustgate/pkg/telemetry"
)

// Executor runs an authorized tool invocation against its downstream
// service. Execution itself is outside the trust boundary; the gateway only
// hands over the decision and, when needed, the resolved credential.
type Executor interface {
	Execute(ctx context.Context, tool *Tool, arguments json.RawMessage, credential string) (json.RawMessage, error)
}

// Gateway sequences the trust-boundary components for each request.
type Gateway struct {
	authorizer authz.Authorizer
	vault      *secrets.Vault
	tenants    TenantReader
	executor   Executor
	limiter    *RateLimiter
	metrics    *telemetry.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRateLimiter bounds requests per identity.
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

// WithMetrics records auth and policy outcomes.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// New creates a Gateway.
func New(authorizer authz.Authorizer, vault *secrets.Vault, tenants TenantReader, executor Executor, opts ...Option) *Gateway {
	g := &Gateway{
		authorizer: authorizer,
		vault:      vault,
		tenants:    tenants,
		executor:   executor,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// checkTenantBinding enforces the token's tenant claims against the
// requested org/env. It runs before any tenant-scoped lookup: a token bound
// to another tenant must not learn anything about this one, including
// whether a tool or environment exists. Service accounts are platform
// identities and are the only callers exempt from the binding; a user token
// without tenant claims is rejected rather than waved through.
func checkTenantBinding(identity *auth.Identity, orgID, envID string) error {
	if identity.ServiceAccount {
		return nil
	}
	if identity.OrganizationID == "" || identity.OrganizationID != orgID {
		return tgerr.NewError(tgerr.ErrOrgMismatch,
			"token is not valid for this organization", nil)
	}
	if identity.EnvironmentID == "" || identity.EnvironmentID != envID {
		return tgerr.NewError(tgerr.ErrEnvMismatch,
			"token is not valid for this environment", nil)
	}
	return nil
}

// Authorize decides whether identity may perform action in the given
// org/env. Validation and policy failures are terminal for the request;
// there is no partial execution and no silent downgrade.
func (g *Gateway) Authorize(ctx context.Context, identity *auth.Identity, orgID, envID, action, resource string) error {
	if err := checkTenantBinding(identity, orgID, envID); err != nil {
		return err
	}

	org, err := g.tenants.GetOrganization(ctx, orgID)
	if err != nil {
		return tgerr.NewInternalError("failed to look up organization", err)
	}
	if org == nil {
		return tgerr.NewNotFoundError(tgerr.ErrOrganizationNotFound,
			fmt.Sprintf("organization %q does not exist", orgID))
	}

	env, err := g.tenants.GetEnvironment(ctx, orgID, envID)
	if err != nil {
		return tgerr.NewInternalError("failed to look up environment", err)
	}
	if env == nil {
		return tgerr.NewNotFoundError(tgerr.ErrEnvironmentNotFound,
			fmt.Sprintf("environment %q does not exist", envID))
	}

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, identity.Subject)
		if err != nil {
			return tgerr.NewInternalError("rate-limit check failed", err)
		}
		if !allowed {
			return tgerr.NewError(tgerr.ErrRateLimited, "request budget exceeded", nil)
		}
	}

	ruleSet, err := g.tenants.GetRuleSet(ctx, orgID, envID)
	if err != nil {
		return tgerr.NewInternalError("failed to look up policy rule set", err)
	}

	decision := g.authorizer.Evaluate(ruleSet, action, authz.Target{
		OrganizationID: orgID,
		EnvironmentID:  envID,
		Resource:       resource,
	})
	if g.metrics != nil {
		outcome := "allow"
		if !decision.Allowed {
			outcome = "deny"
		}
		g.metrics.PolicyDecisions.WithLabelValues(outcome).Inc()
	}
	if !decision.Allowed {
		logger.Infow("policy denied request",
			"subject", identity.Subject,
			"organization_id", orgID,
			"environment_id", envID,
			"action", action,
			"reason", decision.Reason)
		return tgerr.NewForbiddenError(decision.Reason, nil)
	}

	return nil
}

// InvokeTool authorizes and executes a tool invocation. Credentials are
// resolved from the vault only at the moment of outbound call construction
// and are never logged or persisted in plaintext.
func (g *Gateway) InvokeTool(ctx context.Context, identity *auth.Identity, orgID, envID, toolName string, arguments json.RawMessage) (json.RawMessage, error) {
	// Tenant binding is checked before the tool lookup so a cross-tenant
	// caller sees the same mismatch error whether or not the tool exists.
	if err := checkTenantBinding(identity, orgID, envID); err != nil {
		return nil, err
	}

	tool, err := g.tenants.GetTool(ctx, orgID, envID, toolName)
	if err != nil {
		return nil, tgerr.NewInternalError("failed to look up tool", err)
	}
	if tool == nil {
		return nil, tgerr.NewNotFoundError(tgerr.ErrToolNotFound,
			fmt.Sprintf("tool %q does not exist", toolName))
	}

	if tool.RequiredScope != "" && !identity.HasScope(tool.RequiredScope) {
		return nil, tgerr.NewInsufficientScopeError(
			fmt.Sprintf("tool %q requires scope %q", toolName, tool.RequiredScope), nil)
	}

	if err := g.Authorize(ctx, identity, orgID, envID, toolName, toolName); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger.Infow("executing tool",
		"run_id", runID,
		"subject", identity.Subject,
		"organization_id", orgID,
		"environment_id", envID,
		"tool", toolName)

	credential := ""
	if tool.Connection != nil && tool.Connection.SecretRef != "" {
		credential, err = g.resolveSecret(ctx, identity, tool.Connection.SecretRef)
		if err != nil {
			return nil, err
		}
	}

	result, err := g.executor.Execute(ctx, tool, arguments, credential)
	if err != nil {
		logger.Errorw("tool execution failed",
			"run_id", runID,
			"subject", identity.Subject,
			"organization_id", orgID,
			"environment_id", envID,
			"tool", toolName,
			"error", err)
		return nil, tgerr.NewError(tgerr.ErrExecutionFailed, "tool execution failed", err)
	}
	return result, nil
}

// resolveSecret pulls the connection credential for run execution. This is
// the in-process bypass path: the decision to execute was already
// authorized above, so the vault permission check is skipped and audited.
func (g *Gateway) resolveSecret(ctx context.Context, identity *auth.Identity, ref string) (string, error) {
	value, err := g.vault.Get(ctx, identity, ref,
		secrets.WithBypassPermissions("authorized run execution"))
	if err != nil {
		if g.metrics != nil {
			g.metrics.SecretReads.WithLabelValues("error").Inc()
		}
		return "", translateSecretError(err)
	}
	if g.metrics != nil {
		g.metrics.SecretReads.WithLabelValues("ok").Inc()
	}
	return value, nil
}

// ReadSecret is the explicit, permission-checked retrieval path for
// privileged callers.
func (g *Gateway) ReadSecret(ctx context.Context, identity *auth.Identity, ref string) (string, error) {
	value, err := g.vault.Get(ctx, identity, ref)
	if err != nil {
		return "", translateSecretError(err)
	}
	return value, nil
}

func translateSecretError(err error) error {
	switch {
	case errors.Is(err, secrets.ErrPermissionDenied):
		return tgerr.NewForbiddenError("not permitted to read secrets", nil)
	case errors.Is(err, secrets.ErrSecretNotFound):
		return tgerr.NewNotFoundError(tgerr.ErrResourceNotFound, "secret reference does not resolve")
	default:
		return tgerr.NewInternalError("failed to resolve secret", err)
	}
}
