package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trustgate-dev/trustgate/pkg/auth"
	"github.com/trustgate-dev/trustgate/pkg/authz"
	"github.com/trustgate-dev/trustgate/pkg/cache"
	"github.com/trustgate-dev/trustgate/pkg/gateway"
	"github.com/trustgate-dev/trustgate/pkg/logger"
	"github.com/trustgate-dev/trustgate/pkg/oauth"
	"github.com/trustgate-dev/trustgate/pkg/secrets"
	"github.com/trustgate-dev/trustgate/pkg/telemetry"
)

type serveOptions struct {
	listen      string
	issuers     []string
	audience    string
	jwksURL     string
	resourceURL string
	scopes      []string

	redisAddr     string
	redisPrefix   string
	redisPassword string

	secretsProvider string
	secretsFile     string
	adminSubjects   []string

	authorizeEndpoint string
	oauthClientID     string
	oauthRedirectURL  string

	tenantFile string

	rateLimit  int64
	rateWindow time.Duration

	defaultDeny bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", ":8080", "Listen address")
	flags.StringSliceVar(&opts.issuers, "issuer", nil, "Trusted authorization server URL (repeatable)")
	flags.StringVar(&opts.audience, "audience", "", "Expected token audience (canonical resource URI)")
	flags.StringVar(&opts.jwksURL, "jwks-url", "", "JWKS URL (discovered from the issuer when empty)")
	flags.StringVar(&opts.resourceURL, "resource-url", "", "Resource URL advertised for OAuth discovery")
	flags.StringSliceVar(&opts.scopes, "scope", nil, "Supported scope (repeatable)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address; uses the in-memory store when empty")
	flags.StringVar(&opts.redisPrefix, "redis-prefix", "trustgate:gw:", "Redis key prefix")
	flags.StringVar(&opts.redisPassword, "redis-password", "", "Redis password")
	flags.StringVar(&opts.secretsProvider, "secrets-provider", string(secrets.EncryptedType), "Secrets provider (encrypted, memory)")
	flags.StringVar(&opts.secretsFile, "secrets-file", "trustgate-secrets.enc", "Encrypted secrets file path")
	flags.StringSliceVar(&opts.adminSubjects, "admin-subject", nil, "Subject allowed to read secrets (repeatable)")
	flags.StringVar(&opts.authorizeEndpoint, "authorize-endpoint", "", "Authorization server consent URL")
	flags.StringVar(&opts.oauthClientID, "oauth-client-id", "trustgate", "OAuth client ID")
	flags.StringVar(&opts.oauthRedirectURL, "oauth-redirect-url", "", "OAuth redirect URL")
	flags.StringVar(&opts.tenantFile, "tenant-file", "", "JSON file with tenant records")
	flags.Int64Var(&opts.rateLimit, "rate-limit", 0, "Requests per identity per window (0 disables)")
	flags.DurationVar(&opts.rateWindow, "rate-window", time.Minute, "Rate-limit window")
	flags.BoolVar(&opts.defaultDeny, "default-deny", false, "Reject actions not explicitly allowed by policy")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	guard := auth.NewReplayGuard(store)
	validator, err := auth.NewTokenValidator(ctx, auth.TokenValidatorConfig{
		Issuers:     opts.issuers,
		Audience:    opts.audience,
		JWKSURL:     opts.jwksURL,
		ResourceURL: opts.resourceURL,
	}, guard)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}

	flow := oauth.NewFlowManager(store, oauth.Config{
		AuthorizationEndpoint: opts.authorizeEndpoint,
		ClientID:              opts.oauthClientID,
		RedirectURL:           opts.oauthRedirectURL,
		Scopes:                opts.scopes,
	})

	vault, err := buildVault(opts)
	if err != nil {
		return err
	}

	tenants, err := buildTenants(opts)
	if err != nil {
		return err
	}

	var authzOpts []authz.RuleAuthorizerOption
	if opts.defaultDeny {
		authzOpts = append(authzOpts, authz.WithDefaultDeny())
	}

	metrics := telemetry.NewMetrics()

	var gwOpts []gateway.Option
	gwOpts = append(gwOpts, gateway.WithMetrics(metrics))
	if opts.rateLimit > 0 {
		gwOpts = append(gwOpts, gateway.WithRateLimiter(
			gateway.NewRateLimiter(store, opts.rateLimit, opts.rateWindow)))
	}

	gw := gateway.New(
		authz.NewRuleAuthorizer(authzOpts...),
		vault,
		tenants,
		gateway.NewHTTPExecutor(nil),
		gwOpts...,
	)

	discovery := auth.NewAuthInfoHandler(opts.issuers, opts.jwksURL, opts.resourceURL, opts.scopes)
	server := gateway.NewServer(gw, validator, flow, store, metrics, discovery)

	httpServer := &http.Server{
		Addr:              opts.listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("gateway listening", "addr", opts.listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down gateway")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildStore(ctx context.Context, opts *serveOptions) (cache.Store, error) {
	if opts.redisAddr == "" {
		logger.Warn("no redis address configured, using in-memory store; replay and rate-limit state is not shared across processes")
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:      opts.redisAddr,
		Password:  opts.redisPassword,
		KeyPrefix: opts.redisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis store: %w", err)
	}
	return store, nil
}

func buildVault(opts *serveOptions) (*secrets.Vault, error) {
	masterKey, err := secrets.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault key material: %w", err)
	}

	providerType := secrets.ProviderType(opts.secretsProvider)
	if providerType == secrets.MemoryType {
		logger.Warn("using in-memory secrets provider; for local development only")
	}
	provider, err := secrets.CreateSecretProvider(providerType, opts.secretsFile, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets provider: %w", err)
	}

	return secrets.NewVault(provider, masterKey,
		secrets.WithAdminSubjects(opts.adminSubjects...))
}

func buildTenants(opts *serveOptions) (gateway.TenantReader, error) {
	if opts.tenantFile == "" {
		logger.Warn("no tenant file configured, starting with an empty tenant set")
		return gateway.NewStaticTenantReader(), nil
	}
	tenants, err := gateway.LoadTenantFile(opts.tenantFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant file: %w", err)
	}
	return tenants, nil
}
