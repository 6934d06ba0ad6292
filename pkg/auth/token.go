// Package auth provides authentication for gateway requests: bearer token
// validation, replay protection, and resolution of the caller identity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
)

// Common errors
var (
	ErrNoToken                 = errors.New("no token provided")
	ErrMissingIssuerAndJWKSURL = errors.New("either issuer or JWKS URL must be provided")
	ErrFailedToDiscoverOIDC    = errors.New("failed to discover OIDC configuration")
)

// OIDCDiscoveryDocument represents the OIDC discovery document structure
type OIDCDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// TokenValidator validates bearer tokens and resolves the caller identity.
// Signature verification is delegated to the JWKS published by the trusted
// authorization servers; the validator owns claim checks and replay
// protection.
type TokenValidator struct {
	issuers     []string
	audience    string
	jwksURL     string
	resourceURL string
	jwksClient  *jwk.Cache
	client      *http.Client
	guard       *ReplayGuard

	// Lazy JWKS registration
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// TokenValidatorConfig contains configuration for the token validator.
type TokenValidatorConfig struct {
	// Issuers is the list of trusted authorization server URLs. Tokens from
	// any other issuer are rejected.
	Issuers []string

	// Audience is the canonical resource URI expected in the token audience.
	Audience string

	// JWKSURL is the URL to fetch the JWKS from. When empty it is discovered
	// from the first issuer's well-known endpoint.
	JWKSURL string

	// ResourceURL is the resource identifier advertised for OAuth discovery
	// (RFC 9728).
	ResourceURL string

	// HTTPClient is used for JWKS and discovery requests. Defaults to a
	// client with a 10 second timeout.
	HTTPClient *http.Client
}

// discoverOIDCConfiguration discovers OIDC configuration from the issuer's well-known endpoint
func discoverOIDCConfiguration(ctx context.Context, client *http.Client, issuer string) (*OIDCDiscoveryDocument, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc OIDCDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}

	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC configuration missing jwks_uri")
	}

	return &doc, nil
}

// NewTokenValidator creates a new token validator.
func NewTokenValidator(ctx context.Context, config TokenValidatorConfig, guard *ReplayGuard) (*TokenValidator, error) {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	jwksURL := config.JWKSURL

	// If the JWKS URL is not provided but an issuer is, try to discover it.
	if jwksURL == "" && len(config.Issuers) > 0 {
		doc, err := discoverOIDCConfiguration(ctx, httpClient, config.Issuers[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToDiscoverOIDC, err)
		}
		jwksURL = doc.JWKSURI
	}

	if jwksURL == "" {
		return nil, ErrMissingIssuerAndJWKSURL
	}

	// Create a new JWKS client with auto-refresh.
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	// JWKS registration happens lazily on first use to avoid blocking startup.

	return &TokenValidator{
		issuers:     config.Issuers,
		audience:    config.Audience,
		jwksURL:     jwksURL,
		resourceURL: config.ResourceURL,
		jwksClient:  cache,
		client:      httpClient,
		guard:       guard,
	}, nil
}

// ensureJWKSRegistered ensures that the JWKS URL is registered with the cache.
// This is called lazily on first use to avoid blocking startup.
func (v *TokenValidator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := v.jwksClient.Register(registrationCtx, v.jwksURL)
	if err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.jwksRegistrationErr = nil
	}

	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// getKeyFromJWKS gets the key from the JWKS.
func (v *TokenValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (interface{}, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	// Validate the signing method
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

// validateClaims validates the trust-relevant claims in the token.
func (v *TokenValidator) validateClaims(claims jwt.MapClaims) error {
	if len(v.issuers) > 0 {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return tgerr.NewInvalidIssuerError("failed to get issuer from claims", err)
		}
		if !slices.Contains(v.issuers, strings.TrimSpace(issuerClaim)) {
			return tgerr.NewInvalidIssuerError(fmt.Sprintf("issuer %q is not trusted", issuerClaim), nil)
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return tgerr.NewInvalidAudienceError("failed to get audience from claims", err)
		}
		if !slices.Contains(audiences, v.audience) {
			return tgerr.NewInvalidAudienceError(fmt.Sprintf("audience does not include %q", v.audience), nil)
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil {
		return tgerr.NewInvalidTokenError("token has no expiration time", err)
	}
	if expirationTime.Before(time.Now()) {
		return tgerr.NewExpiredTokenError("token is expired", nil)
	}

	// A token issued after its own expiry is malformed regardless of clock.
	issuedAt, err := claims.GetIssuedAt()
	if err == nil && issuedAt != nil && !expirationTime.After(issuedAt.Time) {
		return tgerr.NewInvalidTokenError("token expiry is not after issued-at", nil)
	}

	return nil
}

// ValidateToken validates a bearer token and returns the caller identity.
// The token-id is marked as seen in the replay guard; a second validation of
// the same token-id fails with token_replayed.
func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	parser := jwt.NewParser(jwt.WithExpirationRequired())

	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, tgerr.NewExpiredTokenError("token is expired", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, tgerr.NewError(tgerr.ErrInvalidSignature, "token signature verification failed", err)
		default:
			return nil, tgerr.NewInvalidTokenError("failed to parse token", err)
		}
	}

	if !token.Valid {
		return nil, tgerr.NewInvalidTokenError("token is invalid", nil)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, tgerr.NewInvalidTokenError("failed to get claims from token", nil)
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	identity, err := identityFromClaims(claims)
	if err != nil {
		return nil, err
	}

	// Replay check last, so only structurally valid tokens consume their
	// token-id. The mark stays applied even if the request is later
	// abandoned.
	expiry := time.Time{}
	if expirationTime, err := claims.GetExpirationTime(); err == nil && expirationTime != nil {
		expiry = expirationTime.Time
	}
	replayed, err := v.guard.CheckAndMark(ctx, identity.TokenID, expiry)
	if err != nil {
		return nil, tgerr.NewInternalError("replay check failed", err)
	}
	if replayed {
		return nil, tgerr.NewTokenReplayedError(
			fmt.Sprintf("token-id %s has already been used", identity.TokenID), nil)
	}

	return identity, nil
}

// Revoke force-expires a token-id ahead of its natural expiry.
func (v *TokenValidator) Revoke(ctx context.Context, tokenID string) error {
	return v.guard.Revoke(ctx, tokenID)
}

// identityFromClaims builds the caller identity from validated claims.
func identityFromClaims(claims jwt.MapClaims) (*Identity, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, tgerr.NewInvalidTokenError("token has no subject", err)
	}

	tokenID, _ := claims["jti"].(string)
	if tokenID == "" {
		return nil, tgerr.NewInvalidTokenError("token has no jti claim", nil)
	}

	orgID, _ := claims["org_id"].(string)
	envID, _ := claims["env_id"].(string)
	serviceAccount, _ := claims["service_account"].(bool)

	return &Identity{
		Subject:        subject,
		OrganizationID: orgID,
		EnvironmentID:  envID,
		Scopes:         scopesFromClaims(claims),
		ServiceAccount: serviceAccount,
		TokenID:        tokenID,
	}, nil
}

// scopesFromClaims extracts the scope set. Both the space-separated "scope"
// string (RFC 8693) and the "scp" array form are accepted.
func scopesFromClaims(claims jwt.MapClaims) []string {
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		return strings.Fields(scope)
	}

	if scp, ok := claims["scp"].([]any); ok {
		scopes := make([]string, 0, len(scp))
		for _, s := range scp {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}

	return nil
}
