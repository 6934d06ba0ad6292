// Package oauth implements the authorization-code flow that issues
// platform-scoped access tokens. All flow state lives in the shared cache
// store; single-use records are consumed with atomic read-and-delete so an
// authorization code is redeemable at most once across concurrent attempts.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/trustgate-dev/trustgate/pkg/cache"
	"github.com/trustgate-dev/trustgate/pkg/logger"
)

// Default TTLs for flow records.
const (
	DefaultStateTTL = 5 * time.Minute
	DefaultCodeTTL  = 5 * time.Minute
	DefaultTokenTTL = 1 * time.Hour
)

const (
	stateKeyPrefix   = "oauth:state:"
	codeKeyPrefix    = "oauth:code:"
	tokenKeyPrefix   = "oauth:token:"
	revokedKeyPrefix = "oauth:revoked:"
)

// ErrCodeInvalid is returned when an authorization code is unknown, expired,
// or already exchanged. The three cases are deliberately indistinguishable.
var ErrCodeInvalid = errors.New("authorization code is invalid or already used")

// Config contains configuration for the flow manager.
type Config struct {
	// AuthorizationEndpoint is the authorization server URL users are
	// redirected to for consent.
	AuthorizationEndpoint string

	// ClientID identifies the gateway at the authorization server.
	ClientID string

	// RedirectURL is where the authorization server sends the user back.
	RedirectURL string

	// Scopes requested during authorization.
	Scopes []string

	// Record TTLs. Zero values use the defaults above.
	StateTTL time.Duration
	CodeTTL  time.Duration
	TokenTTL time.Duration
}

// AuthorizationState is the short-lived record created when an authorization
// flow starts, keyed by an unguessable state token.
type AuthorizationState struct {
	OrganizationID string    `json:"organization_id"`
	EnvironmentID  string    `json:"environment_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// authorizationCode is the single-use record behind an authorization code.
type authorizationCode struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	EnvironmentID  string    `json:"environment_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccessToken is a platform-scoped access token minted on code exchange.
type AccessToken struct {
	// Token is the opaque token string. Never persisted inside the record;
	// the record is keyed by it.
	Token string `json:"-"`

	OrganizationID string    `json:"organization_id"`
	EnvironmentID  string    `json:"environment_id"`
	Subject        string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Revoked is populated on introspection from the revocation mark kept
	// beside the record; the stored record itself never changes.
	Revoked bool `json:"-"`
}

// FlowManager drives the authorization-code flow.
type FlowManager struct {
	store  cache.Store
	config Config
	oauth  *oauth2.Config
}

// NewFlowManager creates a FlowManager on the given store.
func NewFlowManager(store cache.Store, config Config) *FlowManager {
	if config.StateTTL == 0 {
		config.StateTTL = DefaultStateTTL
	}
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultTokenTTL
	}

	return &FlowManager{
		store:  store,
		config: config,
		oauth: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURL,
			Scopes:      config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL: config.AuthorizationEndpoint,
			},
		},
	}
}

// StartAuthorization creates an AuthorizationState record keyed by a freshly
// generated unguessable state token and returns the authorization URL
// embedding it.
func (m *FlowManager) StartAuthorization(ctx context.Context, orgID, envID string) (url, state string, err error) {
	state, err = generateToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state token: %w", err)
	}

	record, err := json.Marshal(AuthorizationState{
		OrganizationID: orgID,
		EnvironmentID:  envID,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal authorization state: %w", err)
	}

	if err := m.store.Set(ctx, stateKeyPrefix+state, string(record), m.config.StateTTL); err != nil {
		return "", "", fmt.Errorf("failed to store authorization state: %w", err)
	}

	return m.oauth.AuthCodeURL(state), state, nil
}

// ValidateState looks up the state record without consuming it, so the
// org/env context can be recovered mid-flow. Returns nil when the state is
// absent or expired; an invalid state is a normal client-driven occurrence
// (browser back-button reuse), not an error.
func (m *FlowManager) ValidateState(ctx context.Context, state string) (*AuthorizationState, error) {
	value, ok, err := m.store.Get(ctx, stateKeyPrefix+state)
	if err != nil {
		return nil, fmt.Errorf("failed to look up authorization state: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var record AuthorizationState
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization state: %w", err)
	}
	return &record, nil
}

// GenerateCode creates a single-use authorization code bound to the user and
// tenant after consent.
func (m *FlowManager) GenerateCode(ctx context.Context, userID, orgID, envID string) (string, error) {
	code, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	record, err := json.Marshal(authorizationCode{
		UserID:         userID,
		OrganizationID: orgID,
		EnvironmentID:  envID,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	if err := m.store.Set(ctx, codeKeyPrefix+code, string(record), m.config.CodeTTL); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	return code, nil
}

// ExchangeCode atomically consumes the authorization code and mints an
// access token bound to the same org/env/user. The read-and-delete is a
// single store operation, so N concurrent exchanges of the same code yield
// exactly one token; the rest fail with ErrCodeInvalid.
func (m *FlowManager) ExchangeCode(ctx context.Context, code string) (*AccessToken, error) {
	value, ok, err := m.store.GetDel(ctx, codeKeyPrefix+code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !ok {
		return nil, ErrCodeInvalid
	}

	var record authorizationCode
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	tokenString, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := time.Now().UTC()
	token := &AccessToken{
		Token:          tokenString,
		OrganizationID: record.OrganizationID,
		EnvironmentID:  record.EnvironmentID,
		Subject:        record.UserID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.config.TokenTTL),
	}

	data, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access token: %w", err)
	}
	if err := m.store.Set(ctx, tokenKeyPrefix+tokenString, string(data), m.config.TokenTTL); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	logger.Infow("issued access token",
		"subject", record.UserID,
		"organization_id", record.OrganizationID,
		"environment_id", record.EnvironmentID)

	return token, nil
}

// IntrospectToken returns the token record without consuming it, or nil when
// the token is unknown or expired.
func (m *FlowManager) IntrospectToken(ctx context.Context, token string) (*AccessToken, error) {
	value, ok, err := m.store.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var record AccessToken
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	record.Token = token

	_, revoked, err := m.store.Get(ctx, revokedKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up revocation mark: %w", err)
	}
	if revoked {
		record.Revoked = true
	}
	return &record, nil
}

// RevokeToken revokes an access token. Returns true on the first revoke of a
// live token and false when the token is unknown, expired, or already
// revoked, so callers can distinguish "did the work" from "nothing to do".
//
// Revocation is a separate SetNX tombstone keyed by the token, so the token
// record itself is never deleted or rewritten: introspection sees the record
// at every point during a revoke, a crash mid-revoke leaves no half-state,
// and concurrent revokers race on the tombstone where exactly one observes
// the write.
func (m *FlowManager) RevokeToken(ctx context.Context, token string) (bool, error) {
	value, ok, err := m.store.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		return false, fmt.Errorf("failed to look up access token: %w", err)
	}
	if !ok {
		return false, nil
	}

	var record AccessToken
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return false, fmt.Errorf("failed to unmarshal access token: %w", err)
	}

	remaining := time.Until(record.ExpiresAt)
	if remaining <= 0 {
		// Token expired between storage and revocation; nothing to mark.
		return false, nil
	}

	stored, err := m.store.SetNX(ctx, revokedKeyPrefix+token, "1", remaining)
	if err != nil {
		return false, fmt.Errorf("failed to store revocation mark: %w", err)
	}
	if !stored {
		return false, nil
	}

	logger.Infow("revoked access token",
		"subject", record.Subject,
		"organization_id", record.OrganizationID)
	return true, nil
}

// generateToken returns a fresh unguessable token: 256 bits from crypto/rand,
// base64url without padding.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
